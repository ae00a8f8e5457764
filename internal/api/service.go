package api

import (
	"github.com/susamn/obsidian-web/internal/index/store"
	"github.com/susamn/obsidian-web/internal/indexer"
)

// IndexService is the read side of the indexing pipeline used by the handlers.
// *indexer.Service satisfies it.
type IndexService interface {
	State() indexer.State
	Status() indexer.Status
	Metrics() indexer.Metrics
	DocCount() (uint64, error)
	Search(query string, limit int) ([]store.SearchResult, error)
	Backlinks(target string) ([]string, error)
}

var _ IndexService = (*indexer.Service)(nil)
