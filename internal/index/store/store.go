// Package store defines the search-engine port used by the indexing pipeline.
package store

import "github.com/susamn/obsidian-web/internal/models"

// Index is a handle to an on-disk full-text index keyed by vault path.
type Index interface {
	// UpsertBatch writes docs in one batch; an existing key is overwritten.
	UpsertBatch(docs []models.Document) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	DocCount() (uint64, error)
	Close() error
}

// Opener opens the index at location, creating it when it does not exist.
type Opener func(location string) (Index, error)

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string  `json:"path"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// Searcher is implemented by engines that can answer text queries.
type Searcher interface {
	Search(query string, limit int) ([]SearchResult, error)
}

// Lister is implemented by engines that can enumerate stored keys.
type Lister interface {
	Keys() ([]string, error)
}

// Checksummer is implemented by engines that remember the content checksum
// of each stored document. An unknown key yields "" and no error.
type Checksummer interface {
	Checksum(key string) (string, error)
}

// Backlinker is implemented by engines that keep the wikilink graph.
type Backlinker interface {
	Backlinks(target string) ([]string, error)
}
