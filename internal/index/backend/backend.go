// Package backend selects a search-engine implementation by name.
package backend

import (
	"fmt"
	"strings"

	"github.com/susamn/obsidian-web/internal/index/bleve"
	"github.com/susamn/obsidian-web/internal/index/sqlite"
	"github.com/susamn/obsidian-web/internal/index/store"
)

const (
	Bleve  = "bleve"
	SQLite = "sqlite"
)

// Names lists the supported backends.
var Names = []string{Bleve, SQLite}

// DefaultPath returns the index location used when none is configured.
func DefaultPath(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Bleve:
		return "./data/vault.bleve"
	case SQLite:
		return "./data/vault.db"
	default:
		return ""
	}
}

// Opener returns the store.Opener for name. An empty name selects bleve.
func Opener(name string) (store.Opener, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Bleve:
		return bleve.Opener, nil
	case SQLite:
		return sqlite.Opener, nil
	default:
		return nil, fmt.Errorf("backend: unknown index backend %q", name)
	}
}
