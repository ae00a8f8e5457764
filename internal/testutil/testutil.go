// Package testutil provides shared test helpers for setting up vaults and indexes.
package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/susamn/obsidian-web/internal/index/store"
	"github.com/susamn/obsidian-web/internal/models"
	"github.com/susamn/obsidian-web/internal/storage"
)

// TestVault creates a temporary vault directory holding files (relative
// slash paths to content) and a storage.Provider rooted at it.
func TestVault(t *testing.T, files map[string]string) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	WriteFiles(t, vaultDir, files)
	fs, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, fs
}

// WriteFiles writes files under dir, creating parent directories.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// MemIndex is an in-memory store.Index for tests.
type MemIndex struct {
	mu      sync.Mutex
	docs    map[string]models.Document
	batches []int
	closed  bool

	// OnUpsert, when set, runs before every UpsertBatch. A non-nil return
	// fails the batch.
	OnUpsert func(docs []models.Document) error
	// OpenErr, when set, is returned by Opener.
	OpenErr error
}

// NewMemIndex creates an empty MemIndex.
func NewMemIndex() *MemIndex {
	return &MemIndex{docs: make(map[string]models.Document)}
}

// Opener returns a store.Opener that always hands out m.
func (m *MemIndex) Opener() store.Opener {
	return func(string) (store.Index, error) {
		if m.OpenErr != nil {
			return nil, m.OpenErr
		}
		m.mu.Lock()
		m.closed = false
		m.mu.Unlock()
		return m, nil
	}
}

func (m *MemIndex) UpsertBatch(docs []models.Document) error {
	if m.OnUpsert != nil {
		if err := m.OnUpsert(docs); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memindex: closed")
	}
	for _, d := range docs {
		m.docs[d.Path] = d
	}
	m.batches = append(m.batches, len(docs))
	return nil
}

func (m *MemIndex) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memindex: closed")
	}
	delete(m.docs, key)
	return nil
}

func (m *MemIndex) DocCount() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.docs)), nil
}

func (m *MemIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemIndex) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemIndex) Checksum(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[key].Checksum, nil
}

// Search matches query as a case-insensitive substring of title or body.
func (m *MemIndex) Search(query string, limit int) ([]store.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	var out []store.SearchResult
	for _, d := range m.docs {
		if strings.Contains(strings.ToLower(d.Title), q) || strings.Contains(strings.ToLower(d.Body), q) {
			out = append(out, store.SearchResult{Path: d.Path, Title: d.Title})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Doc returns the stored document for path.
func (m *MemIndex) Doc(path string) (models.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[path]
	return d, ok
}

// Batches returns the size of every successful UpsertBatch call.
func (m *MemIndex) Batches() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batches...)
}

// Closed reports whether Close was called since the last open.
func (m *MemIndex) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var (
	_ store.Index       = (*MemIndex)(nil)
	_ store.Searcher    = (*MemIndex)(nil)
	_ store.Lister      = (*MemIndex)(nil)
	_ store.Checksummer = (*MemIndex)(nil)
)
