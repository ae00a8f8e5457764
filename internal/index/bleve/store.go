// Package bleve implements the search-engine port on top of a bleve index,
// with per-document bookkeeping in a bbolt side database.
package bleve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"go.etcd.io/bbolt"

	"github.com/susamn/obsidian-web/internal/index/store"
	"github.com/susamn/obsidian-web/internal/models"
)

const (
	metaFile        = "vault-meta.db"
	metaLockTimeout = time.Second
)

// Store is a bleve-backed store.Index.
type Store struct {
	path string
	idx  bleve.Index
	meta *bbolt.DB
}

// Open opens the index at path, creating it with the vault mapping when it
// does not exist yet.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("bleve: index path is required")
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("bleve: create parent: %w", mkErr)
		}
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("bleve: open %s: %w", path, err)
	}

	meta, err := openMeta(filepath.Join(path, metaFile))
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("bleve: open meta: %w", err)
	}
	err = meta.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketFiles))
		return err
	})
	if err != nil {
		_ = meta.Close()
		_ = idx.Close()
		return nil, fmt.Errorf("bleve: init meta: %w", err)
	}

	return &Store{path: path, idx: idx, meta: meta}, nil
}

// openMeta gives up after metaLockTimeout when another process holds the
// file lock.
func openMeta(path string) (*bbolt.DB, error) {
	return bbolt.Open(path, 0o600, &bbolt.Options{Timeout: metaLockTimeout})
}

// Opener adapts Open to store.Opener.
func Opener(location string) (store.Index, error) {
	s, err := Open(location)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the index and the meta database.
func (s *Store) Close() error {
	var errs []error
	if s.idx != nil {
		errs = append(errs, s.idx.Close())
	}
	if s.meta != nil {
		errs = append(errs, s.meta.Close())
	}
	return errors.Join(errs...)
}

// UpsertBatch indexes docs in a single bleve batch, then records their
// checksums.
func (s *Store) UpsertBatch(docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := s.idx.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.Path, toFields(d)); err != nil {
			return fmt.Errorf("bleve: batch %s: %w", d.Path, err)
		}
	}
	if err := s.idx.Batch(batch); err != nil {
		return fmt.Errorf("bleve: apply batch: %w", err)
	}

	now := nowUnix()
	return s.meta.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketFiles))
		for _, d := range docs {
			buf, err := encodeMeta(fileMeta{Checksum: d.Checksum, Title: d.Title, IndexedAt: now})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(d.Path), buf); err != nil {
				return fmt.Errorf("bleve: put meta %s: %w", d.Path, err)
			}
		}
		return nil
	})
}

// Delete removes key from the index and the meta database.
func (s *Store) Delete(key string) error {
	if err := s.idx.Delete(key); err != nil {
		return fmt.Errorf("bleve: delete %s: %w", key, err)
	}
	return s.meta.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketFiles)).Delete([]byte(key))
	})
}

// DocCount returns the number of documents in the index.
func (s *Store) DocCount() (uint64, error) {
	n, err := s.idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("bleve: doc count: %w", err)
	}
	return n, nil
}

// Checksum returns the stored checksum for key, or "" when unknown.
func (s *Store) Checksum(key string) (string, error) {
	var cs string
	err := s.meta.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(bucketFiles)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		m, err := decodeMeta(raw)
		if err != nil {
			return err
		}
		cs = m.Checksum
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("bleve: checksum %s: %w", key, err)
	}
	return cs, nil
}

// Keys returns every key recorded in the meta database.
func (s *Store) Keys() ([]string, error) {
	var out []string
	err := s.meta.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketFiles)).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bleve: keys: %w", err)
	}
	return out, nil
}

// Search runs a query-string query and returns hits with highlighted body
// fragments.
func (s *Store) Search(query string, limit int) ([]store.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	req.Fields = []string{fieldTitle}
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.Fields = []string{fieldBody}

	res, err := s.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve: search: %w", err)
	}

	out := make([]store.SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := store.SearchResult{Path: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields[fieldTitle].(string); ok {
			r.Title = v
		}
		if frags := hit.Fragments[fieldBody]; len(frags) > 0 {
			r.Snippet = strings.TrimSpace(frags[0])
		}
		out = append(out, r)
	}
	return out, nil
}

// Backlinks returns the keys of documents whose wikilinks include target.
func (s *Store) Backlinks(target string) ([]string, error) {
	n, err := s.idx.DocCount()
	if err != nil {
		return nil, fmt.Errorf("bleve: backlinks: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	q := bleve.NewTermQuery(target)
	q.SetField(fieldWikilinks)
	req := bleve.NewSearchRequestOptions(q, int(n), 0, false)
	req.SortBy([]string{"_id"})

	res, err := s.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve: backlinks: %w", err)
	}
	out := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, hit.ID)
	}
	return out, nil
}

func toFields(d models.Document) map[string]any {
	return map[string]any{
		fieldPath:        d.Path,
		fieldTitle:       d.Title,
		fieldBody:        d.Body,
		fieldTags:        d.Tags,
		fieldWikilinks:   d.Wikilinks,
		fieldFrontmatter: d.Frontmatter,
	}
}

var (
	_ store.Index       = (*Store)(nil)
	_ store.Searcher    = (*Store)(nil)
	_ store.Lister      = (*Store)(nil)
	_ store.Checksummer = (*Store)(nil)
	_ store.Backlinker  = (*Store)(nil)
)
