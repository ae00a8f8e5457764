package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/susamn/obsidian-web/internal/models"
)

// UpsertBatch writes docs, their FTS entries, and their links in one transaction.
func (db *DB) UpsertBatch(docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	noteStmt, err := tx.Prepare(`
		INSERT INTO notes (path, title, checksum, tags, frontmatter, body, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title       = excluded.title,
			checksum    = excluded.checksum,
			tags        = excluded.tags,
			frontmatter = excluded.frontmatter,
			body        = excluded.body,
			indexed_at  = excluded.indexed_at
	`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare note upsert: %w", err)
	}
	defer noteStmt.Close()

	linkStmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare link insert: %w", err)
	}
	defer linkStmt.Close()

	now := time.Now().UTC()
	for _, d := range docs {
		tags := d.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, _ := json.Marshal(tags)

		if _, err := noteStmt.Exec(d.Path, d.Title, d.Checksum, string(tagsJSON), d.Frontmatter, d.Body, now); err != nil {
			return fmt.Errorf("sqlite: upsert note %s: %w", d.Path, err)
		}
		if err := ftsUpsert(tx, d.Path, d.Title, d.Body, d.Tags); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, d.Path); err != nil {
			return fmt.Errorf("sqlite: clear links %s: %w", d.Path, err)
		}
		for _, target := range d.Wikilinks {
			if _, err := linkStmt.Exec(d.Path, target); err != nil {
				return fmt.Errorf("sqlite: insert link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Delete removes a note, its FTS entry, and outgoing links.
func (db *DB) Delete(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, path); err != nil {
		return fmt.Errorf("sqlite: delete links %s: %w", path, err)
	}
	if _, err := tx.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("sqlite: delete note %s: %w", path, err)
	}
	return tx.Commit()
}

// DocCount returns the number of indexed notes.
func (db *DB) DocCount() (uint64, error) {
	var n uint64
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: doc count: %w", err)
	}
	return n, nil
}

// Checksum returns the stored checksum for a note, or empty string if not found.
func (db *DB) Checksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM notes WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: checksum %s: %w", path, err)
	}
	return cs, nil
}

// Keys returns every indexed note path.
func (db *DB) Keys() ([]string, error) {
	return db.queryStrings(`SELECT path FROM notes ORDER BY path`)
}

// Backlinks returns all note paths that link to the given target.
func (db *DB) Backlinks(target string) ([]string, error) {
	return db.queryStrings(`SELECT source FROM links WHERE target = ? ORDER BY source`, target)
}

func (db *DB) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
