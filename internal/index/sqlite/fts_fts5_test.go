//go:build sqlite_fts5

package sqlite

import (
	"testing"

	"github.com/susamn/obsidian-web/internal/models"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes_fts`).Scan(&count); err != nil {
		t.Fatalf("notes_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	doc := models.Document{
		Path:     "fts.md",
		Title:    "FTS Note",
		Checksum: "f1",
		Tags:     []string{"search"},
		Body:     "The vault provides powerful full-text search capabilities.",
	}
	if err := db.UpsertBatch([]models.Document{doc}); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Path != "fts.md" {
		t.Errorf("path = %q", results[0].Path)
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertBatch([]models.Document{note("gone.md", "", "g", "vanishing content")})
	_ = db.Delete("gone.md")

	results, _ := db.Search("vanishing", 10)
	for _, r := range results {
		if r.Path == "gone.md" {
			t.Error("deleted note still in FTS index")
		}
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertBatch([]models.Document{note("evo.md", "Old", "1", "original text")})
	_ = db.UpsertBatch([]models.Document{note("evo.md", "New", "2", "replacement text")})

	results, _ := db.Search("original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search("replacement", 10)
	if len(results) != 1 || results[0].Title != "New" {
		t.Errorf("FTS not updated: %+v", results)
	}
}
