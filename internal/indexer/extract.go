package indexer

import (
	"fmt"

	"github.com/susamn/obsidian-web/internal/checksum"
	"github.com/susamn/obsidian-web/internal/models"
	"github.com/susamn/obsidian-web/internal/parser"
	"github.com/susamn/obsidian-web/internal/storage"
)

// extractDocument reads rel from the vault and parses it into a Document.
func extractDocument(fs storage.Provider, rel string) (models.Document, error) {
	data, err := fs.Read(rel)
	if err != nil {
		return models.Document{}, err
	}
	return buildDocument(rel, data)
}

func buildDocument(rel string, data []byte) (models.Document, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return models.Document{}, fmt.Errorf("extract %s: %w", rel, err)
	}
	return models.Document{
		Path:        rel,
		Title:       res.Title,
		Body:        res.Body,
		Tags:        res.Tags,
		Wikilinks:   res.Links,
		Frontmatter: res.Frontmatter,
		Checksum:    checksum.Sum(data),
	}, nil
}
