package bleve

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	fieldPath        = "path"
	fieldTitle       = "title"
	fieldBody        = "body"
	fieldTags        = "tags"
	fieldWikilinks   = "wikilinks"
	fieldFrontmatter = "frontmatter"
)

func buildMapping() mapping.IndexMapping {
	idxMapping := bleve.NewIndexMapping()
	idxMapping.DefaultAnalyzer = "standard"

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"
	keyword.Store = true
	keyword.Index = true
	keyword.DocValues = true

	text := bleve.NewTextFieldMapping()
	text.Analyzer = "standard"
	text.Store = true
	text.Index = true
	text.IncludeTermVectors = true

	doc.AddFieldMappingsAt(fieldPath, keyword)
	doc.AddFieldMappingsAt(fieldTags, keyword)
	doc.AddFieldMappingsAt(fieldWikilinks, keyword)
	doc.AddFieldMappingsAt(fieldTitle, text)
	doc.AddFieldMappingsAt(fieldBody, text)
	doc.AddFieldMappingsAt(fieldFrontmatter, text)

	idxMapping.DefaultMapping = doc
	return idxMapping
}
