package api

import "github.com/susamn/obsidian-web/internal/indexer"

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path    string  `json:"path" example:"notes/hello.md" validate:"required"`
	Title   string  `json:"title" example:"Hello" validate:"required"`
	Snippet string  `json:"snippet" example:"...matched text..." validate:"required"`
	Score   float64 `json:"score" example:"1.25"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// StatusResponse is the pipeline state together with the indexed document count.
type StatusResponse struct {
	indexer.Status
	Documents uint64 `json:"documents" example:"42"`
}

// BacklinksResponse lists the notes linking to a target.
type BacklinksResponse struct {
	Target    string   `json:"target" example:"notes/world" validate:"required"`
	Backlinks []string `json:"backlinks" validate:"required"`
}

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status string `json:"status" example:"ok" validate:"required"`
	State  string `json:"state,omitempty" example:"ready"`
}
