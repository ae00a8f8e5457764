package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/susamn/obsidian-web/internal/apperr"
	"github.com/susamn/obsidian-web/internal/indexer"
)

const maxSearchLimit = 100

// Handler holds API route handlers.
type Handler struct {
	svc IndexService
}

// NewHandler creates a new Handler.
func NewHandler(svc IndexService) *Handler {
	return &Handler{svc: svc}
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready handles GET /health/ready. It answers 503 until the initial
// indexing pass has finished.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	state := h.svc.State()
	if state != indexer.StateReady {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", State: state.String()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", State: state.String()})
}

// Status handles GET /api/status.
//
//	@Summary		Current indexing state and progress
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{Status: h.svc.Status()}
	if n, err := h.svc.DocCount(); err == nil {
		resp.Documents = n
	} else if !errors.Is(err, apperr.ErrNotReady) {
		slog.Error("doc count failed", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /api/metrics.
//
//	@Summary		Pipeline counters
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	indexer.Metrics
//	@Security		BearerAuth
//	@Router			/metrics [get]
func (h *Handler) Metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Metrics())
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	hits, err := h.svc.Search(q, limit)
	if err != nil {
		h.writeServiceError(w, "search", err, slog.String("query", q))
		return
	}
	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{Path: hit.Path, Title: hit.Title, Snippet: hit.Snippet, Score: hit.Score}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Backlinks handles GET /api/backlinks.
//
//	@Summary		Notes linking to a target
//	@Tags			search
//	@Produce		json
//	@Param			target	query		string	true	"Link target (wikilink text)"
//	@Success		200		{object}	BacklinksResponse
//	@Failure		400		{object}	errResponse
//	@Failure		501		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("target"))
	if target == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'target' is required"))
		return
	}
	links, err := h.svc.Backlinks(target)
	if err != nil {
		h.writeServiceError(w, "backlinks", err, slog.String("target", target))
		return
	}
	if links == nil {
		links = []string{}
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{Target: target, Backlinks: links})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error, attrs ...any) {
	switch {
	case errors.Is(err, apperr.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("index not ready"))
	case errors.Is(err, apperr.ErrUnsupported):
		writeJSON(w, http.StatusNotImplemented, errorBody(op+" not supported by index backend"))
	default:
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
