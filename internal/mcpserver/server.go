// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the vault index to LLM clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/susamn/obsidian-web/internal/apperr"
	"github.com/susamn/obsidian-web/internal/index/store"
	"github.com/susamn/obsidian-web/internal/indexer"
	"github.com/susamn/obsidian-web/internal/storage"
)

const (
	defaultSearchLimit = 20
	statusURI          = "vault://index-status"
)

// Index is the part of the indexing pipeline the tools read from.
type Index interface {
	Status() indexer.Status
	Metrics() indexer.Metrics
	DocCount() (uint64, error)
	Search(query string, limit int) ([]store.SearchResult, error)
	Backlinks(target string) ([]string, error)
}

// Server wraps the MCP server with the vault tools.
type Server struct {
	mcp   *server.MCPServer
	index Index
	vault storage.Provider
}

// New creates a new MCP server with all tools registered.
func New(idx Index, vault storage.Provider, version string) *Server {
	s := &Server{index: idx, vault: vault}

	s.mcp = server.NewMCPServer(
		"obsidian-web",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through note titles, bodies and frontmatter."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("index_status",
		mcp.WithDescription("Report the indexing state, progress and pipeline counters."),
	), s.indexStatus)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that link to the specified note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Wikilink target of the note to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all indexable notes or the notes in a specific folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listNotes)

	s.mcp.AddResource(
		mcp.NewResource(statusURI, "Index Status",
			mcp.WithResourceDescription("Current indexing state and pipeline counters as JSON."),
			mcp.WithMIMEType("application/json"),
		),
		s.readStatusResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type statusPayload struct {
	indexer.Status
	Documents uint64          `json:"documents"`
	Metrics   indexer.Metrics `json:"metrics"`
}

func (s *Server) statusJSON() ([]byte, error) {
	p := statusPayload{Status: s.index.Status(), Metrics: s.index.Metrics()}
	if n, err := s.index.DocCount(); err == nil {
		p.Documents = n
	}
	return json.MarshalIndent(p, "", "  ")
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", defaultSearchLimit)
	results, err := s.index.Search(query, limit)
	if err != nil {
		return mcp.NewToolResultError(toolError(err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no results"), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) indexStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := s.statusJSON()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.index.Backlinks(path)
	if err != nil {
		return mcp.NewToolResultError(toolError(err)), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rel, err := s.vault.Normalize(path)
	if err != nil || !s.vault.ShouldInclude(rel, false) {
		return mcp.NewToolResultError(fmt.Sprintf("not a note: %s", path)), nil
	}
	data, err := s.vault.Read(rel)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := strings.Trim(req.GetString("folder", ""), "/")

	var paths []string
	err := s.vault.Walk(ctx, func(rel string) error {
		if folder == "" || strings.HasPrefix(rel, folder+"/") {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no notes found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readStatusResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := s.statusJSON()
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      statusURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}

func toolError(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNotReady):
		return "index is not ready yet; check index_status"
	case errors.Is(err, apperr.ErrUnsupported):
		return "not supported by the configured index backend"
	default:
		return err.Error()
	}
}
