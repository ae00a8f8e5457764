// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/susamn/obsidian-web/internal/api"
	"github.com/susamn/obsidian-web/internal/index/backend"
	"github.com/susamn/obsidian-web/internal/indexer"
	"github.com/susamn/obsidian-web/internal/mcpserver"
	"github.com/susamn/obsidian-web/internal/sse"
	"github.com/susamn/obsidian-web/internal/storage"
	"github.com/susamn/obsidian-web/internal/watcher"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := app.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return app, nil
}

// setup installs the logger and builds the indexing service and vault view.
func (app *application) setup() (*slog.Logger, *indexer.Service, storage.Provider, error) {
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("index_backend", cfg.Index.Backend),
		slog.String("index_path", cfg.Index.Path),
		slog.Bool("watch", cfg.Watch.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create vault dir: %w", err)
	}

	vault, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init storage: %w", err)
	}

	open, err := backend.Opener(cfg.Index.Backend)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init index: %w", err)
	}

	svc := indexer.New(indexer.Config{
		VaultPath:      cfg.Vault.Path,
		IndexPath:      cfg.Index.Path,
		Open:           open,
		BatchSize:      cfg.Index.BatchSize,
		FlushThreshold: cfg.Index.FlushThreshold,
		FlushInterval:  cfg.Index.FlushInterval,
		BufferCapacity: cfg.Index.BufferCapacity,
		Logger:         logger,
	})
	return logger, svc, vault, nil
}

// watch forwards vault changes to the service until ctx ends.
func (app *application) watch(ctx context.Context, vault storage.Provider, svc *indexer.Service, logger *slog.Logger) error {
	if !app.config.Watch.Enabled {
		return nil
	}
	if err := watcher.Watch(ctx, vault, logger, svc.SubmitChange, svc.IndexedKeys); err != nil {
		logger.Error("watcher failed", slog.String("error", err.Error()))
	}
	return nil
}

// Run starts the HTTP server and the indexing pipeline with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, svc, vault, err := app.setup()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := svc.Start(runCtx); err != nil {
		return fmt.Errorf("start indexer: %w", err)
	}

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	unsubscribe := svc.Subscribe(func(ev indexer.IndexEvent) {
		broker.PublishIndexEvent(ev.ID.String(), ev.Kind, ev.Paths)
	})
	defer unsubscribe()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Mount("/health", api.HealthRouter(svc))

	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return app.watch(gCtx, vault, svc, logger)
	})

	// Relay status records to SSE clients until the service reaches a terminal state.
	g.Go(func() error {
		for st := range svc.StatusUpdates() {
			broker.Publish(sse.Event{Type: "status", Data: st})
			if st.State == indexer.StateError {
				logger.Error("Indexer failed", slog.String("error", st.Error))
			}
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		if err := svc.Stop(); err != nil {
			logger.Error("Indexer shutdown error", slog.String("error", err.Error()))
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		_ = svc.Stop()
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools over stdio while the pipeline keeps the index
// current. Logs go to stderr because stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	logger, svc, vault, err := app.setup()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := svc.Start(runCtx); err != nil {
		return fmt.Errorf("start indexer: %w", err)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			logger.Error("Indexer shutdown error", slog.String("error", err.Error()))
		}
	}()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		_ = app.watch(runCtx, vault, svc, logger)
	}()
	defer func() {
		cancel()
		<-watchDone
	}()

	logger.Info("MCP server starting on stdio")
	if err := mcpserver.New(svc, vault, app.version).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
