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

	"github.com/halvard/muninn/internal/api"
	"github.com/halvard/muninn/internal/approval"
	"github.com/halvard/muninn/internal/blockstore"
	"github.com/halvard/muninn/internal/diff"
	"github.com/halvard/muninn/internal/index"
	"github.com/halvard/muninn/internal/mcpserver"
	"github.com/halvard/muninn/internal/schema"
	"github.com/halvard/muninn/internal/sse"
	"github.com/halvard/muninn/internal/storage"
)

// deps bundles the shared service graph both entrypoints build on.
type deps struct {
	provider storage.Provider
	store    *blockstore.Store
	db       *index.DB
}

func buildDeps(cfg *Config, logger *slog.Logger) (*deps, error) {
	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	provider, err := storage.NewFS(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	schemas := schema.Default()
	if cfg.Store.SchemasPath != "" {
		schemas, err = schema.LoadFile(cfg.Store.SchemasPath)
		if err != nil {
			return nil, fmt.Errorf("load schemas: %w", err)
		}
	}
	logger.Info("Schemas loaded", slog.Any("labels", schemas.Labels()))

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if err := index.Sync(db, provider, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	return &deps{
		provider: provider,
		store:    blockstore.New(provider, schemas),
		db:       db,
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	d, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer d.db.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Build the service graph and router.
	engine := diff.New(d.store, d.db, logger)
	svc := approval.New(d.store, engine, d.db, broker, logger)
	apiRouter := api.NewRouter(svc, api.AuthTokens{
		Enabled:  cfg.Auth.AuthEnabled(),
		Agent:    cfg.Auth.AgentToken,
		Reviewer: cfg.Auth.ReviewerToken,
	}, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the store directory so manual edits land in the index and
	// reach SSE subscribers.
	g.Go(func() error {
		err := index.Watch(gCtx, d.db, d.provider, cfg.Store.Path, logger, func(kind, owner, label string) {
			broker.PublishBlockEvent("block."+kind, owner, label)
		})
		if err != nil {
			// The server still works without the watcher; manual edits are
			// picked up on the next startup sync.
			logger.Warn("watcher unavailable", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
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

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdio. Logs go to stderr because the
// transport owns stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	d, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer d.db.Close()

	engine := diff.New(d.store, d.db, logger)
	svc := approval.New(d.store, engine, d.db, approval.NopPublisher{}, logger)

	logger.Info("Starting MCP server on stdio")
	return mcpserver.New(svc).ServeStdio()
}
