// Package main is the entrypoint for the Stacktrap ingestion server.
package main

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

	"github.com/probelab/stacktrap/internal/api"
	"github.com/probelab/stacktrap/internal/api/handler"
	mw "github.com/probelab/stacktrap/internal/api/middleware"
	"github.com/probelab/stacktrap/internal/api/response"
	"github.com/probelab/stacktrap/internal/config"
	"github.com/probelab/stacktrap/internal/ingest"
	"github.com/probelab/stacktrap/internal/resolver"
	"github.com/probelab/stacktrap/internal/stack"
	"github.com/probelab/stacktrap/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "db", cfg.DB.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the embedded store — unavailability here is fatal
	db, err := store.Open(cfg.DB.Path, cfg.DB.Compression)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	slog.Info("store opened", "compression", cfg.DB.Compression)

	// 3. Scheduled maintenance, independent of request traffic
	maint := store.StartMaintenance(db)
	defer maint.Stop()

	// 4. Build the ingestion pipeline
	fetcher := resolver.NewFetcher(cfg.Ingest.SourceRoot, cfg.Ingest.FetchTimeout)
	classifier := stack.Classifier{Root: cfg.Ingest.SourceRoot}
	normalizer := ingest.NewNormalizer(classifier, fetcher,
		cfg.Ingest.MaxStackFrames, cfg.Ingest.MaxEventBytes)
	engine := ingest.NewEngine(db, normalizer, cfg.Ingest.MaxStackChars)

	// 5. Build router with dependencies
	deps := api.Dependencies{
		AdminAuth: mw.NewAdminAuth(cfg.Server.AdminToken),

		HealthHandler: healthHandler(db),
		IngestHandler: handler.NewIngestHandler(engine),
		PingHandler:   handler.NewPingHandler(engine),

		CreateProject: handler.NewCreateProjectHandler(db),
		ListProjects:  handler.NewListProjectsHandler(db),
		ListIssues:    handler.NewListIssuesHandler(db),
		IssueEvents:   handler.NewIssueEventsHandler(db),
		UpdateIssue:   handler.NewUpdateIssueHandler(db),
	}
	router := api.NewRouter(deps)

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks store connectivity.
func healthHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Ping(r.Context()); err != nil {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"Store unavailable", nil)
			return
		}
		response.JSON(w, map[string]any{"status": "ok"})
	}
}
