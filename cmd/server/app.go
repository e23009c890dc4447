package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/phrazzld/taskrelay/internal/config"
	"github.com/phrazzld/taskrelay/internal/connectivity"
	"github.com/phrazzld/taskrelay/internal/events"
	"github.com/phrazzld/taskrelay/internal/platform/postgres"
	"github.com/phrazzld/taskrelay/internal/platform/sqlite"
	"github.com/phrazzld/taskrelay/internal/task"
	"github.com/phrazzld/taskrelay/internal/webhook"
)

// application holds the wired components and their shutdown hooks.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	engine  *task.Engine
	runner  *task.Runner
	monitor connectivity.Monitor
	closers []func() error
}

// newApplication wires the persisted source, engine, executor registry,
// connectivity monitor, and runner. The engine is seeded with an initial
// snapshot so queries work before the first mutation.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	source, err := app.openSource(ctx)
	if err != nil {
		return nil, err
	}

	emitter := events.NewEmitter(logger)
	app.engine = task.NewEngine(source, emitter, logger)

	snapshot, err := source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial task snapshot: %w", err)
	}
	app.engine.Reconcile(snapshot)

	registry := task.NewRegistry()
	registry.Register(webhook.Kind, webhook.NewExecutor(nil, logger))

	app.monitor = app.buildMonitor(ctx)

	runnerCfg := task.RunnerConfig{
		Parallelism: cfg.Runner.Parallelism,
		Retry: task.RetryConfig{
			InitialInterval:     cfg.Runner.RetryInitialInterval,
			MaxInterval:         cfg.Runner.RetryMaxInterval,
			MaxElapsedTime:      cfg.Runner.RetryMaxElapsedTime,
			Multiplier:          task.DefaultRetryConfig().Multiplier,
			RandomizationFactor: task.DefaultRetryConfig().RandomizationFactor,
		},
	}
	app.runner = task.NewRunner(app.engine, source, registry, app.monitor, runnerCfg, logger)

	return app, nil
}

// openSource selects the persistence backend by URL scheme: postgres URLs
// get the shared PostgreSQL source, anything else is a SQLite path.
func (app *application) openSource(ctx context.Context) (task.Source, error) {
	url := app.config.Store.URL

	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		db, err := sql.Open("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to reach postgres store: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		app.closers = append(app.closers, db.Close)
		app.logger.Info("using postgres task store")
		return postgres.New(db, app.logger), nil
	}

	src, err := sqlite.New(ctx, url, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	app.closers = append(app.closers, src.Close)
	app.logger.Info("using sqlite task store", "path", url)
	return src, nil
}

// buildMonitor starts the connectivity prober when configured; without a
// probe URL the daemon assumes it is always online.
func (app *application) buildMonitor(ctx context.Context) connectivity.Monitor {
	if app.config.Connectivity.ProbeURL == "" {
		return connectivity.NewManual(true)
	}
	prober := connectivity.NewProber(connectivity.ProberConfig{
		URL:      app.config.Connectivity.ProbeURL,
		Interval: app.config.Connectivity.ProbeInterval,
	}, app.logger)
	prober.Start(ctx)
	return prober
}

// Serve starts the runner and the HTTP server, then blocks until the
// context is cancelled and both have drained.
func (app *application) Serve(ctx context.Context) error {
	if err := app.runner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		app.runner.Stop()
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	app.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("http shutdown failed", "error", err)
	}

	app.runner.Stop()
	return nil
}

// Close releases the persistence resources.
func (app *application) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error("failed to close resource", "error", err)
		}
	}
}
