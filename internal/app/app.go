// ABOUTME: Builds the engine and its collaborators from configuration
// ABOUTME: Shared by the HTTP daemon and the terminal UI

package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/parley/internal/catalog"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/engine"
	"github.com/2389/parley/internal/ledger"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/server"
)

// App owns one engine and the optional ledger and metrics attached to it.
type App struct {
	Config  *config.Config
	Catalog *catalog.Catalog
	Engine  *engine.Engine

	// Ledger is nil unless ledger.enabled.
	Ledger *ledger.Store
	// Metrics is nil unless metrics.enabled.
	Metrics *metrics.Metrics

	logger *slog.Logger
}

// Build validates cfg and wires the engine. Close releases everything.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		Config:  cfg,
		Catalog: catalog.New(cfg.CatalogProviders()),
		logger:  logger,
	}

	var observers []conversation.TurnObserver
	var reporter engine.Reporter

	if cfg.Ledger.Enabled {
		store, err := ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening turn ledger: %w", err)
		}
		a.Ledger = store
		observers = append(observers, store)
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(true)
		observers = append(observers, a.Metrics)
		reporter = a.Metrics
	}

	eng, err := engine.New(engine.Options{
		Catalog:      a.Catalog,
		DefaultModel: cfg.Engine.DefaultModel,
		EventBuffer:  cfg.Engine.EventBuffer,
		Observers:    observers,
		Reporter:     reporter,
		Logger:       logger,
	})
	if err != nil {
		if a.Ledger != nil {
			_ = a.Ledger.Close()
		}
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	a.Engine = eng
	return a, nil
}

// NewServer builds the HTTP API over this app's engine.
func (a *App) NewServer() (*server.Server, error) {
	opts := server.Options{
		Addr:            a.Config.Server.HTTPAddr,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		Engine:          a.Engine,
		Logger:          a.logger,
	}
	if a.Ledger != nil {
		opts.Ledger = a.Ledger
	}
	if a.Metrics != nil {
		opts.Metrics = a.Metrics.Handler()
		opts.MetricsPath = a.Config.Metrics.Path
	}
	return server.New(opts)
}

// Close stops every session, waits for their turns and closes the ledger.
func (a *App) Close() error {
	a.Engine.Close()

	var errs []error
	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger close: %w", err))
		}
	}
	return errors.Join(errs...)
}
