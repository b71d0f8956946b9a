// Package app is the small process-context struct spec.md §9 calls for
// in place of module-level singletons: the DB pool and logger are
// built once at startup and passed explicitly, with a single Close
// call on shutdown.
package app

import (
	"context"

	"go.uber.org/zap"

	"deliveryengine/internal/config"
	"deliveryengine/internal/db"
)

// App bundles the resources every process (API, worker, bulk-enqueue)
// needs at startup.
type App struct {
	Config *config.Config
	Store  *db.Store
	Logger *zap.Logger
}

// Bootstrap loads configuration, connects to Postgres, and builds the
// process logger. Callers must defer Close().
func Bootstrap(ctx context.Context) (*App, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Sync() //nolint:errcheck
		return nil, err
	}

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Sync() //nolint:errcheck
		return nil, err
	}

	return &App{Config: cfg, Store: store, Logger: logger}, nil
}

// Close tears down the resources Bootstrap created, in reverse order.
func (a *App) Close() {
	a.Store.Close()
	a.Logger.Sync() //nolint:errcheck
}
