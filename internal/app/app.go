// Package app wires the settlement node together and runs the configured
// mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/v1xingyue/tokenwords/internal/config"
)

// App owns the configuration, logger and cleanup functions.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now(),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("storage", a.cfg.Ledger.Storage),
		slog.String("clock", a.cfg.Clock.Source),
		slog.String("oracle", a.cfg.Oracle.Source),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger.With(slog.String("component", "wire")))
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.runModes(ctx, deps)
}

// Close runs cleanup functions in reverse order. Later calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
