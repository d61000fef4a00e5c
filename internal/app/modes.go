package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/v1xingyue/tokenwords/internal/crypto"
	"github.com/v1xingyue/tokenwords/internal/notify"
	"github.com/v1xingyue/tokenwords/internal/server"
	"github.com/v1xingyue/tokenwords/internal/server/handler"
	"github.com/v1xingyue/tokenwords/internal/server/ws"
	"github.com/v1xingyue/tokenwords/internal/service"
)

const shutdownTimeout = 10 * time.Second

// runModes starts the goroutines of the configured mode. "full" runs the
// server, settler and archiver in one process.
func (a *App) runModes(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.RunsServer() {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.RunsSettler() {
		if err := a.startSettler(ctx, g, deps); err != nil {
			return err
		}
	}
	if a.cfg.RunsArchiver() {
		a.startArchiver(ctx, g, deps)
	}
	if deps.SignalBus != nil && deps.Notifier.HasSenders() {
		announcer := notify.NewAnnouncer(deps.SignalBus, deps.Notifier, a.logger)
		g.Go(func() error { return ignoreCanceled(announcer.Run(ctx)) })
	}

	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}, a.logger)
		g.Go(func() error { return ignoreCanceled(hub.Run(ctx)) })
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:       handler.NewHealthHandler(deps.Health, a.logger),
		Status:       handler.NewStatusHandler(deps.Query, a.cfg.Mode, a.startedAt, a.logger),
		Accounts:     handler.NewAccountHandler(deps.Ledger, deps.Query, deps.Audit, a.logger),
		Predictions:  handler.NewPredictionHandler(deps.Query, a.logger),
		Transactions: handler.NewTransactionHandler(deps.Ledger, deps.Query, a.logger),
		Oracles:      handler.NewOracleHandler(deps.OraclePub, deps.Oracles, deps.Audit, a.logger),
		Admin:        handler.NewAdminHandler(deps.Audit, deps.Archives, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) startSettler(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	signer, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Keys.SettlerKey,
		KeypairPath:      a.cfg.Keys.KeypairPath,
		EncryptedKeyPath: a.cfg.Keys.EncryptedKeyPath,
		KeyPassword:      a.cfg.Keys.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: settler key: %w", err)
	}
	a.logger.InfoContext(ctx, "settler key loaded", slog.String("pubkey", signer.PublicKey().String()))

	settler := service.NewSettler(deps.Ledger, deps.Query, signer, service.SettlerConfig{
		Interval:    a.cfg.Settler.Interval.Duration,
		Concurrency: a.cfg.Settler.Concurrency,
		Backoff:     a.cfg.Settler.Backoff.Duration,
		MaxBackoff:  a.cfg.Settler.MaxBackoff.Duration,
		Limiter:     deps.SubmitLimiter,
	}, a.logger)
	g.Go(func() error { return ignoreCanceled(settler.Run(ctx)) })
	return nil
}

// startArchiver archives settlements older than the retention window once
// at startup and then on every interval.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	logger := a.logger.With(slog.String("component", "archiver"))
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	run := func() {
		before := time.Now().UTC().Add(-retention)
		n, err := deps.Archiver.ArchiveSettlements(ctx, before)
		if err != nil {
			logger.ErrorContext(ctx, "archive failed", slog.String("error", err.Error()))
			return
		}
		logger.InfoContext(ctx, "archive complete",
			slog.Int64("rows", n),
			slog.Time("before", before),
		)
	}

	g.Go(func() error {
		run()
		ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				run()
			}
		}
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
