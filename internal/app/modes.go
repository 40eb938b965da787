package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/basketbot/internal/server"
	"github.com/alanyoungcy/basketbot/internal/server/handler"
	"github.com/alanyoungcy/basketbot/internal/server/ws"
)

// ServeMode starts the HTTP + WebSocket API and arms the pass scheduler for
// every active strategy.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	deps.Emitter.Start(ctx)

	if err := deps.Scheduler.Init(ctx, a.cfg.OwnerID); err != nil {
		a.logger.WarnContext(ctx, "scheduler init failed; timers will arm on demand",
			slog.String("error", err.Error()),
		)
	}

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// CronMode runs one due-check sweep over active strategies and exits. An
// external scheduler (cron, a job runner) provides the cadence.
func (a *App) CronMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting cron mode")

	deps.Emitter.Start(ctx)

	executed, err := deps.Scheduler.RunOnce(ctx, a.cfg.OwnerID)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "cron sweep complete", slog.Int("passes_executed", executed))
	return nil
}

// ArchiveMode runs the pass-report archiver on its configured interval and
// nothing else.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.runArchiveLoop(ctx, deps)
	})

	return g.Wait()
}

// FullMode runs the API, the scheduler, and (when enabled) the archiver in a
// single process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	deps.Emitter.Start(ctx)

	if err := deps.Scheduler.Init(ctx, a.cfg.OwnerID); err != nil {
		a.logger.WarnContext(ctx, "scheduler init failed; timers will arm on demand",
			slog.String("error", err.Error()),
		)
	}

	a.startHTTPServer(ctx, g, deps)

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// startHTTPServer builds the handler set, the WebSocket hub, and the HTTP
// server, and registers their goroutines on the group.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Strategy: handler.NewStrategyHandler(deps.Service, a.cfg.OwnerID, a.logger),
		Tokens:   handler.NewTokenHandler(deps.MarketData, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// runArchiveLoop moves expired pass reports to blob storage once immediately
// and then on every configured interval until the context is cancelled.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := time.Duration(a.cfg.Archive.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	a.archiveOnce(ctx, deps)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.archiveOnce(ctx, deps)
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	n, err := deps.Archiver.ArchiveReports(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive pass failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "archived pass reports",
			slog.Int64("reports", n),
			slog.Time("cutoff", cutoff),
		)
	}
}
