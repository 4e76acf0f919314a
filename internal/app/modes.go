package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/breakoutbot/internal/executor"
	"github.com/alanyoungcy/breakoutbot/internal/server"
	"github.com/alanyoungcy/breakoutbot/internal/server/handler"
)

// TradeMode runs one placement cycle per trading day at schedule.entry_time
// alongside the HTTP server. On shutdown it waits for open positions to be
// handed off by their monitors before returning.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	at, err := executor.ParseClock(a.cfg.Schedule.EntryTime)
	if err != nil {
		return fmt.Errorf("app: entry_time: %w", err)
	}
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("entry_time", at.String()),
		slog.String("timezone", deps.Location.String()),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	g.Go(func() error {
		defer deps.Supervisor.Wait()
		for {
			next := executor.NextRun(time.Now(), at, deps.Location)
			a.logger.InfoContext(ctx, "next cycle scheduled",
				slog.Time("at", next),
				slog.Duration("in", time.Until(next).Round(time.Second)),
			)

			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			a.runCycle(ctx, deps)
		}
	})

	return g.Wait()
}

// OnceMode runs a single cycle immediately and returns once any position it
// opened has been closed.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	var cycleErr error
	g.Go(func() error {
		// Stopping the server ends the group once monitoring is over.
		defer cancel()
		_, cycleErr = a.runCycle(ctx, deps)
		deps.Supervisor.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return cycleErr
}

// runCycle executes one orchestration cycle and logs its outcome.
func (a *App) runCycle(ctx context.Context, deps *Dependencies) (executor.Outcome, error) {
	start := time.Now()
	out, err := deps.Orchestrator.RunCycle(ctx)
	attrs := []any{
		slog.String("outcome", string(out)),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "cycle failed", append(attrs, slog.String("error", err.Error()))...)
		return out, err
	}
	a.logger.InfoContext(ctx, "cycle finished", attrs...)
	return out, nil
}

// startHTTPServer adds the operational HTTP server to g when enabled. The
// server stops when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, deps.Orchestrator, deps.Supervisor, deps.Guard, a.logger),
		Trades:    handler.NewTradeHandler(deps.Positions, deps.Location, a.logger),
		Positions: handler.NewPositionHandler(deps.Supervisor, deps.Quotes, a.logger),
	}
	if deps.Audit != nil {
		handlers.Audit = handler.NewAuditHandler(deps.Audit, deps.Location, a.logger)
	}
	srv := server.NewServer(server.Config{
		Addr:        a.cfg.Server.Addr,
		MetricsPath: a.cfg.Server.MetricsPath,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
