package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/breakoutbot/internal/blob/s3"
	"github.com/alanyoungcy/breakoutbot/internal/cache/redis"
	"github.com/alanyoungcy/breakoutbot/internal/config"
	"github.com/alanyoungcy/breakoutbot/internal/domain"
	"github.com/alanyoungcy/breakoutbot/internal/executor"
	"github.com/alanyoungcy/breakoutbot/internal/notify"
	"github.com/alanyoungcy/breakoutbot/internal/platform/dhan"
	"github.com/alanyoungcy/breakoutbot/internal/server/handler"
	"github.com/alanyoungcy/breakoutbot/internal/service"
	"github.com/alanyoungcy/breakoutbot/internal/sizing"
	"github.com/alanyoungcy/breakoutbot/internal/source"
	"github.com/alanyoungcy/breakoutbot/internal/store/postgres"
	"github.com/alanyoungcy/breakoutbot/internal/strategy"
)

// Dependencies bundles the wired engine. It is constructed by Wire and torn
// down by the returned cleanup function.
type Dependencies struct {
	Location *time.Location

	Quotes    *service.QuoteService
	Orders    *service.OrderService
	Positions *service.PositionService

	// Audit is nil when Postgres is disabled.
	Audit *postgres.AuditStore

	Guard        executor.DailyGuard
	Supervisor   *executor.Supervisor
	Orchestrator *executor.Orchestrator

	Notifier     *notify.Notifier
	HealthChecks map[string]handler.Check
}

// Wire builds every adapter and service from cfg. Redis and Postgres are
// optional; S3 and the broker are always required.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return fail("wire: %w", err)
	}
	squareOff, err := executor.ParseClock(cfg.Schedule.SquareOff)
	if err != nil {
		return fail("wire: square_off: %w", err)
	}

	deps := &Dependencies{
		Location:     loc,
		HealthChecks: map[string]handler.Check{},
	}

	// --- PostgreSQL (optional trade journal and audit log) ---
	var (
		trades domain.TradeStore
		audit  domain.AuditStore
	)
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}
		trades = postgres.NewTradeStore(pgClient.Pool())
		auditStore := postgres.NewAuditStore(pgClient.Pool())
		audit = auditStore
		deps.Audit = auditStore
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis (optional shared guard, lock and price cache) ---
	var (
		prices domain.PriceCache
		locks  domain.LockManager
	)
	deps.Guard = executor.NewLocalGuard(loc)
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		prices = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		locks = redis.NewLockManager(redisClient)
		deps.Guard = redis.NewDailyGuard(redisClient, loc)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 (signals, leverage map, journal archive) ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return fail("wire: s3: %w", err)
	}
	blobs := s3blob.NewReader(s3Client)
	var archive domain.BlobWriter
	if cfg.S3.ArchiveJournal {
		archive = s3blob.NewWriter(s3Client)
	}
	deps.HealthChecks["s3"] = s3Client.Health

	signals := source.NewSignals(blobs, cfg.Signals.SignalsKey, logger)
	if cfg.Signals.RequireFresh {
		signals.RequireFresh(loc)
	}
	leverage := source.NewLeverage(blobs, cfg.Signals.LeverageKey, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramBaseURL,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Broker and services ---
	dhanClient := dhan.NewClient(dhan.Config{
		BaseURL:     cfg.Broker.BaseURL,
		ClientID:    cfg.Broker.ClientID,
		AccessToken: cfg.Broker.AccessToken,
		Timeout:     cfg.Broker.Timeout.Duration,
		QuoteRPS:    cfg.Broker.QuoteRPS,
		OrderRPS:    cfg.Broker.OrderRPS,
	})

	deps.Quotes = service.NewQuoteService(dhanClient, prices, service.QuoteConfig{
		BatchSize:     cfg.Quote.BatchSize,
		BatchAttempts: cfg.Quote.BatchAttempts,
		BatchDelay:    cfg.Quote.BatchDelay.Duration,
		BatchPause:    cfg.Quote.BatchPause.Duration,
		IndexID:       cfg.Quote.IndexID,
	}, logger)

	sizer := sizing.NewSizer(
		sizing.NewFundCache(dhanClient.AvailableBalance),
		sizing.NewLeverageCache(leverage.Load),
		logger,
	)

	deps.Orders = service.NewOrderService(dhan.NewBroker(dhanClient), deps.Quotes, sizer, audit, service.OrderConfig{
		MaxLoss:          cfg.Trading.MaxLoss,
		TrailingFraction: cfg.Trading.TrailingFraction,
		RewardMultiple:   cfg.Trading.RewardMultiple,
		TickSize:         cfg.Trading.TickSize,
		LTPAttempts:      cfg.Trading.LTPAttempts,
		LTPDelay:         cfg.Trading.LTPDelay.Duration,
	}, logger)

	deps.Positions = service.NewPositionService(trades, audit, archive, logger)

	// --- Executor ---
	monitor := executor.NewMonitor(deps.Orders, deps.Quotes, deps.Positions, deps.Notifier, executor.MonitorConfig{
		PollInterval:    cfg.Schedule.PollInterval.Duration,
		ExitBuffer:      cfg.Trading.ExitBuffer,
		ExitAttempts:    cfg.Trading.ExitAttempts,
		ExitRetryDelay:  cfg.Trading.ExitRetryDelay.Duration,
		ExitOnShutdown:  cfg.Trading.ExitOnShutdown,
		ShutdownTimeout: cfg.Trading.ShutdownTimeout.Duration,
		SquareOff:       squareOff,
		Location:        loc,
		RewardMultiple:  cfg.Trading.RewardMultiple,
	}, logger)
	deps.Supervisor = executor.NewSupervisor(monitor, deps.Notifier, logger)

	deps.Orchestrator = executor.NewOrchestrator(executor.OrchestratorDeps{
		Signals: signals,
		Index:   deps.Quotes,
		Placer:  deps.Orders,
		Gate: strategy.Gate{
			BuyTolerance:  cfg.Trading.BuyTolerance,
			SellTolerance: cfg.Trading.SellTolerance,
		},
		Guard:    deps.Guard,
		Locks:    locks,
		Monitors: deps.Supervisor,
		Notifier: deps.Notifier,
	}, logger)

	return deps, cleanup, nil
}
