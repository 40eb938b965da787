package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	s3blob "github.com/alanyoungcy/basketbot/internal/blob/s3"
	"github.com/alanyoungcy/basketbot/internal/cache/redis"
	"github.com/alanyoungcy/basketbot/internal/config"
	"github.com/alanyoungcy/basketbot/internal/crypto"
	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/emitter"
	"github.com/alanyoungcy/basketbot/internal/executor"
	"github.com/alanyoungcy/basketbot/internal/marketdata"
	"github.com/alanyoungcy/basketbot/internal/notify"
	"github.com/alanyoungcy/basketbot/internal/platform/custody"
	mdprovider "github.com/alanyoungcy/basketbot/internal/platform/marketdata"
	"github.com/alanyoungcy/basketbot/internal/scheduler"
	"github.com/alanyoungcy/basketbot/internal/service"
	"github.com/alanyoungcy/basketbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	StrategyStore   domain.StrategyStore
	PassReportStore domain.PassReportStore

	// Caches / coordination
	TokenCache  domain.TokenCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Market data and custody
	MarketData *marketdata.Adapter
	Custody    domain.CustodyClient

	// Execution
	Emitter   *emitter.Emitter
	Executor  *executor.StrategyExecutor
	Scheduler *scheduler.Scheduler
	Service   *service.StrategyService

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres reports whether the mode requires a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "serve", "cron", "archive", "full":
		return true
	default:
		return false
	}
}

// needsS3 reports whether the configuration requires object storage.
func needsS3(cfg *config.Config) bool {
	switch cfg.Mode {
	case "archive":
		return true
	case "full":
		return cfg.Archive.Enabled
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration, returning them with a cleanup function to be called on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.StrategyStore = postgres.NewStrategyStore(pool)
		deps.PassReportStore = postgres.NewPassReportStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	cacheTTL := time.Duration(cfg.MarketData.CacheTTLMinutes) * time.Minute
	deps.TokenCache = redis.NewTokenCache(redisClient, cacheTTL)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Market data ---
	mdProvider := mdprovider.NewClient(mdprovider.ClientConfig{
		BaseURL:        cfg.MarketData.BaseURL,
		APIKey:         cfg.MarketData.APIKey,
		Platform:       cfg.MarketData.Platform,
		RequestsPerSec: cfg.MarketData.RequestsPerSec,
		RequestBurst:   cfg.MarketData.RequestBurst,
	})
	deps.MarketData = marketdata.NewAdapter(mdProvider, deps.TokenCache, logger)

	// --- Custody ---
	apiSecret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           cfg.Custody.APISecret,
		EncryptedSecretPath: cfg.Custody.EncryptedSecretPath,
		SecretPassword:      cfg.Custody.SecretPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: custody secret: %w", err)
	}
	deps.Custody = custody.NewClient(custody.ClientConfig{
		BaseURL:   cfg.Custody.BaseURL,
		APIKey:    cfg.Custody.APIKey,
		APISecret: apiSecret,
	})

	// --- Execution pipeline ---
	deps.Emitter = emitter.New(deps.SignalBus, 0, logger)
	closers = append(closers, deps.Emitter.Close)

	tradeTimeout := time.Duration(cfg.Custody.TradeTimeoutSecs) * time.Second
	trader := executor.NewTradeExecutor(deps.Custody, tradeTimeout, logger)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	deps.Executor = executor.NewStrategyExecutor(
		deps.StrategyStore,
		deps.PassReportStore,
		deps.MarketData,
		trader,
		deps.Emitter,
		rng,
		logger,
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	// --- Scheduler + service ---
	defaultInterval := time.Duration(cfg.Scheduler.DefaultIntervalMinutes) * time.Minute
	deps.Scheduler = scheduler.New(
		deps.StrategyStore,
		deps.Executor,
		deps.LockManager,
		deps.Notifier,
		cfg.Scheduler.MaxRetries,
		defaultInterval,
		logger,
	)
	closers = append(closers, deps.Scheduler.Close)

	deps.Service = service.NewStrategyService(
		deps.StrategyStore,
		deps.Executor,
		deps.Scheduler,
		deps.LockManager,
		deps.Emitter,
		logger,
	)

	// --- S3 blob storage ---
	if needsS3(cfg) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		deps.Archiver = s3blob.NewReportArchiver(writer, deps.PassReportStore, logger)
	}

	return deps, cleanup, nil
}
