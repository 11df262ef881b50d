package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/icewatch/internal/blob/s3"
	"github.com/alanyoungcy/icewatch/internal/cache/redis"
	"github.com/alanyoungcy/icewatch/internal/config"
	"github.com/alanyoungcy/icewatch/internal/domain"
	"github.com/alanyoungcy/icewatch/internal/notify"
	"github.com/alanyoungcy/icewatch/internal/platform/binance"
	"github.com/alanyoungcy/icewatch/internal/platform/deribit"
	"github.com/alanyoungcy/icewatch/internal/store/postgres"
)

// Dependencies bundles every concrete collaborator the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Feed
	Market *binance.Client

	// Stores (nil outside persistence modes)
	LevelStore   domain.LevelStore
	EventStore   *postgres.EventStore
	FeatureStore domain.FeatureStore

	// Signal bus and shared caches (nil when Redis is disabled)
	SignalBus        domain.SignalBus
	DerivativesCache domain.DerivativesCache

	// Derivatives refresh (nil when Deribit is disabled)
	DerivativesProvider *deribit.CachedProvider
	DerivativesRefresh  *deribit.Refresher

	// Blob storage (archive mode only)
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "full", "archive":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	return mode == "archive"
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Market: binance.NewClient(binance.Config{
			WsHost:     cfg.Binance.WsHost,
			RestHost:   cfg.Binance.RestHost,
			DepthLimit: cfg.Binance.DepthLimit,
		}, logger),
	}

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
		deps.LevelStore = postgres.NewLevelStore(pool)
		deps.EventStore = postgres.NewEventStore(pool)
		deps.FeatureStore = postgres.NewFeatureStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.DerivativesCache = redis.NewDerivativesCache(redisClient)
	}

	// --- Deribit derivatives refresh ---
	if cfg.Deribit.Enabled {
		client := deribit.NewClient(deribit.Config{
			BaseURL:     cfg.Deribit.BaseURL,
			Currency:    cfg.Deribit.Currency,
			HTTPTimeout: cfg.Deribit.HTTPTimeout.Duration,
		}, logger)
		deps.DerivativesProvider = &deribit.CachedProvider{}
		deps.DerivativesRefresh = deribit.NewRefresher(
			client,
			deps.DerivativesProvider,
			deps.DerivativesCache,
			cfg.Deribit.Currency,
			cfg.Deribit.RefreshInterval.Duration,
			logger,
		)
	}

	// --- S3 blob storage ---
	if needsS3(cfg.Mode) {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if deps.EventStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.EventStore)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
