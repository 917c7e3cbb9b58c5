// Package bootstrap wires the campaign engine from configuration. Both the
// HTTP service and the operator CLI build on it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/masgolf/golang_services/internal/campaign_service/app"
	"github.com/masgolf/golang_services/internal/campaign_service/provider"
	"github.com/masgolf/golang_services/internal/campaign_service/repository/postgres"
	"github.com/masgolf/golang_services/internal/platform/config"
	"github.com/masgolf/golang_services/internal/platform/database"
	"github.com/masgolf/golang_services/internal/platform/lock"
	"github.com/masgolf/golang_services/internal/platform/messagebroker"
)

// Options selects optional infrastructure.
type Options struct {
	AppName string
	// RequireBroker fails startup when NATS is unreachable. Without it the
	// engine runs with dispatch events disabled.
	RequireBroker bool
}

// Components is the wired engine.
type Components struct {
	Config *config.Config
	Logger *slog.Logger

	DB     *pgxpool.Pool
	Redis  *redis.Client
	Broker *messagebroker.NatsClient

	Provider    provider.Provider
	Campaigns   *postgres.PgCampaignRepository
	Groups      *postgres.PgDeliveryGroupRepository
	MessageLogs *postgres.PgMessageLogRepository
	Customers   *postgres.PgCustomerSource

	App        *app.Application
	Dispatcher *app.Dispatcher
	Reconciler *app.Reconciler

	closers []func()
}

// NewProvider builds the provider named in cfg.
func NewProvider(cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.ProviderName {
	case "solapi":
		if cfg.SolapiAPIKey == "" || cfg.SolapiAPISecret == "" || cfg.SolapiSender == "" {
			return nil, errors.New("solapi provider requires SOLAPI_API_KEY, SOLAPI_API_SECRET and SOLAPI_SENDER")
		}
		client := &http.Client{Timeout: cfg.ProviderTimeout}
		return provider.NewSolapiProvider(logger, cfg.SolapiBaseURL, cfg.SolapiAPIKey, cfg.SolapiAPISecret, cfg.SolapiSender, client), nil
	case "dry-run":
		return provider.NewDryRunProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.ProviderName)
	}
}

// New connects to Postgres, Redis and NATS and builds the engine on top.
// Close releases everything New opened, also after a failed New.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger}

	p, err := NewProvider(cfg, logger)
	if err != nil {
		return c, err
	}
	c.Provider = p

	pool, err := database.NewDBPool(ctx, database.PoolConfig{
		DSN:      cfg.PostgresDSN,
		MaxConns: cfg.PostgresMaxConns,
		MinConns: cfg.PostgresMinConns,
		AppName:  opts.AppName,
	})
	if err != nil {
		return c, fmt.Errorf("connect postgres: %w", err)
	}
	c.DB = pool
	c.closers = append(c.closers, pool.Close)
	logger.InfoContext(ctx, "Successfully connected to PostgreSQL")

	var locker app.Locker
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return c, fmt.Errorf("connect redis: %w", err)
		}
		c.Redis = rdb
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		locker = lock.NewRedisLocker(rdb, "masgolf:")
		logger.InfoContext(ctx, "Successfully connected to Redis", "addr", cfg.RedisAddr)
	} else {
		logger.WarnContext(ctx, "No Redis configured; dispatch lock is process-local only")
	}

	var events app.EventPublisher
	if cfg.NATSUrl != "" {
		nc, err := messagebroker.NewNatsClient(cfg.NATSUrl, opts.AppName, logger)
		switch {
		case err == nil:
			c.Broker = nc
			c.closers = append(c.closers, nc.Close)
			events = nc
			logger.InfoContext(ctx, "Successfully connected to NATS", "url", cfg.NATSUrl)
		case opts.RequireBroker:
			return c, fmt.Errorf("connect nats: %w", err)
		default:
			logger.WarnContext(ctx, "NATS unavailable; dispatch events disabled", "error", err)
		}
	}

	c.Campaigns = postgres.NewPgCampaignRepository(pool, logger)
	c.Groups = postgres.NewPgDeliveryGroupRepository(pool, logger)
	c.MessageLogs = postgres.NewPgMessageLogRepository(pool, logger)
	c.Customers = postgres.NewPgCustomerSource(pool, logger)

	gatherer := app.NewExclusionGatherer(logger, cfg.ExclusionSourceTimeout)
	c.App = app.NewApplication(c.Campaigns, c.Customers, gatherer, logger, cfg.BatchLimit)
	c.Dispatcher = app.NewDispatcher(c.Campaigns, c.MessageLogs, p, locker, events, logger, DispatchConfig(cfg))
	c.Reconciler = app.NewReconciler(c.Campaigns, c.Groups, p, logger, app.ReconcilerConfig{
		ResolveTimeout: cfg.StatusResolveTimeout,
		SweepBatchSize: cfg.StatusSweepBatchSize,
	})
	return c, nil
}

// DispatchConfig maps configuration onto the dispatcher's settings.
func DispatchConfig(cfg *config.Config) app.DispatchConfig {
	return app.DispatchConfig{
		BatchLimit:    cfg.BatchLimit,
		Concurrency:   cfg.DispatchConcurrency,
		MaxRetries:    cfg.DispatchMaxRetries,
		RetryBackoff:  cfg.DispatchRetryBackoff,
		CommitRetries: cfg.DispatchCommitRetries,
		LockTTL:       cfg.DispatchLockTTL,
	}
}

// PollerConfig maps configuration onto the schedule poller's settings.
func PollerConfig(cfg *config.Config) app.PollerConfig {
	return app.PollerConfig{
		PollingInterval: cfg.SchedulerPollingInterval,
		BatchSize:       cfg.SchedulerBatchSize,
		MaxAttempts:     cfg.SchedulerMaxAttempts,
	}
}

// Close releases connections in reverse order of opening.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
