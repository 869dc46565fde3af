// Package app assembles the services shared by the binaries from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"adinventory/internal/adapters/catalog"
	"adinventory/internal/adapters/memstore"
	"adinventory/internal/adapters/payments"
	"adinventory/internal/adapters/repo"
	"adinventory/internal/adapters/telegram"
	"adinventory/internal/domain"
	"adinventory/internal/infra/cache"
	"adinventory/internal/infra/clock"
	"adinventory/internal/infra/config"
	"adinventory/internal/infra/db"
	"adinventory/internal/infra/db/migrations"
	applog "adinventory/internal/infra/log"
	"adinventory/internal/infra/queue"
	"adinventory/internal/usecase/availability"
	"adinventory/internal/usecase/booking"
	"adinventory/internal/usecase/feed"
	"adinventory/internal/usecase/ops"
	"adinventory/internal/usecase/pricing"
	"adinventory/internal/usecase/sweep"
)

// Store is everything the use cases need from persistence.
type Store interface {
	booking.Store
	domain.Directory
	availability.SlotReader
	feed.AdSource
	catalog.Upserter
}

var (
	_ Store = (*memstore.Store)(nil)
	_ Store = (*repo.Postgres)(nil)
)

// App holds the wired services of one process.
type App struct {
	Config       config.AppConfig
	Log          zerolog.Logger
	Store        Store
	Booking      *booking.Service
	Availability *availability.Service
	Feed         *feed.Service
	Ops          domain.OpsQueue
	Notifier     *telegram.Notifier
	// Sandbox is set when no processor key is configured.
	Sandbox *payments.Sandbox
	// Lease is nil without Redis; the sweep then runs unguarded.
	Lease sweep.Lease

	closers []func()
}

// New connects storage, queues and the payment gateway and builds the services.
func New(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	weekday, err := cfg.Weekday()
	if err != nil {
		return nil, err
	}
	cal := domain.Calendar{WeeklyDay: weekday, HorizonMonths: cfg.Booking.HorizonMonths}
	prices, err := pricing.NewTable(map[int]pricing.TierPrices{
		1: {Daily: cfg.Pricing.Tier1Daily, Weekly: cfg.Pricing.Tier1Weekly},
		2: {Daily: cfg.Pricing.Tier2Daily, Weekly: cfg.Pricing.Tier2Weekly},
		3: {Daily: cfg.Pricing.Tier3Daily, Weekly: cfg.Pricing.Tier3Weekly},
	})
	if err != nil {
		return nil, fmt.Errorf("pricing: %w", err)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	cat, err := catalog.Load(cfg.Catalog.File)
	if err != nil {
		return nil, err
	}
	if err := catalog.Seed(ctx, a.Store, cat); err != nil {
		return nil, err
	}
	logger.Info().Int("neighborhoods", len(cat.Neighborhoods)).Int("promotions", len(cat.Promotions)).Msg("catalog loaded")

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
	}
	if err := a.openQueue(redisClient); err != nil {
		return nil, err
	}

	a.Notifier, err = telegram.NewNotifier(cfg.Telegram.Token, cfg.Telegram.OpsChatID, applog.Component(logger, "telegram"))
	if err != nil {
		return nil, err
	}

	availOpts := []availability.Option{availability.WithLogger(applog.Component(logger, "availability"))}
	if redisClient != nil {
		views := cache.NewRedis(redisClient, "adinventory")
		availOpts = append(availOpts, availability.WithCache(views, cfg.Booking.CacheTTL))
		a.Lease = views
	}
	a.Availability = availability.NewService(a.Store, a.Store, prices, cal, availOpts...)

	var gateway domain.PaymentGateway
	if cfg.Payments.APIKey == "" {
		if cfg.AppEnv == "prod" {
			return nil, errors.New("PAYMENTS_API_KEY is required in prod")
		}
		a.Sandbox = payments.NewSandbox(cfg.PublicURL)
		gateway = a.Sandbox
		logger.Warn().Msg("payments: no api key, using the sandbox gateway")
	} else {
		gateway = payments.NewClient(payments.Config{
			BaseURL: cfg.Payments.BaseURL,
			APIKey:  cfg.Payments.APIKey,
			Timeout: cfg.Payments.Timeout,
		})
	}

	a.Booking = booking.NewService(a.Store, a.Store, prices, cal, gateway,
		booking.Config{
			Currency:   cfg.Payments.Currency,
			SuccessURL: cfg.Payments.SuccessURL,
			CancelURL:  cfg.Payments.CancelURL,
			SessionTTL: cfg.Booking.OrderTimeout,
			SweepBatch: cfg.Booking.SweepBatch,
		},
		booking.WithLogger(applog.Component(logger, "booking")),
		booking.WithOpsQueue(a.Ops),
		booking.WithNotifier(a.Notifier),
		booking.WithInvalidator(a.Availability),
	)

	feedClock := clock.NewSystem()
	selector := feed.NewSelector(a.Store, cat.Promotions, applog.Component(logger, "fallback"), feed.WithSelectorClock(feedClock))
	a.Feed = feed.NewService(a.Store, a.Store, selector, cfg.Feed.Cadence, feedClock, applog.Component(logger, "feed"))

	ok = true
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch strings.ToLower(a.Config.StorageDriver) {
	case "memory":
		a.Store = memstore.New()
		a.Log.Warn().Msg("storage: in-memory store, data is lost on restart")
		return nil
	case "postgres":
		if a.Config.PGDSN == "" {
			return errors.New("PG_DSN is required for the postgres driver")
		}
		pool, err := db.Connect(ctx, a.Config.PGDSN, db.PoolConfig{
			MaxConns:        a.Config.Postgres.MaxConns,
			MaxConnLifetime: a.Config.Postgres.ConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := migrations.Apply(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.Store = repo.NewPostgres(pool)
		return nil
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", a.Config.StorageDriver)
	}
}

func (a *App) openQueue(redisClient *redis.Client) error {
	switch strings.ToLower(a.Config.Queues.Driver) {
	case "memory":
		a.Ops = queue.NewMemoryOpsQueue(256)
	case "redis":
		if redisClient == nil {
			return errors.New("REDIS_ADDR is required for the redis ops queue")
		}
		a.Ops = queue.NewRedisOpsQueue(redisClient, a.Config.Queues.OpsKey)
	case "rabbitmq":
		q, err := queue.NewRabbitOpsQueue(a.Config.Queues.AMQPURL, a.Config.Queues.OpsKey)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = q.Close() })
		a.Ops = q
	default:
		return fmt.Errorf("unknown OPS_QUEUE_DRIVER %q", a.Config.Queues.Driver)
	}
	return nil
}

// OpsWorker builds the operator queue consumer.
func (a *App) OpsWorker() *ops.Worker {
	return ops.NewWorker(a.Ops, a.Booking, a.Notifier,
		ops.WithMaxAttempts(a.Config.Queues.MaxAttempt),
		ops.WithLogger(applog.Component(a.Log, "ops")),
	)
}

// SweepRunner builds the stale order sweep from configuration.
func (a *App) SweepRunner() *sweep.Runner {
	opts := []sweep.Option{sweep.WithLogger(applog.Component(a.Log, "sweep"))}
	if a.Lease != nil {
		opts = append(opts, sweep.WithLease(a.Lease))
	}
	return sweep.NewRunner(a.Booking, a.Config.Booking.SweepInterval, a.Config.Booking.OrderTimeout, opts...)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ShutdownTimeout bounds graceful shutdown of the binaries.
const ShutdownTimeout = 10 * time.Second
