package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/config"
	"liyu1981.xyz/monitoring-mirror-service/pkg/db"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror"
	"liyu1981.xyz/monitoring-mirror-service/pkg/notify"
)

// App holds everything the server and the CLI share.
type App struct {
	Config      *config.Config
	Db          *db.DB
	Connections *gateway.DBConnectionSource
	Mirror      *mirror.Mirror
	Supervisor  *mirror.Supervisor
	Publisher   *notify.Publisher
	// OpsLimiters throttles triggers arriving over http and grpc.
	OpsLimiters *mirror.RateLimiterStore

	redis *redis.Client
}

func MirrorSettings(cfg *config.Config) mirror.Settings {
	settings := mirror.DefaultSettings()
	settings.BatchSize = cfg.Remote.BatchSize
	settings.PageSize = cfg.Remote.PageSize
	settings.FetchConcurrency = cfg.Remote.FetchConcurrency
	settings.IncrementalOverlap = cfg.Sync.IncrementalOverlap
	settings.EventLookback = cfg.Sync.EventLookback
	settings.HistoryLookback = cfg.Sync.HistoryLookback
	return settings
}

func New(cfg *config.Config) (*App, error) {
	logger := common.GetLogger()

	dbInstance := db.GetInstance(db.DialectorFromConfig(cfg.DB))
	connections := &gateway.DBConnectionSource{Db: *dbInstance}

	remote := gateway.NewZabbixGateway(gateway.ZabbixOptions{
		Timeout:     cfg.Remote.Timeout,
		Connections: connections,
		Limiters:    mirror.NewRateLimiterStore(rate.Limit(cfg.Remote.Rate), cfg.Remote.Burst),
		Breakers: gateway.NewBreakerRegistry(gateway.BreakerSettings{
			MinRequests:  cfg.Remote.BreakerMinRequests,
			FailureRatio: cfg.Remote.BreakerFailureRatio,
			OpenTimeout:  cfg.Remote.BreakerOpenTimeout,
		}),
	})

	index, err := mirror.NewIndexCache(cfg.Cache.MaxCost, cfg.Cache.TTL)
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}

	m := (&mirror.Mirror{
		Db:       *dbInstance,
		Gateway:  remote,
		Index:    index,
		Settings: MirrorSettings(cfg),
	}).WithDefaultServices()

	app := &App{
		Config:      cfg,
		Db:          dbInstance,
		Connections: connections,
		Mirror:      m,
		OpsLimiters: mirror.NewRateLimiterStore(rate.Limit(cfg.Limiter.Rate), cfg.Limiter.Burst),
	}

	var lease mirror.RunLease = mirror.NewLocalLease()
	if cfg.Redis.Enabled {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lease = mirror.NewRedisLease(app.redis, cfg.Sync.LeaseTTL)
		logger.Info("Using redis run lease", zap.String("addr", cfg.Redis.Addr))
	}

	publisher, err := notify.NewPublisher(cfg.Notify)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Publisher = publisher

	app.Supervisor = &mirror.Supervisor{
		Mirror:            m,
		Lease:             lease,
		Tenants:           connections,
		Notifier:          publisher,
		TenantConcurrency: cfg.Sync.TenantConcurrency,
	}

	return app, nil
}

// Ping checks the store and, when configured, redis.
func (a *App) Ping(ctx context.Context) error {
	if err := a.Db.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Mirror != nil {
		a.Mirror.Index.Close()
	}
	return errors.Join(errs...)
}
