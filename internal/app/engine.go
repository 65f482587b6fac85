package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/coopledger/coopledger/internal/closing"
	"github.com/coopledger/coopledger/internal/ledger"
	"github.com/coopledger/coopledger/internal/notify"
	"github.com/coopledger/coopledger/internal/observability"
	"github.com/coopledger/coopledger/internal/platform/cache"
	"github.com/coopledger/coopledger/internal/platform/db"
	"github.com/coopledger/coopledger/internal/settings"
	"github.com/coopledger/coopledger/internal/shared"
)

// Engine bundles the period-close dependencies shared by every binary.
type Engine struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Store   *ledger.PGStore
	Service *closing.Service
	Metrics *observability.Metrics
}

// NewEngine connects to Postgres and Redis and assembles the orchestrator.
func NewEngine(ctx context.Context, cfg *Config, logger *slog.Logger) (*Engine, error) {
	defaults, err := cfg.EngineDefaults()
	if err != nil {
		return nil, err
	}
	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		pool.Close()
		return nil, err
	}

	metrics := observability.NewMetrics()
	store := ledger.NewPGStore(pool)
	resolver := settings.NewResolver(settings.NewPGSource(pool), defaults, logger)

	service := closing.NewService(store, resolver, logger)
	service.WithLocker(shared.NewPeriodLocker(redisClient, cfg.PeriodLockTTL))
	service.WithSink(notify.NewSink(notify.NewPGRepository(pool), logger))
	service.WithMetrics(metrics.Jobs())
	service.WithAuditor(shared.NewAuditLogger(pool))

	return &Engine{
		Pool:    pool,
		Redis:   redisClient,
		Store:   store,
		Service: service,
		Metrics: metrics,
	}, nil
}

// Close releases connections.
func (e *Engine) Close(logger *slog.Logger) {
	if e == nil {
		return
	}
	if e.Redis != nil {
		if err := e.Redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}
