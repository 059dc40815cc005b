package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/catalog"
	"github.com/odyssey-erp/ledgercore/internal/numbering"
	"github.com/odyssey-erp/ledgercore/internal/observability"
	"github.com/odyssey-erp/ledgercore/internal/platform/cache"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
	"github.com/odyssey-erp/ledgercore/internal/posting"
	"github.com/odyssey-erp/ledgercore/internal/reconcile"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Runtime bundles the long-lived clients and services shared by the worker and the CLI.
type Runtime struct {
	Config *Config
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	// NumberPool serves document number allocation only. A posting holds a Pool connection for
	// its whole transaction, so allocating from Pool could starve once every connection posts.
	NumberPool *pgxpool.Pool
	Redis      *redis.Client
	Metrics    *observability.Metrics
	Posting    *posting.Service
	Checker    *reconcile.Checker
	Charts     *mappings.CachedSource
}

// Bootstrap connects to Postgres and Redis and assembles the posting coordinator. Redis is
// optional: without it charts are read straight from Postgres and locks are process-local.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, ApplicationName: "ledgercore"})
	if err != nil {
		return nil, err
	}
	numberPool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGNumberingConns, ApplicationName: "ledgercore-numbering"})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap numbering pool: %w", err)
	}
	rt := &Runtime{Config: cfg, Logger: logger, Pool: pool, NumberPool: numberPool, Metrics: observability.NewMetrics()}

	var locker shared.Locker
	if !cfg.DisableRedis {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		rt.Redis = client
		locker = shared.NewRedisLocker(client, cfg.LockTTL, cfg.LockWait)
	} else {
		logger.Warn("redis disabled, using process-local locks")
	}

	rt.Charts = mappings.NewCachedSource(mappings.NewRepository(pool), rt.Redis, cfg.ChartCacheTTL)
	rt.Posting = posting.NewService(posting.Config{
		UnitOfWork: posting.NewPostgresUnitOfWork(pool),
		Catalog:    catalog.NewMemo(catalog.NewRepository(pool)),
		Charts:     rt.Charts,
		Numbers:    numbering.NewSeries(numberPool),
		Locker:     locker,
		Audit:      shared.NewAuditLogger(pool),
		Metrics:    rt.Metrics.Posting,
		Logger:     logger,
	})
	rt.Checker = reconcile.NewChecker(reconcile.NewRepository(pool), logger)
	return rt, nil
}

// Readiness returns the dependency checks for the ops /readyz endpoint.
func (r *Runtime) Readiness() map[string]Pinger {
	checks := map[string]Pinger{"postgres": PingFunc(r.Pool.Ping)}
	if r.Redis != nil {
		checks["redis"] = PingFunc(func(ctx context.Context) error { return cache.Ping(ctx, r.Redis) })
	}
	return checks
}

// Close releases the clients.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			r.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if r.NumberPool != nil {
		r.NumberPool.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}
