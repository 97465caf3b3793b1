package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medterm/masterdata/internal/config"
	"github.com/medterm/masterdata/internal/domain/master"
	"github.com/medterm/masterdata/internal/platform/db"
	"github.com/medterm/masterdata/internal/platform/kv"
	"github.com/medterm/masterdata/internal/platform/metrics"
	"github.com/medterm/masterdata/internal/platform/worker"
)

// engine holds the wired master data stack and the connections it owns.
type engine struct {
	pool    *pgxpool.Pool
	redis   *redis.Client
	kv      kv.Store
	queue   *worker.Queue
	metrics *metrics.Metrics
	service *master.Service
	logger  zerolog.Logger
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:               cfg.DatabaseURL,
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		ConnectTimeout:    cfg.StoreTimeout,
		HealthCheckPeriod: time.Minute,
		ApplicationName:   "master-server",
	}
}

// newEngine connects the stores and builds the service. The server passes
// background=true to get the worker queue and metrics; one-shot commands
// write legacy pointers inline.
func newEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger, background bool) (*engine, error) {
	eng := &engine{logger: logger}

	if cfg.RelationalEnabled() {
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, err
		}
		eng.pool = pool
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, running on the key-value store only")
	}

	if cfg.RedisURL != "" {
		client, err := kv.NewRedisClient(ctx, kv.RedisConfig{
			URL:          cfg.RedisURL,
			PoolSize:     cfg.RedisPoolSize,
			DialTimeout:  cfg.StoreTimeout,
			ReadTimeout:  cfg.StoreTimeout,
			WriteTimeout: cfg.StoreTimeout,
		})
		if err != nil {
			eng.Close(ctx)
			return nil, err
		}
		eng.redis = client
		eng.kv = kv.NewRedis(client)
		logger.Info().Msg("connected to redis")
	} else if cfg.IsDev() {
		eng.kv = kv.NewMemory()
		logger.Warn().Msg("REDIS_URL not set, using the in-memory key-value store")
	} else {
		eng.Close(ctx)
		return nil, fmt.Errorf("REDIS_URL is required when ENV=%q", cfg.Env)
	}

	var repo master.Repository
	if eng.pool != nil {
		repo = master.NewRepoPG(eng.pool)
	}

	storeCfg := master.StoreConfig{
		Repo:          repo,
		KV:            eng.kv,
		Logger:        logger,
		IDMaxAttempts: cfg.IDMaxAttempts,
		IDClaimTTL:    cfg.IDClaimTTL,
	}
	if background {
		eng.metrics = metrics.New()
		eng.queue = worker.NewQueue(cfg.WorkerQueueSize, cfg.StoreTimeout, logger)
		eng.queue.Start(context.Background(), cfg.WorkerCount)
		eng.metrics.RegisterQueue("legacy_pointers", eng.queue.Stats)
		storeCfg.Queue = eng.queue
		storeCfg.Metrics = eng.metrics
	}
	storeCfg.Cache = master.NewListCache(eng.kv, cfg.CacheTTL, logger, eng.metrics)

	store := master.NewStore(storeCfg)
	categories := master.NewCategoryRegistry(eng.kv, repo, logger)
	eng.service = master.NewService(store, categories, cfg.SimilarityThreshold, logger)
	return eng, nil
}

// Close drains the queue and releases connections.
func (e *engine) Close(ctx context.Context) {
	if e.queue != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := e.queue.Close(drainCtx); err != nil {
			e.logger.Warn().Err(err).Msg("worker queue did not drain")
		}
		cancel()
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("closing redis client")
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
}
