package app

import (
	"context"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/oakmart/backend-store/internal/config"
	"github.com/oakmart/backend-store/internal/db"
	"github.com/oakmart/backend-store/internal/obs"
	"github.com/oakmart/backend-store/internal/repo"
)

// Dependencies bundles the shared infrastructure handed to both the API
// server and the background worker.
type Dependencies struct {
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Store     *repo.Store
	Validator *validator.Validate
	Limiter   *limiter.Limiter
}

// Options tunes optional instrumentation.
type Options struct {
	AppName        string
	InstrumentDB   bool
	RedisMetrics   bool
	RateLimitPerMin int64
}

// New connects to Postgres and Redis and builds the shared handles. The
// caller owns Close.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if opts.InstrumentDB {
		poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if opts.AppName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = opts.AppName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if opts.RedisMetrics {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	limiterStore, err := limiterredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
		Prefix: "ratelimit",
	})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	perMin := opts.RateLimitPerMin
	if perMin <= 0 {
		perMin = cfg.RateLimitPerMin
	}
	if perMin <= 0 {
		perMin = 120
	}
	rate, err := limiter.NewRateFromFormatted(fmt.Sprintf("%d-M", perMin))
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("limiter rate: %w", err)
	}

	return &Dependencies{
		DB:        pool,
		Redis:     redisClient,
		Store:     &repo.Store{Pool: pool},
		Validator: validator.New(),
		Limiter:   limiter.New(limiterStore, rate),
	}, nil
}

// Close releases the database and redis connections.
func (d *Dependencies) Close(logger zerolog.Logger) {
	if d == nil {
		return
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}
}

// Migrate applies all pending schema migrations.
func Migrate(databaseURL string) error {
	m, err := db.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close()
	}()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
