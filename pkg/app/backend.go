// Package app opens the shared infrastructure of the server and the CLI:
// the PostgreSQL pools, the cache backend and the invalidation channel,
// all selected from config.Config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/storage/postgres"
)

// Backend holds open connections. Redis and Notifier are nil when the
// configuration does not use them.
type Backend struct {
	DB        *postgres.ConnectionManager
	Redis     *redis.Client
	Cache     cache.Cache
	Publisher cache.Publisher
	Notifier  cache.Notifier

	// uninstrumented cache, for FlushCache
	base cache.Cache
}

// Connect opens the database and the cache described by cfg. metrics may be
// nil; otherwise cache lookups are counted.
func Connect(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, metrics *observability.Metrics) (*Backend, error) {
	db, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return nil, err
	}

	b := &Backend{DB: db}
	if err := b.openCache(ctx, cfg.Cache); err != nil {
		b.Close()
		return nil, err
	}
	b.base = b.Cache
	if metrics != nil {
		b.Cache = cache.Instrument(b.Cache, metrics.CacheHitsTotal, metrics.CacheMissesTotal)
	}

	if err := b.openInvalidation(cfg.Cache.Invalidation, cfg.Database.URL, logger); err != nil {
		b.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"cache":        cfg.Cache.Backend,
		"invalidation": cfg.Cache.Invalidation,
	}).Info("Backend connected")
	return b, nil
}

// NewBackend assembles a backend from an open database and an optional
// Redis client, for tests and tools that manage connections themselves.
func NewBackend(db *sql.DB, client *redis.Client, cfg config.CacheConfig, logger logrus.FieldLogger) (*Backend, error) {
	b := &Backend{DB: postgres.NewConnectionManagerFromDB(db), Redis: client}
	if err := b.selectCache(cfg); err != nil {
		return nil, err
	}
	b.base = b.Cache
	if err := b.openInvalidation(cfg.Invalidation, "", logger); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) openCache(ctx context.Context, cfg config.CacheConfig) error {
	if (cfg.Enabled && cfg.Backend == "redis") || cfg.Invalidation == "redis" {
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			URL:        cfg.RedisURL,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			PoolSize:   cfg.RedisPoolSize,
			MaxRetries: cfg.RedisMaxRetries,
		})
		if err != nil {
			return err
		}
		b.Redis = client
	}
	return b.selectCache(cfg)
}

func (b *Backend) selectCache(cfg config.CacheConfig) error {
	switch {
	case !cfg.Enabled:
		b.Cache = cache.Nop{}
	case cfg.Backend == "redis":
		if b.Redis == nil {
			return errors.New("redis cache selected without a redis client")
		}
		b.Cache = cache.NewRedisCache(b.Redis, cfg.TTL)
	case cfg.Backend == "memory":
		b.Cache = cache.NewMemoryCache(cfg.MemorySize, cfg.TTL)
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	return nil
}

func (b *Backend) openInvalidation(kind, dsn string, logger logrus.FieldLogger) error {
	switch kind {
	case "", "none":
		b.Publisher = cache.Nop{}
	case "postgres":
		n := cache.NewPostgresNotifier(b.DB.Primary(), dsn, logger)
		b.Publisher, b.Notifier = n, n
	case "redis":
		if b.Redis == nil {
			return errors.New("redis invalidation selected without a redis client")
		}
		n := cache.NewRedisNotifier(b.Redis)
		b.Publisher, b.Notifier = n, n
	default:
		return fmt.Errorf("unknown invalidation channel %q", kind)
	}
	return nil
}

// Primary returns the primary database pool
func (b *Backend) Primary() *sql.DB {
	return b.DB.Primary()
}

// Replica returns a read replica pool, or the primary when none is configured
func (b *Backend) Replica() *sql.DB {
	return b.DB.Replica()
}

// FlushCache drops every cached entry
func (b *Backend) FlushCache(ctx context.Context) error {
	type flusher interface {
		Flush(ctx context.Context) error
	}
	if f, ok := b.base.(flusher); ok {
		return f.Flush(ctx)
	}
	if b.Redis != nil {
		return b.Redis.FlushDB(ctx).Err()
	}
	return nil
}

// Close releases the connections
func (b *Backend) Close() error {
	var errs []error
	if b.Redis != nil {
		errs = append(errs, b.Redis.Close())
	}
	if b.DB != nil {
		errs = append(errs, b.DB.Close())
	}
	return errors.Join(errs...)
}
