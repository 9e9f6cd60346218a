package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Open builds the Store described by the connection settings: Postgres
// when databaseURL is set, optionally behind a Redis read-through cache,
// and the in-memory store otherwise. closeFn releases every connection.
func Open(ctx context.Context, databaseURL, redisURL string, cacheTTL time.Duration, log *slog.Logger) (st Store, closeFn func(), err error) {
	var cleanup []func()
	closeFn = func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if databaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return NewMemoryStore(), closeFn, nil
	}

	pool, err := Connect(ctx, databaseURL)
	if err != nil {
		return nil, closeFn, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)
	pg := NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		closeFn()
		return nil, func() {}, fmt.Errorf("migrate: %w", err)
	}
	st = pg
	log.Info("connected to PostgreSQL")

	// Wrap with Redis read-through cache if configured.
	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			closeFn()
			return nil, func() {}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = NewCachedStore(st, rdb, cacheTTL)
		log.Info("Redis cache enabled", "ttl", cacheTTL)
	}
	return st, closeFn, nil
}
