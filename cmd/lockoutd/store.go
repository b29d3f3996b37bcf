package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jassus213/go-lockout/internal/config"
	"github.com/jassus213/go-lockout/ratelimiter"
	"github.com/jassus213/go-lockout/store"
	"github.com/redis/go-redis/v9"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// sqlDrivers maps store names to database/sql driver names.
var sqlDrivers = map[string]string{
	config.StoreSQLite:   "sqlite3",
	config.StorePostgres: "postgres",
	config.StoreMySQL:    "mysql",
}

// openStore connects the configured backend. The returned close function releases the
// connection; background cleanup stops with ctx. cleanup 0 disables it.
func openStore(ctx context.Context, cfg *config.Config, cleanup time.Duration, logger ratelimiter.Logger) (ratelimiter.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(ctx, cleanup), func() {}, nil

	case config.StoreRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid LOCKOUT_REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store.NewRedis(client, cfg.RedisPrefix), func() { _ = client.Close() }, nil

	default:
		driver, ok := sqlDrivers[cfg.Store]
		if !ok {
			return nil, nil, fmt.Errorf("unsupported store %q", cfg.Store)
		}
		db, err := sql.Open(driver, cfg.SQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s database: %w", cfg.Store, err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Store, err)
		}

		s, err := store.NewSQL(ctx, db, cfg.Store, cleanup, store.WithLogger(logger))
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, func() { _ = db.Close() }, nil
	}
}
