package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/planner/libs/config"
	"github.com/md-rashed-zaman/planner/libs/db"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/calcache"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/storage"
	"github.com/redis/go-redis/v9"
)

func openStore(ctx context.Context, logger *slog.Logger) (storage.Store, error) {
	switch driver := strings.ToLower(config.String("STORE_DRIVER", "sqlite")); driver {
	case "postgres", "postgresql":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, err
		}
		pool, err := db.Open(ctx, dbURL, db.Options{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		})
		if err != nil {
			return nil, fmt.Errorf("db connection failed: %w", err)
		}
		store := storage.NewPostgresStore(pool)
		if config.Bool("DB_AUTO_MIGRATE", true) {
			if err := store.Migrate(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		logger.Info("using postgres store")
		return store, nil
	case "sqlite":
		path := config.String("SQLITE_PATH", "calendar.db")
		store, err := storage.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite store", "path", path)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q (want postgres or sqlite)", driver)
	}
}

// openRedis returns nil when REDIS_ADDR is unset or Redis does not answer; callers then fall
// back to in-process cache and rate limiting.
func openRedis(ctx context.Context, logger *slog.Logger) *redis.Client {
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-process cache", "addr", addr, "err", err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}

func openCache(rdb *redis.Client, service string) calcache.Cache {
	ttl := config.Duration("CACHE_TTL", calcache.DefaultTTL)
	if !config.Bool("CACHE_ENABLED", true) {
		return calcache.Noop{}
	}
	if rdb != nil {
		return calcache.NewRedis(rdb, ttl, service)
	}
	return calcache.NewMemory(ttl)
}

// resolveInstanceID names this replica. The id tags outbox events and suffixes the consumer
// group, so it has to be stable across restarts: INSTANCE_ID first, then the hostname, and a
// random id only when neither is available.
func resolveInstanceID(explicit string, hostname func() (string, error)) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if host, err := hostname(); err == nil && strings.TrimSpace(host) != "" {
		return strings.TrimSpace(host)
	}
	return uuid.NewString()
}
