package kv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rty23111-ctrl/agent-identity/internal/db"
)

type Config struct {
	// URL selects the backend: memory://, postgres://, postgresql://,
	// redis:// or rediss://.
	URL             string `mapstructure:"url"`
	Schema          string `mapstructure:"schema"`
	MaxConns        int32  `mapstructure:"max_conns"`
	CleanupInterval int    `mapstructure:"cleanup_interval_seconds"`
}

func (c Config) cleanupInterval() time.Duration {
	if c.CleanupInterval <= 0 {
		return time.Minute
	}
	return time.Duration(c.CleanupInterval) * time.Second
}

type cleaner interface {
	StartCleanup(ctx context.Context, interval time.Duration)
}

// Open builds the store named by cfg.URL. Backends that need periodic
// expiry sweeps run them until ctx is done.
func Open(ctx context.Context, cfg Config) (Store, error) {
	url := cfg.URL
	if url == "" {
		url = "memory://"
	}

	var store Store
	switch {
	case strings.HasPrefix(url, "memory://"):
		store = NewMemoryStore()
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		if err := db.RunMigrations(url, cfg.Schema); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		pool, err := db.InitDB(ctx, db.Config{Url: url, Schema: cfg.Schema, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, err
		}
		store = NewPostgresStore(pool)
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("unable to ping redis: %w", err)
		}
		store = NewRedisStore(client)
	default:
		return nil, fmt.Errorf("unsupported kv url scheme: %q", url)
	}

	if c, ok := store.(cleaner); ok {
		go c.StartCleanup(ctx, cfg.cleanupInterval())
	}
	slog.Info("KV store ready", "backend", strings.SplitN(url, "://", 2)[0])
	return store, nil
}
