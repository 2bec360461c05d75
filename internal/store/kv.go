// Package store provides the durable key-value backends leetpanel keeps its
// session and initialization records in.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"leetpanel/internal/config"
	"leetpanel/internal/logging"
)

// KV is a minimal byte-oriented key-value store.
// Get reports ok=false for a missing key; that is not an error.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend selected by cfg.Store, wrapped in a Cached layer
// when a cache TTL is configured.
func Open(ctx context.Context, cfg *config.Config) (KV, error) {
	var (
		kv  KV
		err error
	)
	switch cfg.Store.Kind {
	case "memory":
		kv = NewMemory()
	case "sqlite", "":
		path := cfg.StorePath()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		kv, err = OpenSQLite(ctx, cfg.Store.Driver, path)
	case "redis":
		kv, err = OpenRedis(ctx, RedisOptions{
			Addr:      cfg.Store.RedisAddr,
			Password:  cfg.Store.RedisPassword,
			DB:        cfg.Store.RedisDB,
			Namespace: cfg.Store.Namespace,
		})
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
	if err != nil {
		return nil, err
	}

	if ttl := cfg.GetCacheTTL(); ttl > 0 {
		kv = NewCached(kv, ttl)
	}
	logging.Store("Opened %s store (cache ttl %v)", cfg.Store.Kind, cfg.GetCacheTTL())
	return kv, nil
}

// cleanupInterval is how often cached entries past their TTL are purged.
func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return time.Minute
	}
	return ttl
}
