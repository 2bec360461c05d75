package store

import (
	"context"
	"errors"
	"fmt"

	"leetpanel/internal/logging"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures OpenRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Namespace prefixes every key as "<namespace>:<key>".
	Namespace string
}

// Redis stores keys in a shared redis instance under a namespace.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// OpenRedis connects and pings. Addr may also be a redis:// URL.
func OpenRedis(ctx context.Context, o RedisOptions) (*Redis, error) {
	opt, err := redis.ParseURL(o.Addr)
	if err != nil {
		opt = &redis.Options{
			Addr:     o.Addr,
			Password: o.Password,
			DB:       o.DB,
		}
	}
	return newRedis(ctx, redis.NewClient(opt), o.Namespace)
}

func newRedis(ctx context.Context, rdb *redis.Client, namespace string) (*Redis, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := ""
	if namespace != "" {
		prefix = namespace + ":"
	}
	logging.StoreDebug("Redis store ready (prefix %q)", prefix)
	return &Redis{rdb: rdb, prefix: prefix}, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
