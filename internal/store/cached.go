package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached fronts another KV with an in-process TTL cache.
// Writes go through to the backend before the cache is updated.
type Cached struct {
	next  KV
	cache *cache.Cache
}

// NewCached wraps next. Entries expire after ttl.
func NewCached(next KV, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: cache.New(ttl, cleanupInterval(ttl)),
	}
}

// missing marks a key known to be absent in the backend.
type missing struct{}

func (c *Cached) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if x, found := c.cache.Get(key); found {
		if _, absent := x.(missing); absent {
			return nil, false, nil
		}
		return append([]byte(nil), x.([]byte)...), true, nil
	}

	v, ok, err := c.next.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.cache.Set(key, missing{}, cache.DefaultExpiration)
		return nil, false, nil
	}
	c.cache.Set(key, append([]byte(nil), v...), cache.DefaultExpiration)
	return v, true, nil
}

func (c *Cached) Set(ctx context.Context, key string, value []byte) error {
	if err := c.next.Set(ctx, key, value); err != nil {
		c.cache.Delete(key)
		return err
	}
	c.cache.Set(key, append([]byte(nil), value...), cache.DefaultExpiration)
	return nil
}

func (c *Cached) Remove(ctx context.Context, key string) error {
	c.cache.Delete(key)
	return c.next.Remove(ctx, key)
}

func (c *Cached) Close() error {
	c.cache.Flush()
	return c.next.Close()
}
