package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TTL bounds of cached listings.
const (
	MinTTL = 20 * time.Second
	MaxTTL = 600 * time.Second
)

// Cache stores listings as JSON values with a bounded TTL. Redis failures
// degrade to calling the loader; they are never returned to the caller.
type Cache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewCache returns a Cache whose entries expire after ttl clamped to
// [MinTTL, MaxTTL].
func NewCache(rdb redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: min(max(ttl, MinTTL), MaxTTL)}
}

// TTL returns the effective entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Load fills dst, a pointer, from key or from load on a miss.
func (c *Cache) Load(ctx context.Context, key string, dst any, load func(ctx context.Context) (any, error)) error {
	lg := zctx.From(ctx).With(zap.String("key", key))

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		decodeErr := json.Unmarshal(data, dst)
		if decodeErr == nil {
			return nil
		}
		lg.Warn("Dropping undecodable cache entry", zap.Error(decodeErr))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Cache read failed", zap.Error(err))
	}

	v, err := load(ctx)
	if err != nil {
		return err
	}
	if data, err = json.Marshal(v); err != nil {
		return errors.Wrap(err, "encode listing")
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		lg.Warn("Cache write failed", zap.Error(err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrap(err, "decode listing")
	}
	return nil
}

// Invalidate deletes keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}
