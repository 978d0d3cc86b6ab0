package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/coinmesh/marketbroker/logger"
)

type redisCache struct {
	client   *redis.Client
	fallback Store
	log      logger.Logger
	cfg      config

	// degradedUntil holds a unix-nano deadline. While now < deadline every
	// call is served by the fallback; the first call after the deadline
	// re-attempts the remote store.
	degradedUntil atomic.Int64
}

var _ Store = (*redisCache)(nil)

// NewRedis returns a Store backed by Redis with a local fallback. Any remote
// failure (connection, timeout, command error) marks the backend degraded for
// a cooldown window and transparently serves the call from fallback; no
// remote error ever reaches the caller. The caller owns the redis.Client lifecycle.
func NewRedis(client *redis.Client, fallback Store, log logger.Logger, opts ...Option) Store {
	cfg := applyOptions(opts)
	return &redisCache{
		client:   client,
		fallback: fallback,
		log:      log.With(map[string]interface{}{"component": "cache.redis"}),
		cfg:      cfg,
	}
}

func (c *redisCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisCache) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisCache) lockKey(key string) string {
	return c.prefixKey("lock:" + key)
}

func (c *redisCache) degraded() bool {
	return time.Now().UnixNano() < c.degradedUntil.Load()
}

func (c *redisCache) markDegraded(op string, err error) {
	c.log.Warn("redis %s failed, falling back to local cache for %s: %s", op, c.cfg.cooldown, err)
	c.degradedUntil.Store(time.Now().Add(c.cfg.cooldown).UnixNano())
}

// recovered clears the degraded deadline after a successful remote call so
// the cooldown does not linger once redis is healthy again.
func (c *redisCache) recovered() {
	c.degradedUntil.Store(0)
}

func (c *redisCache) Get(ctx context.Context, key string) (bool, any, error) {
	if c.degraded() {
		return c.fallback.Get(ctx, key)
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := c.client.Get(qctx, c.prefixKey(key)).Bytes()
	if err == redis.Nil {
		c.recovered()
		return false, nil, nil
	}
	if err != nil {
		c.markDegraded("get", err)
		return c.fallback.Get(ctx, key)
	}
	c.recovered()
	return true, data, nil
}

func (c *redisCache) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.defaultExpires
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		// Unserializable values are skipped, not surfaced: the caller
		// already has the value and the next read is just a miss.
		c.log.Warn("skipping cache write for %s: %s", key, err)
		return nil
	}
	if c.degraded() {
		return c.fallback.Set(ctx, key, val, ttl)
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := c.client.Set(qctx, c.prefixKey(key), data, ttl).Err(); err != nil {
		c.markDegraded("set", err)
		return c.fallback.Set(ctx, key, val, ttl)
	}
	c.recovered()
	return nil
}

func (c *redisCache) Delete(ctx context.Context, key string) (bool, error) {
	// The fallback may hold a copy written during a degraded window.
	localFound, _ := c.fallback.Delete(ctx, key)
	if c.degraded() {
		return localFound, nil
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	removed, err := c.client.Del(qctx, c.prefixKey(key)).Result()
	if err != nil {
		c.markDegraded("delete", err)
		return localFound, nil
	}
	c.recovered()
	return localFound || removed > 0, nil
}

func (c *redisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if c.degraded() {
		return c.fallback.AcquireLock(ctx, key, ttl)
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	ok, err := c.client.SetNX(qctx, c.lockKey(key), "1", ttl).Result()
	if err != nil {
		c.markDegraded("lock", err)
		return c.fallback.AcquireLock(ctx, key, ttl)
	}
	c.recovered()
	return ok, nil
}

func (c *redisCache) ReleaseLock(ctx context.Context, key string) error {
	if c.degraded() {
		return c.fallback.ReleaseLock(ctx, key)
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := c.client.Del(qctx, c.lockKey(key)).Err(); err != nil {
		c.markDegraded("unlock", err)
		return c.fallback.ReleaseLock(ctx, key)
	}
	c.recovered()
	return nil
}

// Close is a no-op; the caller owns the redis.Client and the fallback.
func (c *redisCache) Close() error {
	return nil
}
