package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the key/value surface shared by the local and distributed tiers.
type Cache interface {
	// Get retrieves a value. Expired entries behave as absent.
	Get(ctx context.Context, key string) (bool, any, error)
	// Set stores a value with a TTL. If ttl <= 0, the configured default
	// TTL is used. Overwriting a key resets its eviction position.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
	// Delete removes a key, reporting whether it was present.
	Delete(ctx context.Context, key string) (bool, error)
	// Close shuts down the cache.
	Close() error
}

// Locker is the mutual-exclusion primitive used for single-flight fetches.
// A lock is a token with a TTL, not a queue: acquisition either succeeds
// immediately or fails, and an unreleased token expires on its own.
type Locker interface {
	// AcquireLock attempts to take the token for key, returning true only
	// if no live token existed.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ReleaseLock drops the token for key.
	ReleaseLock(ctx context.Context, key string) error
}

// Store combines the cache and lock surfaces. Both tiers implement it.
type Store interface {
	Cache
	Locker
}

// DefaultExpires is the default TTL applied when Set is called with ttl <= 0.
const DefaultExpires = 10 * time.Second

// DefaultQueryTimeout is the per-operation timeout for I/O-backed caches.
// Prevents indefinite hangs on slow or unresponsive storage.
const DefaultQueryTimeout = 5 * time.Second

// DefaultCooldown is how long the distributed tier stays degraded after a
// failure before the next call re-attempts the remote store.
const DefaultCooldown = 15 * time.Second

type config struct {
	defaultExpires time.Duration
	queryTimeout   time.Duration
	expiryCheck    time.Duration
	cooldown       time.Duration
	maxSize        int
	prefix         string
}

// Option configures a Cache implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultExpires: DefaultExpires,
		queryTimeout:   DefaultQueryTimeout,
		expiryCheck:    time.Minute,
		cooldown:       DefaultCooldown,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithExpires sets the default TTL for cached values.
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithQueryTimeout sets the per-operation timeout for the redis backend.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup
// in the in-memory backend.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithMaxSize bounds the number of entries held by the in-memory backend.
// Zero means unbounded.
func WithMaxSize(n int) Option {
	return func(c *config) { c.maxSize = n }
}

// WithCooldown sets how long the redis backend stays degraded after a
// failure before retrying the remote store.
func WithCooldown(d time.Duration) Option {
	return func(c *config) { c.cooldown = d }
}

// WithPrefix sets the key prefix for namespacing keys on a shared redis
// instance.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// Get retrieves a typed value from the cache. In-memory values are type
// asserted directly; values from the serialized backend are msgpack-decoded
// from []byte.
func Get[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	found, val, err := c.Get(ctx, key)
	if !found || err != nil {
		var zero T
		return false, zero, err
	}
	return Decode[T](val)
}

// Decode converts a raw cached value to T. A msgpack decode failure is an
// error so callers can decide whether to treat it as a miss.
func Decode[T any](val any) (bool, T, error) {
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			var zero T
			return false, zero, fmt.Errorf("cache: failed to unmarshal value: %w", err)
		}
		return true, result, nil
	}
	var zero T
	return false, zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
}
