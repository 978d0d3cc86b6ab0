package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/coinmesh/marketbroker/logger"
)

// DefaultPollInterval is how often a follower re-checks the cache while
// another fetch for the same key is in flight.
const DefaultPollInterval = 100 * time.Millisecond

// DefaultPollAttempts bounds how long a follower waits before giving up on
// the lock holder and fetching directly.
const DefaultPollAttempts = 50

// Coordinator orchestrates cache-aside reads with single-flight semantics:
// check cache, take the per-key lock, fetch from the source, populate the
// cache, release the lock. Followers that lose the lock race poll the cache
// for the winner's result; if the holder dies without populating, they fall
// through to a direct fetch rather than waiting forever.
type Coordinator struct {
	store        Store
	group        singleflight.Group
	log          logger.Logger
	dataTTL      time.Duration
	lockTTL      time.Duration
	pollInterval time.Duration
	pollAttempts int
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithDataTTL sets the TTL applied to fetched values.
func WithDataTTL(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.dataTTL = d }
}

// WithLockTTL bounds how long a crashed fetch holder can block followers.
func WithLockTTL(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.lockTTL = d }
}

// WithPollInterval sets the follower polling granularity.
func WithPollInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.pollInterval = d }
}

// WithPollAttempts bounds the number of follower polls before the direct
// fetch fallback.
func WithPollAttempts(n int) CoordinatorOption {
	return func(c *Coordinator) { c.pollAttempts = n }
}

func NewCoordinator(store Store, log logger.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:        store,
		log:          log.With(map[string]interface{}{"component": "cache.coordinator"}),
		dataTTL:      DefaultExpires,
		lockTTL:      5 * time.Second,
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchFunc produces a value from the source of truth. Its failures are
// propagated to the caller and never cached.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Fetch returns the value for key, preferring the cache and guaranteeing at
// most one source fetch per key per miss window. Concurrent callers within
// the process are collapsed by singleflight; callers in other processes are
// excluded by the store's lock and pick the value up from the cache.
func Fetch[T any](ctx context.Context, c *Coordinator, key string, fetch FetchFunc[T]) (T, error) {
	if val, ok := lookup[T](ctx, c, key); ok {
		return val, nil
	}
	res, err, _ := c.group.Do(key, func() (any, error) {
		return fetchMiss(ctx, c, key, fetch)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// lookup reads the cache, treating a corrupt stored value as a miss. The bad
// entry is deleted so the fetch path can repopulate it.
func lookup[T any](ctx context.Context, c *Coordinator, key string) (T, bool) {
	var zero T
	found, raw, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return zero, false
	}
	ok, val, err := Decode[T](raw)
	if err != nil {
		c.log.Warn("dropping undecodable cache entry %s: %s", key, err)
		c.store.Delete(ctx, key)
		return zero, false
	}
	return val, ok
}

func fetchMiss[T any](ctx context.Context, c *Coordinator, key string, fetch FetchFunc[T]) (any, error) {
	acquired, err := c.store.AcquireLock(ctx, key, c.lockTTL)
	if err != nil {
		// The lock layer degrades internally; an error here means even the
		// local fallback failed, so fetch directly.
		acquired = true
	}
	if acquired {
		val, err := fetch(ctx)
		if err != nil {
			c.store.ReleaseLock(ctx, key)
			return nil, err
		}
		if serr := c.store.Set(ctx, key, val, c.dataTTL); serr != nil {
			c.log.Warn("failed to cache %s: %s", key, serr)
		}
		c.store.ReleaseLock(ctx, key)
		return val, nil
	}

	// Another fetch is in flight; wait for its result to land in the cache.
	for i := 0; i < c.pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		if val, ok := lookup[T](ctx, c, key); ok {
			return val, nil
		}
	}

	// The lock holder crashed or failed. A duplicate fetch beats an
	// unbounded wait.
	c.log.Debug("lock holder for %s never populated the cache, fetching directly", key)
	val, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if serr := c.store.Set(ctx, key, val, c.dataTTL); serr != nil {
		c.log.Warn("failed to cache %s: %s", key, serr)
	}
	return val, nil
}
