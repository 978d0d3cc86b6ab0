package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinmesh/marketbroker/logger"
)

func newTestCoordinator(t *testing.T, opts ...CoordinatorOption) (*Coordinator, Store) {
	t.Helper()
	store := NewInMemory(context.Background())
	t.Cleanup(func() { store.Close() })
	return NewCoordinator(store, logger.NewTestLogger(), opts...), store
}

func TestFetchCacheHit(t *testing.T) {
	ctx := context.Background()
	co, store := newTestCoordinator(t)

	require.NoError(t, store.Set(ctx, "ticker:BTC/USDT", 50000.0, time.Minute))
	var calls atomic.Int32
	val, err := Fetch(ctx, co, "ticker:BTC/USDT", func(ctx context.Context) (float64, error) {
		calls.Add(1)
		return 0, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 50000.0, val)
	assert.Equal(t, int32(0), calls.Load(), "cache hit must not touch the provider")
}

func TestFetchMissPopulatesCache(t *testing.T) {
	ctx := context.Background()
	co, store := newTestCoordinator(t, WithDataTTL(time.Minute))

	var calls atomic.Int32
	fetch := func(ctx context.Context) (float64, error) {
		calls.Add(1)
		return 50000.0, nil
	}

	val, err := Fetch(ctx, co, "ticker:BTC/USDT", fetch)
	assert.NoError(t, err)
	assert.Equal(t, 50000.0, val)
	assert.Equal(t, int32(1), calls.Load())

	// Second identical request within the TTL window: zero provider calls.
	val, err = Fetch(ctx, co, "ticker:BTC/USDT", fetch)
	assert.NoError(t, err)
	assert.Equal(t, 50000.0, val)
	assert.Equal(t, int32(1), calls.Load())

	// The lock was released on completion.
	ok, _ := store.AcquireLock(ctx, "ticker:BTC/USDT", time.Minute)
	assert.True(t, ok)
}

func TestFetchSingleFlight(t *testing.T) {
	ctx := context.Background()
	co, _ := newTestCoordinator(t, WithDataTTL(time.Minute))

	var calls atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, err := Fetch(ctx, co, "ticker:ETH/USDT", fetch)
			assert.NoError(t, err)
			results[i] = val
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent misses must collapse to one fetch")
	for _, r := range results {
		assert.Equal(t, 42, r)
	}
}

func TestFetchErrorNotCached(t *testing.T) {
	ctx := context.Background()
	co, store := newTestCoordinator(t)

	var calls atomic.Int32
	boom := errors.New("exchange unavailable")
	_, err := Fetch(ctx, co, "ticker:BTC/USDT", func(ctx context.Context) (float64, error) {
		calls.Add(1)
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	found, _, _ := store.Get(ctx, "ticker:BTC/USDT")
	assert.False(t, found, "errors must not be cached")

	// The lock was released on failure so a retry can proceed immediately.
	val, err := Fetch(ctx, co, "ticker:BTC/USDT", func(ctx context.Context) (float64, error) {
		calls.Add(1)
		return 49000.0, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 49000.0, val)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchFollowerPicksUpWinnerValue(t *testing.T) {
	ctx := context.Background()
	co, store := newTestCoordinator(t,
		WithPollInterval(10*time.Millisecond), WithPollAttempts(50))

	// Simulate a fetch in flight in another process by holding the lock.
	ok, err := store.AcquireLock(ctx, "ohlcv:BTC/USDT:1h:100", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	var calls atomic.Int32
	done := make(chan struct{})
	var got []int
	go func() {
		defer close(done)
		val, ferr := Fetch(ctx, co, "ohlcv:BTC/USDT:1h:100", func(ctx context.Context) ([]int, error) {
			calls.Add(1)
			return nil, errors.New("should not be called")
		})
		assert.NoError(t, ferr)
		got = val
	}()

	// The "other process" completes and populates the cache.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, store.Set(ctx, "ohlcv:BTC/USDT:1h:100", []int{1, 2, 3}, time.Minute))
	require.NoError(t, store.ReleaseLock(ctx, "ohlcv:BTC/USDT:1h:100"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("follower never returned")
	}
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, int32(0), calls.Load(), "follower must use the winner's value")
}

func TestFetchCrashedHolderFallsThrough(t *testing.T) {
	ctx := context.Background()
	co, store := newTestCoordinator(t,
		WithPollInterval(5*time.Millisecond), WithPollAttempts(3), WithDataTTL(time.Minute))

	// A crashed holder: lock taken, cache never populated.
	ok, err := store.AcquireLock(ctx, "ticker:BTC/USDT", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	var calls atomic.Int32
	val, err := Fetch(ctx, co, "ticker:BTC/USDT", func(ctx context.Context) (float64, error) {
		calls.Add(1)
		return 51000.0, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 51000.0, val)
	assert.Equal(t, int32(1), calls.Load(), "bounded wait then direct fetch")

	// The fallback fetch still populates the cache for later readers.
	found, _, _ := store.Get(ctx, "ticker:BTC/USDT")
	assert.True(t, found)
}

func TestFetchContextCancelledWhilePolling(t *testing.T) {
	co, store := newTestCoordinator(t,
		WithPollInterval(20*time.Millisecond), WithPollAttempts(1000))

	ctx, cancel := context.WithCancel(context.Background())
	ok, _ := store.AcquireLock(ctx, "slow", time.Minute)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		_, err := Fetch(ctx, co, "slow", func(ctx context.Context) (int, error) {
			return 0, nil
		})
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled follower never returned")
	}
}

func TestFetchDropsCorruptEntry(t *testing.T) {
	ctx := context.Background()
	co, store := newTestCoordinator(t, WithDataTTL(time.Minute))

	// A value that cannot decode into the requested type behaves as a miss
	// and gets replaced by a fresh fetch.
	require.NoError(t, store.Set(ctx, "ticker:BTC/USDT", []byte{0xc1}, time.Minute))

	var calls atomic.Int32
	val, err := Fetch(ctx, co, "ticker:BTC/USDT", func(ctx context.Context) (float64, error) {
		calls.Add(1)
		return 50000.0, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 50000.0, val)
	assert.Equal(t, int32(1), calls.Load())
}
