// Package cache implements the two-tier cache behind the market-data tools:
// a process-local TTL cache and an optional redis-backed distributed tier,
// plus the cache-aside [Coordinator] that keeps provider fetches to at most
// one in flight per key.
//
// # Tiers
//
//   - [NewInMemory]: mutex-guarded map with TTL expiry and a bounded size.
//     When full, the valid entry with the oldest insertion order is evicted;
//     reads do not refresh an entry's position. Expired entries are purged
//     lazily on Get and eagerly by a background sweep.
//
//   - [NewRedis]: redis-backed tier sharing state across worker processes.
//     Values are msgpack-encoded. Every remote failure marks the tier
//     degraded for a cooldown window and serves the call from the local
//     fallback instead, so cache trouble never reaches a caller; after the
//     cooldown the next call re-attempts redis.
//
// Both tiers also implement [Locker]: a TTL'd mutual-exclusion token per key
// (SET NX on redis, an expiring token table in memory) used by the
// coordinator for cross-process single-flight.
//
// # Cache-aside
//
// [Fetch] is the read path used by all tool handlers:
//
//	ticker, err := cache.Fetch(ctx, co, "ticker:BTC/USDT",
//	    func(ctx context.Context) (marketdata.Ticker, error) {
//	        return provider.FetchTicker(ctx, "BTC/USDT")
//	    })
//
// On a miss the winner takes the key lock, fetches, populates the cache and
// releases; concurrent losers poll the cache for the winner's value and only
// fetch directly if the winner never delivers (bounded wait over guaranteed
// dedup). Fetch failures propagate and are never cached.
package cache
