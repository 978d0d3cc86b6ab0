package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	object  any
	expires time.Time
	seq     uint64
}

type inMemoryCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cache     map[string]*entry
	locks     map[string]time.Time
	seq       uint64
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Store = (*inMemoryCache)(nil)

// NewInMemory returns the in-process Store. Entries expire lazily on Get
// and eagerly on a background sweep. When a max size is configured, adding
// a new key beyond the bound evicts the oldest valid entry by insertion
// order; access does not refresh an entry's position.
func NewInMemory(parent context.Context, opts ...Option) Store {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryCache{
		ctx:    ctx,
		cancel: cancel,
		cache:  make(map[string]*entry),
		locks:  make(map[string]time.Time),
		cfg:    cfg,
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}

func (c *inMemoryCache) Get(_ context.Context, key string) (bool, any, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	val, ok := c.cache[key]
	if !ok {
		return false, nil, nil
	}
	if val.expires.Before(time.Now()) {
		delete(c.cache, key)
		return false, nil, nil
	}
	return true, val.object, nil
}

// purgeExpired removes dead entries. Caller must hold the mutex.
func (c *inMemoryCache) purgeExpired(now time.Time) {
	for key, val := range c.cache {
		if val.expires.Before(now) {
			delete(c.cache, key)
		}
	}
}

// evictOldest removes the valid entry with the smallest insertion order.
// Caller must hold the mutex.
func (c *inMemoryCache) evictOldest() {
	var oldestKey string
	var oldestSeq uint64
	first := true
	for key, val := range c.cache {
		if first || val.seq < oldestSeq {
			oldestKey = key
			oldestSeq = val.seq
			first = false
		}
	}
	if !first {
		delete(c.cache, oldestKey)
	}
}

func (c *inMemoryCache) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.defaultExpires
	}
	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.seq++
	if v, ok := c.cache[key]; ok {
		v.object = val
		v.expires = now.Add(ttl)
		v.seq = c.seq
		return nil
	}
	if c.cfg.maxSize > 0 && len(c.cache) >= c.cfg.maxSize {
		c.purgeExpired(now)
		if len(c.cache) >= c.cfg.maxSize {
			c.evictOldest()
		}
	}
	c.cache[key] = &entry{object: val, expires: now.Add(ttl), seq: c.seq}
	return nil
}

func (c *inMemoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	_, ok := c.cache[key]
	if ok {
		delete(c.cache, key)
	}
	c.mutex.Unlock()
	return ok, nil
}

func (c *inMemoryCache) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if expires, ok := c.locks[key]; ok && expires.After(now) {
		return false, nil
	}
	c.locks[key] = now.Add(ttl)
	return true, nil
}

func (c *inMemoryCache) ReleaseLock(_ context.Context, key string) error {
	c.mutex.Lock()
	delete(c.locks, key)
	c.mutex.Unlock()
	return nil
}

func (c *inMemoryCache) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *inMemoryCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mutex.Lock()
			c.purgeExpired(now)
			for key, expires := range c.locks {
				if expires.Before(now) {
					delete(c.locks, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}
