package cache

import (
	"sync"
	"time"
)

// TTLCache is a tiny cache-aside helper for the hot reads the persistence
// gateway must keep fresh within a bounded staleness window (spec §4.2:
// latest snapshot, kill-switch, rules list may be cached with <=1s TTL).
type TTLCache struct {
	mu  sync.Mutex
	ttl time.Duration
	at  time.Time
	val any
	ok  bool
}

// NewTTLCache creates a single-slot cache with the given TTL.
func NewTTLCache(ttl time.Duration) *TTLCache {
	return &TTLCache{ttl: ttl}
}

// Get returns the cached value if it is still fresh.
func (c *TTLCache) Get() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ok || time.Since(c.at) > c.ttl {
		return nil, false
	}
	return c.val, true
}

// Set stores a fresh value, resetting the TTL clock.
func (c *TTLCache) Set(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = v
	c.at = time.Now()
	c.ok = true
}

// Invalidate forces the next Get to miss.
func (c *TTLCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ok = false
}

// GetOrLoad returns the cached value, or calls load and caches its result
// on a miss. Errors from load are never cached.
func (c *TTLCache) GetOrLoad(load func() (any, error)) (any, error) {
	if v, ok := c.Get(); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.Set(v)
	return v, nil
}
