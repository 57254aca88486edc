// Package reportcache is a TTL-backed in-memory cache for the catalog's
// analytical rollups (sales summary, top products, customer stats). These
// reporting queries scan the fact table; caching them for a few minutes
// keeps repeated CLI invocations cheap without touching the write path.
package reportcache

import (
	"sync"
	"time"
)

// Cache maps report keys to computed results with per-entry expiry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration

	now func() time.Time
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// New builds a Cache whose entries live for ttl. A ttl <= 0 defaults to
// five minutes.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for key if present and unexpired. Expired
// entries are removed on access rather than by a background sweeper: the
// key space (a handful of report names) is too small to leak meaningfully.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with a fresh TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops key immediately so the next Get for it misses.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// GetOrCompute returns the cached value for key, computing and caching it
// via fn on a miss. Compute errors are returned uncached.
func (c *Cache) GetOrCompute(key string, fn func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	c.Set(key, v)
	return v, nil
}
