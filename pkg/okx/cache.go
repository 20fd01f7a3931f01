package okx

import (
	"sync"
	"time"

	"nakula/pkg/core"
)

// dataCache keeps the latest payload per subscription with TTL expiry,
// so callers can read the most recent tick without touching REST when
// the stream is healthy. Expired entries are dropped lazily on read.
type dataCache struct {
	mu    sync.RWMutex
	items map[core.SubscriptionKey]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	value     any
	updatedAt time.Time
	expiresAt time.Time
}

func newDataCache(ttl time.Duration) *dataCache {
	return &dataCache{
		items: make(map[core.SubscriptionKey]*cacheEntry),
		ttl:   ttl,
	}
}

// set stores the latest payload for a subscription.
func (c *dataCache) set(key core.SubscriptionKey, value any) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &cacheEntry{
		value:     value,
		updatedAt: now,
		expiresAt: now.Add(c.ttl),
	}
}

// get returns the cached payload and its age, or nil when the entry is
// missing or stale.
func (c *dataCache) get(key core.SubscriptionKey) (any, time.Duration) {
	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		return nil, 0
	}
	now := time.Now()
	if now.After(entry.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock; another writer may have
		// refreshed the entry meanwhile.
		if cur, ok := c.items[key]; ok && now.After(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, 0
	}
	return entry.value, now.Sub(entry.updatedAt)
}

// delete removes one entry.
func (c *dataCache) delete(key core.SubscriptionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// clear removes every entry.
func (c *dataCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[core.SubscriptionKey]*cacheEntry)
}

// len counts live (unexpired) entries.
func (c *dataCache) len() int {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, entry := range c.items {
		if now.Before(entry.expiresAt) {
			n++
		}
	}
	return n
}
