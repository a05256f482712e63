// Package cache provides read-through caching for the snapshot store.
// Snapshots are immutable once published, so caching cannot change
// analysis results; it only avoids repeated file or network reads when
// many runs share a partition.
package cache

import (
	"sync"
	"time"
)

// TTLCache is a small in-process cache with time-based expiration and
// LRU eviction at capacity.
type TTLCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	maxEntries int
	hits       int64
	misses     int64
}

type cacheEntry struct {
	value    interface{}
	expires  time.Time
	accessed time.Time
}

// NewTTLCache creates a cache holding at most maxEntries values.
func NewTTLCache(maxEntries int) *TTLCache {
	return &TTLCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
	}
}

// Get returns the cached value if present and unexpired.
func (c *TTLCache) Get(key string, now time.Time) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || now.After(entry.expires) {
		c.misses++
		return nil, false
	}
	entry.accessed = now
	c.hits++
	return entry.value, true
}

// Set stores a value with the given TTL, evicting the least recently
// accessed entry when at capacity.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}
	c.entries[key] = &cacheEntry{
		value:    value,
		expires:  now.Add(ttl),
		accessed: now,
	}
}

// Stats returns hit/miss counters.
func (c *TTLCache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *TTLCache) evictLRU() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.accessed.Before(oldest) {
			oldestKey, oldest = key, entry.accessed
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
