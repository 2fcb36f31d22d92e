package storage

import (
	"sync"
	"time"
)

const (
	// DefaultInfoCacheTTL bounds how long a backend file-info answer is
	// trusted.
	DefaultInfoCacheTTL = 10 * time.Minute

	// DefaultInfoCacheCapacity bounds the number of memoized answers.
	DefaultInfoCacheCapacity = 500
)

type infoEntry[V any] struct {
	value      V
	expiresAt  time.Time
	lastAccess time.Time
}

// InfoCache memoizes backend lookups with a TTL and LRU eviction. Chat
// backends pay one API call per file-info resolve, so repeated stats of the
// same node go through here.
type InfoCache[V any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]*infoEntry[V]
	now      func() time.Time
}

// NewInfoCache creates a cache with the given TTL and capacity.
// Non-positive arguments take the defaults.
func NewInfoCache[V any](ttl time.Duration, capacity int) *InfoCache[V] {
	if ttl <= 0 {
		ttl = DefaultInfoCacheTTL
	}
	if capacity <= 0 {
		capacity = DefaultInfoCacheCapacity
	}
	return &InfoCache[V]{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*infoEntry[V]),
		now:      time.Now,
	}
}

// Get returns the cached value when present and fresh.
func (c *InfoCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	now := c.now()
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}

	entry.lastAccess = now
	return entry.value, true
}

// Put stores a value, evicting the least recently used entry when full.
func (c *InfoCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.entries[key]; ok {
		entry.value = value
		entry.expiresAt = now.Add(c.ttl)
		entry.lastAccess = now
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	c.entries[key] = &infoEntry[V]{
		value:      value,
		expiresAt:  now.Add(c.ttl),
		lastAccess: now,
	}
}

// Delete drops a key, typically after a mutation invalidates the answer.
func (c *InfoCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of cached entries, expired ones included.
func (c *InfoCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the entry with the oldest access time. Caller holds
// the lock.
func (c *InfoCache[V]) evictOldest() {
	var oldestKey string
	var oldest time.Time

	first := true
	for key, entry := range c.entries {
		if first || entry.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = entry.lastAccess
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
