package fs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gatefs/gatefs/pkg/storage"
)

// Listing cache sizing. Listings are hot for seconds while a client browses;
// a short TTL keeps staleness bounded without a write-through protocol.
const (
	DefaultListingTTL      = 30 * time.Second
	DefaultListingCapacity = 512
)

// ListingCache memoizes directory listings per (mount, directory). It
// implements DirCacheInvalidator: invalidating a directory also drops every
// cached descendant, so removals collapsed to a parent stay correct.
type ListingCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[listingKey]listingEntry
}

type listingKey struct {
	mountID string
	dir     string
}

type listingEntry struct {
	items   []storage.ItemInfo
	expires time.Time
}

// NewListingCache builds a cache. Non-positive arguments select the
// defaults.
func NewListingCache(ttl time.Duration, maxSize int) *ListingCache {
	if ttl <= 0 {
		ttl = DefaultListingTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultListingCapacity
	}
	return &ListingCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[listingKey]listingEntry),
	}
}

// Get returns the cached listing of a directory, if fresh.
func (c *ListingCache) Get(mountID, dir string) ([]storage.ItemInfo, bool) {
	key := listingKey{mountID: mountID, dir: CleanPath(dir)}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.items, true
}

// Put stores a listing. At capacity the entry closest to expiry is evicted.
func (c *ListingCache) Put(mountID, dir string, items []storage.ItemInfo) {
	key := listingKey{mountID: mountID, dir: CleanPath(dir)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictSoonestLocked()
	}
	c.entries[key] = listingEntry{items: items, expires: time.Now().Add(c.ttl)}
}

func (c *ListingCache) evictSoonestLocked() {
	var victim listingKey
	var soonest time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.expires.Before(soonest) {
			victim, soonest, first = key, entry.expires, false
		}
	}
	if !first {
		delete(c.entries, victim)
	}
}

// Invalidate implements DirCacheInvalidator. Empty dirs drops the whole
// mount; otherwise each directory and all of its cached descendants go.
func (c *ListingCache) Invalidate(_ context.Context, mountID string, dirs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(dirs) == 0 {
		for key := range c.entries {
			if key.mountID == mountID {
				delete(c.entries, key)
			}
		}
		return nil
	}

	for _, dir := range dirs {
		cleaned := CleanPath(dir)
		prefix := cleaned
		if prefix != "/" {
			prefix += "/"
		}
		for key := range c.entries {
			if key.mountID != mountID {
				continue
			}
			if key.dir == cleaned || strings.HasPrefix(key.dir, prefix) {
				delete(c.entries, key)
			}
		}
	}
	return nil
}

// Len reports the number of cached listings.
func (c *ListingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
