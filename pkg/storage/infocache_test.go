package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInfoCachePutGet(t *testing.T) {
	cache := NewInfoCache[string](time.Minute, 10)

	_, ok := cache.Get("a")
	assert.False(t, ok)

	cache.Put("a", "alpha")
	got, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", got)

	// overwrite keeps a single entry
	cache.Put("a", "alpha2")
	got, _ = cache.Get("a")
	assert.Equal(t, "alpha2", got)
	assert.Equal(t, 1, cache.Len())
}

func TestInfoCacheTTLExpiry(t *testing.T) {
	cache := NewInfoCache[int](time.Minute, 10)

	current := time.Now()
	cache.now = func() time.Time { return current }

	cache.Put("k", 42)

	current = current.Add(59 * time.Second)
	_, ok := cache.Get("k")
	assert.True(t, ok)

	current = current.Add(2 * time.Second)
	_, ok = cache.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestInfoCacheLRUEviction(t *testing.T) {
	cache := NewInfoCache[int](time.Minute, 3)

	current := time.Now()
	cache.now = func() time.Time { return current }

	cache.Put("a", 1)
	current = current.Add(time.Second)
	cache.Put("b", 2)
	current = current.Add(time.Second)
	cache.Put("c", 3)

	// touch "a" so "b" becomes the coldest
	current = current.Add(time.Second)
	_, ok := cache.Get("a")
	assert.True(t, ok)

	current = current.Add(time.Second)
	cache.Put("d", 4)

	_, ok = cache.Get("b")
	assert.False(t, ok)
	for _, key := range []string{"a", "c", "d"} {
		_, ok := cache.Get(key)
		assert.True(t, ok, "key %s should survive", key)
	}
}

func TestInfoCacheDelete(t *testing.T) {
	cache := NewInfoCache[string](time.Minute, 10)

	cache.Put("gone", "soon")
	cache.Delete("gone")

	_, ok := cache.Get("gone")
	assert.False(t, ok)
}

func TestInfoCacheDefaults(t *testing.T) {
	cache := NewInfoCache[string](0, 0)
	assert.Equal(t, DefaultInfoCacheTTL, cache.ttl)
	assert.Equal(t, DefaultInfoCacheCapacity, cache.capacity)
}
