package fs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatefs/gatefs/pkg/storage"
)

func listing(names ...string) []storage.ItemInfo {
	items := make([]storage.ItemInfo, 0, len(names))
	for _, n := range names {
		items = append(items, storage.ItemInfo{Name: n, Path: "/" + n})
	}
	return items
}

func TestListingCachePutGet(t *testing.T) {
	cache := NewListingCache(time.Minute, 8)

	cache.Put("m1", "/docs", listing("a.txt", "b.txt"))

	items, ok := cache.Get("m1", "/docs/")
	require.True(t, ok)
	assert.Len(t, items, 2)

	_, ok = cache.Get("m1", "/other")
	assert.False(t, ok)
	_, ok = cache.Get("m2", "/docs")
	assert.False(t, ok)
}

func TestListingCacheExpiry(t *testing.T) {
	cache := NewListingCache(10*time.Millisecond, 8)

	cache.Put("m1", "/docs", listing("a.txt"))
	time.Sleep(25 * time.Millisecond)

	_, ok := cache.Get("m1", "/docs")
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestListingCacheInvalidateDropsDescendants(t *testing.T) {
	cache := NewListingCache(time.Minute, 16)
	cache.Put("m1", "/", listing("docs"))
	cache.Put("m1", "/docs", listing("sub"))
	cache.Put("m1", "/docs/sub", listing("deep.txt"))
	cache.Put("m1", "/other", listing("x.txt"))

	require.NoError(t, cache.Invalidate(context.Background(), "m1", []string{"/docs"}))

	_, ok := cache.Get("m1", "/docs")
	assert.False(t, ok)
	_, ok = cache.Get("m1", "/docs/sub")
	assert.False(t, ok)

	_, ok = cache.Get("m1", "/")
	assert.True(t, ok)
	_, ok = cache.Get("m1", "/other")
	assert.True(t, ok)
}

func TestListingCacheInvalidateMountLevel(t *testing.T) {
	cache := NewListingCache(time.Minute, 16)
	cache.Put("m1", "/docs", listing("a.txt"))
	cache.Put("m1", "/other", listing("b.txt"))
	cache.Put("m2", "/docs", listing("c.txt"))

	require.NoError(t, cache.Invalidate(context.Background(), "m1", nil))

	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Get("m2", "/docs")
	assert.True(t, ok)
}

func TestListingCacheEvictsAtCapacity(t *testing.T) {
	cache := NewListingCache(time.Minute, 3)

	for i := 0; i < 5; i++ {
		cache.Put("m1", fmt.Sprintf("/d%d", i), listing("f.txt"))
	}

	assert.Equal(t, 3, cache.Len())
}
