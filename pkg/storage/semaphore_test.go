package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreRegistrySharesPerConfig(t *testing.T) {
	registry := NewSemaphoreRegistry(2)

	a1 := registry.Get("cfg-a")
	a2 := registry.Get("cfg-a")
	b := registry.Get("cfg-b")

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
}

func TestSemaphoreRegistryEnforcesWeight(t *testing.T) {
	registry := NewSemaphoreRegistry(2)
	sem := registry.Get("cfg")

	ctx := context.Background()
	require.NoError(t, sem.Acquire(ctx, 1))
	require.NoError(t, sem.Acquire(ctx, 1))

	// budget exhausted
	assert.False(t, sem.TryAcquire(1))

	sem.Release(1)
	assert.True(t, sem.TryAcquire(1))

	sem.Release(2)
}

func TestSemaphoreRegistryDefaultWeight(t *testing.T) {
	registry := NewSemaphoreRegistry(0)
	sem := registry.Get("cfg")

	assert.True(t, sem.TryAcquire(DefaultBackendConcurrency))
	assert.False(t, sem.TryAcquire(1))
	sem.Release(DefaultBackendConcurrency)
}
