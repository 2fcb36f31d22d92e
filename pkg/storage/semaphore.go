package storage

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultBackendConcurrency is the per-config concurrent call budget for
// rate-limited backends.
const DefaultBackendConcurrency = 2

// SemaphoreRegistry hands out one weighted semaphore per storage config.
// Rate-limited backends (the chat API) gate every call through it, so all
// drivers built on the same config share one budget.
type SemaphoreRegistry struct {
	mu     sync.Mutex
	weight int64
	sems   map[string]*semaphore.Weighted
}

// NewSemaphoreRegistry creates a registry with the given per-config weight.
// Non-positive weights fall back to DefaultBackendConcurrency.
func NewSemaphoreRegistry(weight int64) *SemaphoreRegistry {
	if weight <= 0 {
		weight = DefaultBackendConcurrency
	}
	return &SemaphoreRegistry{
		weight: weight,
		sems:   make(map[string]*semaphore.Weighted),
	}
}

// Get returns the semaphore of the given storage config, creating it on
// first use.
func (r *SemaphoreRegistry) Get(storageConfigID string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()

	sem, ok := r.sems[storageConfigID]
	if !ok {
		sem = semaphore.NewWeighted(r.weight)
		r.sems[storageConfigID] = sem
	}
	return sem
}
