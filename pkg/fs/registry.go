// Package fs is the mount-facing surface of the gateway: a registry binding
// mount names to storage drivers, and a facade dispatching file operations
// by capability. Every successful mutation emits a cache-invalidation event
// consumed by the search index dirty queue and the listing cache.
package fs

import (
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
)

// Mount binds one VFS name to a storage backend.
type Mount struct {
	// ID is the identifier clients address, e.g. "documents".
	ID string

	// Name is the human-readable label. Defaults to ID.
	Name string

	// StorageType mirrors Driver.Type() for listings and session rows.
	StorageType string

	// StorageConfigID identifies the backend configuration the driver was
	// built from. Sessions and virtual index rows are scoped by it.
	StorageConfigID string

	Driver storage.Driver

	// PathPasswordHash is an optional bcrypt hash gating access to this
	// mount. Empty means no password.
	PathPasswordHash string
}

// VerifyPathPassword checks the supplied password against the mount hash.
// Mounts without a hash accept anything, including the empty string.
func (m *Mount) VerifyPathPassword(password string) error {
	if m.PathPasswordHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PathPasswordHash), []byte(password)); err != nil {
		return fault.Authorization("path password rejected for mount %s", m.ID)
	}
	return nil
}

// Registry is the thread-safe mount table. Mounts are registered at startup
// and looked up per request; removal exists for config reloads.
type Registry struct {
	mu     sync.RWMutex
	mounts map[string]*Mount
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mounts: make(map[string]*Mount)}
}

// Add registers a mount. Duplicate IDs are refused.
func (r *Registry) Add(m *Mount) error {
	if m == nil {
		return fault.Validation("cannot register a nil mount")
	}
	if m.ID == "" {
		return fault.Validation("cannot register a mount with an empty id")
	}
	if m.Driver == nil {
		return fault.Validation("mount %s has no driver", m.ID)
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if m.StorageType == "" {
		m.StorageType = m.Driver.Type()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mounts[m.ID]; exists {
		return fault.Conflict("mount %s is already registered", m.ID)
	}
	r.mounts[m.ID] = m
	return nil
}

// Get looks a mount up by ID.
func (r *Registry) Get(id string) (*Mount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.mounts[id]
	if !exists {
		return nil, fault.NotFound("mount %s not found", id)
	}
	return m, nil
}

// Remove unregisters a mount. The driver is not closed; it may be shared.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mounts[id]; !exists {
		return fault.NotFound("mount %s not found", id)
	}
	delete(r.mounts, id)
	return nil
}

// List returns all mounts ordered by ID. The slice is a copy.
func (r *Registry) List() []*Mount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mounts := make([]*Mount, 0, len(r.mounts))
	for _, m := range r.mounts {
		mounts = append(mounts, m)
	}
	sort.Slice(mounts, func(i, j int) bool { return mounts[i].ID < mounts[j].ID })
	return mounts
}

// IDs returns all mount IDs ordered. The slice is a copy.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.mounts))
	for id := range r.mounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
