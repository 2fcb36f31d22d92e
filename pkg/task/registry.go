package task

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/gatefs/gatefs/pkg/fault"
)

// Result is what a handler reports on success. A zero Status means
// completed; StatusPartial marks a run where some units failed.
type Result struct {
	Status Status

	// Stats replaces the job's stats snapshot when non-nil.
	Stats any
}

// RunContext is the engine surface handlers see while executing.
// IsCancelled must be polled between units of work; UpdateProgress
// persists a stats snapshot and fans it out to subscribers. Handlers
// rate-limit their own progress calls.
type RunContext interface {
	IsCancelled() bool
	UpdateProgress(stats any)
}

// Handler implements one task type.
type Handler struct {
	Type string

	// ValidatePayload parses and validates the raw payload; the returned
	// value is handed to Execute. Nil means the type takes no payload.
	ValidatePayload func(raw json.RawMessage) (any, error)

	// NewStats builds the initial stats snapshot shown while the job is
	// pending. Optional.
	NewStats func(payload any) any

	Execute func(ctx context.Context, job *Job, payload any, rc RunContext) (Result, error)
}

// Registry maps task types to handlers. Construct one per process at
// startup; the engine checks it against the catalog.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Handler)}
}

// Register adds a handler. Duplicate types and nil Execute are refused.
func (r *Registry) Register(h *Handler) error {
	if h == nil || h.Type == "" {
		return fault.Validation("handler requires a task type")
	}
	if h.Execute == nil {
		return fault.Validation("handler %s has no execute function", h.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type]; exists {
		return fault.Conflict("handler %s is already registered", h.Type)
	}
	r.handlers[h.Type] = h
	return nil
}

// Get returns the handler of a task type.
func (r *Registry) Get(taskType string) (*Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	if !ok {
		return nil, fault.NotFound("no handler for task type %s", taskType)
	}
	return h, nil
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
