package task

import (
	"sort"
	"sync"

	"github.com/gatefs/gatefs/pkg/fault"
)

// Visibility controls who may see and create a task type.
type Visibility string

const (
	// VisibilityAdminOnly hides the type from everyone but admins.
	VisibilityAdminOnly Visibility = "admin_only"

	// VisibilityOwnerOnly lets users run the type and see their own jobs,
	// optionally gated by Definition.Permission.
	VisibilityOwnerOnly Visibility = "owner_only"
)

// RetryMode declares whether and how a finished job can be retried.
type RetryMode string

const (
	RetryNone RetryMode = "none"

	// RetryCopy resubmits a failed or partial job as a fresh copy with the
	// same payload.
	RetryCopy RetryMode = "copy_retry"
)

// CreatePolicy bounds concurrent jobs of one type.
type CreatePolicy string

const (
	CreateUnrestricted CreatePolicy = "unrestricted"

	// CreateSingleFlight refuses a new job while one of the same type is
	// pending or running.
	CreateSingleFlight CreatePolicy = "single_flight"
)

// Definition is the catalog entry of one task type.
type Definition struct {
	Type       string
	Visibility Visibility

	// Permission further restricts owner_only types. Empty means any
	// authenticated user.
	Permission string

	CreatePolicy CreatePolicy
	Retry        RetryMode

	// TitleKey is the i18n key clients use to render the type.
	TitleKey string
}

// Catalog holds the per-type policy consulted for listing, authorization
// and allowed-action computation. The engine refuses to start unless the
// catalog and the handler registry cover the same types.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]Definition)}
}

// Define adds a catalog entry. Zero Visibility defaults to admin_only,
// zero CreatePolicy to unrestricted and zero Retry to none.
func (c *Catalog) Define(def Definition) error {
	if def.Type == "" {
		return fault.Validation("catalog definition requires a task type")
	}
	if def.Visibility == "" {
		def.Visibility = VisibilityAdminOnly
	}
	if def.CreatePolicy == "" {
		def.CreatePolicy = CreateUnrestricted
	}
	if def.Retry == "" {
		def.Retry = RetryNone
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[def.Type]; exists {
		return fault.Conflict("task type %s is already defined", def.Type)
	}
	c.defs[def.Type] = def
	return nil
}

// Get returns the definition of a task type.
func (c *Catalog) Get(taskType string) (Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[taskType]
	if !ok {
		return Definition{}, fault.NotFound("no catalog entry for task type %s", taskType)
	}
	return def, nil
}

// Types returns the defined task types, sorted.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]string, 0, len(c.defs))
	for t := range c.defs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ListVisibleTypes returns the task types the actor may see, sorted.
func (c *Catalog) ListVisibleTypes(actor Actor) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var types []string
	for t, def := range c.defs {
		if c.visibleTo(actor, def) {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

// CanCreate reports whether the actor may submit jobs of the type.
func (c *Catalog) CanCreate(actor Actor, taskType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[taskType]
	return ok && c.visibleTo(actor, def)
}

// CanView reports whether the actor may see the job at all. Admins see
// everything; owners see their own jobs of visible types.
func (c *Catalog) CanView(actor Actor, job *Job) bool {
	if job == nil {
		return false
	}
	if actor.Admin {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[job.Type]
	if !ok || !c.visibleTo(actor, def) {
		return false
	}
	return job.UserID == actor.UserID
}

// AllowedActions computes the mutations the actor may request on the job:
// cancel while pending or running, delete once neither, retry only for
// copy_retry types that ended failed or partial. Invisible jobs allow
// nothing.
func (c *Catalog) AllowedActions(actor Actor, job *Job) AllowedActions {
	if !c.CanView(actor, job) {
		return AllowedActions{}
	}

	c.mu.RLock()
	def := c.defs[job.Type]
	c.mu.RUnlock()

	active := job.Status == StatusPending || job.Status == StatusRunning
	return AllowedActions{
		CanCancel: active,
		CanDelete: !active,
		CanRetry:  def.Retry == RetryCopy && (job.Status == StatusFailed || job.Status == StatusPartial),
	}
}

func (c *Catalog) visibleTo(actor Actor, def Definition) bool {
	if actor.Admin {
		return true
	}
	if def.Visibility != VisibilityOwnerOnly {
		return false
	}
	return def.Permission == "" || actor.HasPermission(def.Permission)
}
