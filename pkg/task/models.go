// Package task runs background jobs: a registry of typed handlers, a
// catalog of per-type policy, a badger-backed job store and an engine
// with a bounded queue, worker pool, cooperative cancellation and
// progress fan-out. Handlers own their payload and stats shapes; the
// engine stores both as raw JSON.
package task

import (
	"encoding/json"
	"time"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the job reached a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Trigger records who started the job.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerSystem Trigger = "system"
)

// UserType records the privilege level of the submitting user.
type UserType string

const (
	UserTypeAdmin UserType = "admin"
	UserTypeUser  UserType = "user"
)

// Actor identifies the caller of an engine operation.
type Actor struct {
	UserID      string
	Admin       bool
	Permissions []string
}

// HasPermission reports whether the actor carries the named permission.
// Admins implicitly hold every permission.
func (a Actor) HasPermission(perm string) bool {
	if a.Admin {
		return true
	}
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Job is one background job record. Payload and Stats are opaque to the
// engine; their shapes belong to the handler of Type.
type Job struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status Status `json:"status"`

	Payload json.RawMessage `json:"payload,omitempty"`
	Stats   json.RawMessage `json:"stats,omitempty"`

	UserID   string   `json:"user_id"`
	UserType UserType `json:"user_type"`
	Trigger  Trigger  `json:"trigger"`

	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy so subscribers and handlers never share
// mutable state with the engine.
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Stats != nil {
		c.Stats = append(json.RawMessage(nil), j.Stats...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// AllowedActions tells a client which mutations the catalog permits on a
// job in its current state.
type AllowedActions struct {
	CanCancel bool `json:"canCancel"`
	CanDelete bool `json:"canDelete"`
	CanRetry  bool `json:"canRetry"`
}
