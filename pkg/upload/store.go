package upload

import (
	"context"
	"time"
)

// Filter narrows ListActiveSessions. Zero fields are ignored.
type Filter struct {
	UserID      string
	StorageType string
	MountID     string
	PathPrefix  string
}

// Patch is a partial session update. Nil fields stay untouched.
type Patch struct {
	Status            *Status
	BytesUploaded     *int64
	UploadedParts     *int
	NextExpectedRange *string
	ProviderUploadID  *string
	ProviderMeta      *string
	ExpiresAt         *time.Time
}

// UploadedStats aggregates the uploaded parts of one session.
type UploadedStats struct {
	Bytes int64
	Parts int
}

// Store persists upload sessions and parts. All operations are single-row
// atomic; idempotency of UpsertPart rests on the (upload_id, part_no) key.
type Store interface {
	// CreateSession persists a new session with status initiated and
	// returns its id.
	CreateSession(ctx context.Context, session *Session) (string, error)

	// FindSession loads a session by id.
	FindSession(ctx context.Context, id string) (*Session, error)

	// FindSessionByFingerprint loads the newest active session of the user
	// matching the fingerprint. Used by initialize to resume.
	FindSessionByFingerprint(ctx context.Context, userID, fingerprint string) (*Session, error)

	// ListActiveSessions returns initiated and in_progress sessions
	// matching the filter, newest first.
	ListActiveSessions(ctx context.Context, filter Filter) ([]*Session, error)

	// ListExpiredSessions returns reapable sessions whose deadline passed,
	// soonest first. The expiry reaper feeds on this.
	ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*Session, error)

	// UpdateSession applies a partial update, refusing terminal-status
	// mutation and counter regression.
	UpdateSession(ctx context.Context, id string, patch Patch) error

	// UpsertPart inserts or replaces a part row.
	UpsertPart(ctx context.Context, part *Part) error

	// ClaimPart atomically marks a part as uploading. It inserts the row,
	// or takes over an existing pending or error row. Returns false when
	// another delivery already holds the part in uploading or uploaded
	// state.
	ClaimPart(ctx context.Context, part *Part) (bool, error)

	// GetPart loads one part.
	GetPart(ctx context.Context, uploadID string, partNo int) (*Part, error)

	// ListParts returns all parts of a session ordered by part number.
	ListParts(ctx context.Context, uploadID string) ([]*Part, error)

	// DeletePartsByUpload purges the part ledger of a finished session.
	DeletePartsByUpload(ctx context.Context, uploadID string) error

	// UploadedStatsByUploadIDs aggregates uploaded bytes and part counts
	// per session. Every requested id has an entry, zero-valued when the
	// session has no uploaded parts.
	UploadedStatsByUploadIDs(ctx context.Context, uploadIDs []string) (map[string]UploadedStats, error)
}
