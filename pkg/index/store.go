package index

import (
	"context"
	"time"
)

// Search paging bounds. Requests beyond MaxSearchLimit are clamped, not
// rejected, so clients cannot DoS the index with huge pages.
const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 500
)

// Scope selects how much of the tree a search covers.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeMount     Scope = "mount"
	ScopeDirectory Scope = "directory"
)

// UpsertOptions modifies a batch upsert.
type UpsertOptions struct {
	// RunID tags the rows as belonging to a rebuild run. Empty clears the
	// tag (reconciliation writes).
	RunID string
}

// Query is one search request. AllowedMountIDs is the caller's visibility
// set; scope narrows within it.
type Query struct {
	Text            string
	AllowedMountIDs []string
	Scope           Scope
	MountID         string
	PathPrefix      string
	Limit           int
	Cursor          string
}

// Result is a search response page.
type Result struct {
	Entries        []Entry  `json:"results"`
	Total          int64    `json:"total"`
	HasMore        bool     `json:"hasMore"`
	NextCursor     string   `json:"nextCursor,omitempty"`
	IndexReady     bool     `json:"indexReady"`
	SkippedMounts  []string `json:"skippedMounts,omitempty"`
	PathRestricted bool     `json:"pathRestricted,omitempty"`
}

// Store persists the search index, its dirty queue and per-mount states.
type Store interface {
	// UpsertEntries batch insert-or-replaces entries. Callers size batches
	// (100-1000 rows).
	UpsertEntries(ctx context.Context, entries []Entry, opts UpsertOptions) error

	// GetEntry returns one entry, fault.NotFound when the path is unindexed.
	GetEntry(ctx context.Context, mountID, fsPath string) (*Entry, error)

	// DeleteEntry removes one entry; missing rows are not an error.
	DeleteEntry(ctx context.Context, mountID, fsPath string) error

	// DeleteByPathPrefix removes the directory marker and every descendant.
	// The prefix must end with "/".
	DeleteByPathPrefix(ctx context.Context, mountID, prefix string) error

	// CleanupMountByRunID retires every entry of the mount whose run tag
	// differs from runID. Called after a full rebuild.
	CleanupMountByRunID(ctx context.Context, mountID, runID string) (int64, error)

	// CleanupPrefixByRunID is CleanupMountByRunID scoped to a subtree.
	CleanupPrefixByRunID(ctx context.Context, mountID, prefix, runID string) (int64, error)

	// GetIndexStates returns the state of every requested mount; mounts
	// without a row come back as not_ready.
	GetIndexStates(ctx context.Context, mountIDs []string) (map[string]MountState, error)

	// MarkIndexing flags a rebuild in flight.
	MarkIndexing(ctx context.Context, mountID, jobID string) error

	// MarkReady records a successful rebuild.
	MarkReady(ctx context.Context, mountID, runID string, indexedAt time.Time) error

	// MarkError records a failed rebuild.
	MarkError(ctx context.Context, mountID, message string) error

	// UpsertDirty queues a reconciliation, coalescing on the dedupe key.
	UpsertDirty(ctx context.Context, item DirtyItem) error

	// ListDirtyBatch returns up to take items of a mount, oldest first.
	ListDirtyBatch(ctx context.Context, mountID string, take int) ([]DirtyItem, error)

	// DeleteDirtyByKeys removes consumed items.
	DeleteDirtyByKeys(ctx context.Context, keys []string) error

	// CountDirty reports the queue depth of a mount.
	CountDirty(ctx context.Context, mountID string) (int64, error)

	// ClearDirtyByMount empties the queue of a mount (rebuild supersedes it).
	ClearDirtyByMount(ctx context.Context, mountID string) error

	// Search runs a trigram-contains query over name and fs_path.
	Search(ctx context.Context, query Query) (*Result, error)
}
