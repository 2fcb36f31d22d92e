// Package index is the per-mount search index: entry rows describing VFS
// nodes, a dirty queue feeding reconciliation, per-mount state, and
// trigram-contains search. SQLite keeps an FTS5 shadow table maintained by
// triggers on the entry table; PostgreSQL searches the entry table itself
// through pg_trgm indexes. All mutations flow through the entry table, never
// through the shadow.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Entry is one indexed VFS node.
type Entry struct {
	MountID    string `gorm:"primaryKey;size:255" json:"mountId"`
	FSPath     string `gorm:"primaryKey;size:1024" json:"fsPath"`
	Name       string `gorm:"not null;size:512;index" json:"name"`
	IsDir      bool   `gorm:"not null" json:"isDir"`
	Size       int64  `json:"size"`
	ModifiedMs int64  `json:"modifiedMs"`
	Mimetype   string `gorm:"size:255" json:"mimetype,omitempty"`

	// IndexRunID tags the rebuild run that produced the row. Empty for
	// rows written outside a rebuild (dirty-queue reconciliation).
	IndexRunID string `gorm:"size:36;index" json:"-"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

// TableName returns the table name for Entry.
func (Entry) TableName() string {
	return "fs_index_entries"
}

// DirtyOp is the kind of pending index reconciliation.
type DirtyOp string

const (
	DirtyOpUpsert DirtyOp = "upsert"
	DirtyOpDelete DirtyOp = "delete"
)

// DirtyItem is one pending reconciliation of a path. Concurrent emissions
// coalesce on the dedupe key.
type DirtyItem struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	MountID   string    `gorm:"not null;size:255;index" json:"mountId"`
	FSPath    string    `gorm:"not null;size:1024" json:"fsPath"`
	Op        DirtyOp   `gorm:"not null;size:16" json:"op"`
	DedupeKey string    `gorm:"not null;size:64;uniqueIndex" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for DirtyItem.
func (DirtyItem) TableName() string {
	return "fs_index_dirty"
}

// DedupeKey derives the coalescing key of a dirty item.
func DedupeKey(mountID, fsPath string, op DirtyOp) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", mountID, fsPath, op))
	return hex.EncodeToString(sum[:])
}

// IndexStatus is the lifecycle state of a mount's index.
type IndexStatus string

const (
	IndexStatusNotReady IndexStatus = "not_ready"
	IndexStatusIndexing IndexStatus = "indexing"
	IndexStatusReady    IndexStatus = "ready"
	IndexStatusError    IndexStatus = "error"
)

// MountState is the per-mount index bookkeeping row.
type MountState struct {
	MountID       string      `gorm:"primaryKey;size:255" json:"mountId"`
	Status        IndexStatus `gorm:"not null;size:20" json:"status"`
	LastRunID     string      `gorm:"size:36" json:"lastRunId,omitempty"`
	LastIndexedAt *time.Time  `json:"lastIndexedAt,omitempty"`
	ErrorMessage  string      `gorm:"size:1024" json:"errorMessage,omitempty"`
	JobID         string      `gorm:"size:36" json:"jobId,omitempty"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for MountState.
func (MountState) TableName() string {
	return "fs_index_states"
}

// AllModels returns every plain model owned by this package, for migration.
// The FTS shadow is DDL-managed, not a gorm model.
func AllModels() []any {
	return []any{&Entry{}, &DirtyItem{}, &MountState{}}
}
