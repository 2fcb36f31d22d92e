// Package vindex is the virtual directory index for backends that have no
// native directory tree. Chat backends store file bytes as message
// attachments; the node rows here carry the hierarchy, the metadata and the
// content manifest that maps a file onto its attachments.
package vindex

import (
	"path"
	"time"
)

// Node is one virtual file or directory, scoped to a storage config.
type Node struct {
	StorageConfigID string `gorm:"primaryKey;size:36" json:"storage_config_id"`
	FSPath          string `gorm:"primaryKey;size:1024" json:"fs_path"`

	ParentPath string `gorm:"not null;size:1024;index" json:"parent_path"`
	Name       string `gorm:"not null;size:512" json:"name"`
	IsDir      bool   `gorm:"not null" json:"is_dir"`

	Size       int64     `json:"size"`
	MimeType   string    `gorm:"size:255" json:"mime_type,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`

	// ContentRef is the opaque content manifest of a file, JSON-encoded.
	// Directories leave it empty.
	ContentRef string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Node.
func (Node) TableName() string {
	return "vfs_nodes"
}

// RemoveOutcome is the per-path result of RemoveBatch.
type RemoveOutcome struct {
	Path string
	Err  error
}

// Normalize cleans a node path into the canonical absolute form.
func Normalize(fsPath string) string {
	return path.Clean("/" + fsPath)
}

// Parent returns the parent of a normalized path ("/" parents itself).
func Parent(fsPath string) string {
	return path.Dir(Normalize(fsPath))
}

// BaseName returns the last element of a normalized path.
func BaseName(fsPath string) string {
	return path.Base(Normalize(fsPath))
}

// rootNode is the synthetic directory every tree hangs off.
func rootNode(storageConfigID string) *Node {
	return &Node{
		StorageConfigID: storageConfigID,
		FSPath:          "/",
		ParentPath:      "/",
		Name:            "/",
		IsDir:           true,
	}
}
