// Package upload defines the persistent state of multipart upload sessions
// and their parts, plus the store that owns it. Sessions are backend-agnostic:
// the coordinator and the storage drivers interpret provider_meta, the store
// only guards lifecycle and counter invariants.
package upload

import (
	"encoding/json"
	"time"
)

// Strategy selects how part bytes reach the backend.
type Strategy string

const (
	// StrategyPerPartURL lets the client PUT each part directly to the
	// backend using presigned URLs.
	StrategyPerPartURL Strategy = "per_part_url"

	// StrategySingleSession has the client PUT each part to the gateway,
	// which forwards it to the backend.
	StrategySingleSession Strategy = "single_session"
)

// Status is the lifecycle state of an upload session.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAborted    Status = "aborted"
	StatusExpired    Status = "expired"
	StatusError      Status = "error"
)

// IsTerminal reports whether the status forbids further mutation.
// Expired and errored sessions stay patchable so the reaper and abort
// paths can finish them.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// ActiveStatuses are the states a resumable session can be in.
var ActiveStatuses = []Status{StatusInitiated, StatusInProgress}

// ReapableStatuses are the states the expiry reaper may take a session
// from. Expired is included so a session stamped but not yet aborted gets
// retried by the next sweep.
var ReapableStatuses = []Status{StatusInitiated, StatusInProgress, StatusExpired}

// PartStatus is the lifecycle state of a single part.
type PartStatus string

const (
	PartStatusPending   PartStatus = "pending"
	PartStatusUploading PartStatus = "uploading"
	PartStatusUploaded  PartStatus = "uploaded"
	PartStatusError     PartStatus = "error"
)

// Session is one in-flight multipart upload.
type Session struct {
	ID              string `gorm:"primaryKey;size:36" json:"id"`
	StorageType     string `gorm:"not null;size:50;index" json:"storage_type"`
	StorageConfigID string `gorm:"not null;size:36;index" json:"storage_config_id"`
	MountID         string `gorm:"not null;size:255;index" json:"mount_id"`
	FSPath          string `gorm:"not null;size:1024" json:"fs_path"`
	FileName        string `gorm:"not null;size:512" json:"file_name"`
	FileSize        int64  `gorm:"not null" json:"file_size"`
	MimeType        string `gorm:"size:255" json:"mime_type,omitempty"`

	Strategy   Strategy `gorm:"not null;size:32" json:"strategy"`
	PartSize   int64    `json:"part_size"`
	TotalParts int      `json:"total_parts"`

	BytesUploaded     int64  `json:"bytes_uploaded"`
	UploadedParts     int    `json:"uploaded_parts"`
	NextExpectedRange string `gorm:"size:64" json:"next_expected_range,omitempty"`

	ProviderUploadID string `gorm:"size:1024" json:"provider_upload_id,omitempty"`
	ProviderMeta     string `gorm:"type:text" json:"-"`

	Status      Status `gorm:"not null;size:20;index" json:"status"`
	Fingerprint string `gorm:"size:80;index" json:"fingerprint"`
	UserID      string `gorm:"not null;size:36;index" json:"user_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// TableName returns the table name for Session.
func (Session) TableName() string {
	return "upload_sessions"
}

// Meta returns the parsed provider metadata.
func (s *Session) Meta() (map[string]any, error) {
	if s.ProviderMeta == "" {
		return make(map[string]any), nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(s.ProviderMeta), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// SetMeta serializes provider metadata into the session.
func (s *Session) SetMeta(meta map[string]any) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	s.ProviderMeta = string(data)
	return nil
}

// IsExpired reports whether the session deadline passed at the given time.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

// Part is one uploaded byte range of a session.
type Part struct {
	UploadID string `gorm:"primaryKey;size:36" json:"upload_id"`
	PartNo   int    `gorm:"primaryKey" json:"part_no"`

	ByteStart int64 `json:"byte_start"`
	ByteEnd   int64 `json:"byte_end"`
	Size      int64 `json:"size"`

	Status         PartStatus `gorm:"not null;size:20" json:"status"`
	ProviderPartID string     `gorm:"size:1024" json:"provider_part_id,omitempty"`
	ProviderMeta   string     `gorm:"type:text" json:"-"`

	ErrorCode    string `gorm:"size:100" json:"error_code,omitempty"`
	ErrorMessage string `gorm:"size:1024" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Part.
func (Part) TableName() string {
	return "upload_parts"
}

// AllModels returns every model owned by this package, for migration.
func AllModels() []any {
	return []any{&Session{}, &Part{}}
}
