package logger

import (
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently across
// subsystems so logs stay queryable after aggregation.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Request / operation
	KeyRequestID = "request_id"
	KeyOperation = "operation"
	KeyStatus    = "status"
	KeyClientIP  = "client_ip"
	KeyUserID    = "user_id"

	// Virtual filesystem
	KeyMount   = "mount"
	KeyPath    = "path"
	KeyOldPath = "old_path"
	KeyNewPath = "new_path"
	KeySize    = "size"
	KeyEntries = "entries"

	// Storage backends
	KeyStorageType   = "storage_type"
	KeyStorageConfig = "storage_config"
	KeyBucket        = "bucket"
	KeyKey           = "key"
	KeyAttempt       = "attempt"
	KeyMaxRetries    = "max_retries"

	// Multipart uploads
	KeyUploadID   = "upload_id"
	KeyPartNo     = "part_no"
	KeyTotalParts = "total_parts"
	KeyBytes      = "bytes"
	KeyStrategy   = "strategy"

	// Search index
	KeyRunID     = "run_id"
	KeyDirtyOps  = "dirty_ops"
	KeyBatchSize = "batch_size"

	// Background jobs
	KeyJobID   = "job_id"
	KeyJobType = "job_type"
	KeyTrigger = "trigger"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// Typed attr constructors for the hot keys. Anything rarer goes through
// slog.String and friends directly.

func TraceID(id string) slog.Attr  { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr   { return slog.String(KeySpanID, id) }
func Mount(id string) slog.Attr    { return slog.String(KeyMount, id) }
func Path(p string) slog.Attr      { return slog.String(KeyPath, p) }
func OldPath(p string) slog.Attr   { return slog.String(KeyOldPath, p) }
func NewPath(p string) slog.Attr   { return slog.String(KeyNewPath, p) }
func Size(n int64) slog.Attr       { return slog.Int64(KeySize, n) }
func UploadID(id string) slog.Attr { return slog.String(KeyUploadID, id) }
func PartNo(n int) slog.Attr       { return slog.Int(KeyPartNo, n) }
func JobID(id string) slog.Attr    { return slog.String(KeyJobID, id) }
func JobType(t string) slog.Attr   { return slog.String(KeyJobType, t) }
func RunID(id string) slog.Attr    { return slog.String(KeyRunID, id) }
func UserID(id string) slog.Attr   { return slog.String(KeyUserID, id) }
func Attempt(n int) slog.Attr      { return slog.Int(KeyAttempt, n) }

// Err returns an attr for an error, or the zero attr for nil so it can be
// passed unconditionally.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns an attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
