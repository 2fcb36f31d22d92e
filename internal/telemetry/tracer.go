package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for gateway operations. These follow OpenTelemetry
// semantic conventions where applicable; gateway-specific keys use their own
// component prefix.
const (
	// Client attributes
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"
	AttrUserID     = "user.id"

	// Virtual filesystem attributes
	AttrOperation = "fs.operation"
	AttrMount     = "fs.mount"
	AttrPath      = "fs.path"
	AttrSize      = "fs.size"
	AttrEntries   = "fs.entries"

	// Storage backend attributes
	AttrStorageType   = "storage.type"
	AttrStorageConfig = "storage.config"
	AttrBucket        = "storage.bucket"
	AttrKey           = "storage.key"

	// Multipart upload attributes
	AttrUploadID   = "upload.id"
	AttrPartNo     = "upload.part_no"
	AttrTotalParts = "upload.total_parts"
	AttrStrategy   = "upload.strategy"

	// Search index attributes
	AttrIndexRunID = "index.run_id"
	AttrIndexBatch = "index.batch"
	AttrQueryLen   = "search.query_len"
	AttrScope      = "search.scope"

	// Job attributes
	AttrJobID   = "job.id"
	AttrJobType = "job.type"
	AttrTrigger = "job.trigger"
)

// Span names. Format: <component>.<operation>.
const (
	SpanFSList     = "fs.list"
	SpanFSStat     = "fs.stat"
	SpanFSDownload = "fs.download"
	SpanFSMkdir    = "fs.mkdir"
	SpanFSRename   = "fs.rename"
	SpanFSCopy     = "fs.copy"
	SpanFSRemove   = "fs.remove"

	SpanUploadInit     = "multipart.init"
	SpanUploadSign     = "multipart.sign"
	SpanUploadParts    = "multipart.parts"
	SpanUploadComplete = "multipart.complete"
	SpanUploadAbort    = "multipart.abort"
	SpanUploadChunk    = "multipart.upload_chunk"

	SpanIndexSearch  = "index.search"
	SpanIndexUpsert  = "index.upsert"
	SpanIndexCleanup = "index.cleanup"

	SpanJobExecute = "job.execute"
)

func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

func UserID(id string) attribute.KeyValue {
	return attribute.String(AttrUserID, id)
}

func Mount(id string) attribute.KeyValue {
	return attribute.String(AttrMount, id)
}

func FSPath(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

func FSSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

func FSEntries(n int) attribute.KeyValue {
	return attribute.Int(AttrEntries, n)
}

func StorageType(t string) attribute.KeyValue {
	return attribute.String(AttrStorageType, t)
}

func StorageConfig(id string) attribute.KeyValue {
	return attribute.String(AttrStorageConfig, id)
}

func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

func PartNo(n int) attribute.KeyValue {
	return attribute.Int(AttrPartNo, n)
}

func TotalParts(n int) attribute.KeyValue {
	return attribute.Int(AttrTotalParts, n)
}

func Strategy(s string) attribute.KeyValue {
	return attribute.String(AttrStrategy, s)
}

func IndexRunID(id string) attribute.KeyValue {
	return attribute.String(AttrIndexRunID, id)
}

func JobID(id string) attribute.KeyValue {
	return attribute.String(AttrJobID, id)
}

func JobType(t string) attribute.KeyValue {
	return attribute.String(AttrJobType, t)
}

// StartFSSpan starts a span for a virtual filesystem operation.
func StartFSSpan(ctx context.Context, operation, mount, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		attribute.String(AttrOperation, operation),
		Mount(mount),
	}
	if path != "" {
		allAttrs = append(allAttrs, FSPath(path))
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "fs."+operation, trace.WithAttributes(allAttrs...))
}

// StartUploadSpan starts a span for a multipart upload operation.
func StartUploadSpan(ctx context.Context, operation, uploadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, 1+len(attrs))
	if uploadID != "" {
		allAttrs = append(allAttrs, UploadID(uploadID))
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "multipart."+operation, trace.WithAttributes(allAttrs...))
}

// StartIndexSpan starts a span for a search index operation.
func StartIndexSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "index."+operation, trace.WithAttributes(attrs...))
}

// StartJobSpan starts a span for a background job execution.
func StartJobSpan(ctx context.Context, jobType, jobID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		JobType(jobType),
		JobID(jobID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanJobExecute, trace.WithAttributes(allAttrs...))
}
