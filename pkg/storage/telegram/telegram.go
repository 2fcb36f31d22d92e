// Package telegram implements the chat-backed storage driver. File bytes
// live as document attachments in one chat; the directory tree, file
// metadata and the part manifests live in the virtual index. Uploads flow
// through the gateway (single_session): the client PUTs chunks, the driver
// forwards each as one sendDocument call.
package telegram

import (
	"time"

	"github.com/gatefs/gatefs/internal/retry"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/upload"
	"github.com/gatefs/gatefs/pkg/vindex"
)

// DriverType identifies this backend in sessions and mount configs.
const DriverType = "telegram"

const (
	// DefaultSessionTTL is how long a single_session upload may stay idle
	// before the reaper takes it. Every accepted chunk pushes the deadline.
	DefaultSessionTTL = 24 * time.Hour

	// uploadingPollBudget bounds how long a duplicate chunk waits for the
	// in-flight twin before re-attempting the send itself.
	uploadingPollBudget = 12 * time.Second

	// uploadingPollInterval is the part-row re-read cadence during the wait.
	uploadingPollInterval = 500 * time.Millisecond
)

// nodeWriteRetry bounds the manifest write at complete time. The upload is
// already durable in the chat at that point, so the write gets patience.
var nodeWriteRetry = retry.Config{
	MaxRetries:        6,
	InitialBackoff:    250 * time.Millisecond,
	MaxBackoff:        2500 * time.Millisecond,
	BackoffMultiplier: 2.0,
}

// Metrics is the optional operation observer. Nil disables collection.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	RecordBytes(operation string, n int64)
}

// Config configures a Driver.
type Config struct {
	// Bot is the shared Bot API client of this storage config.
	Bot *BotClient

	// ChatID is the chat all files of this config land in.
	ChatID int64

	// StorageConfigID scopes the virtual index rows.
	StorageConfigID string

	// Nodes is the virtual directory index.
	Nodes *vindex.Store

	// Parts is the upload ledger; the driver records chunk outcomes there.
	Parts upload.Store

	// SessionTTL overrides DefaultSessionTTL.
	SessionTTL time.Duration

	// SpoolDir is where chunk bodies are spooled while a send is in
	// flight. Empty means the OS temp dir.
	SpoolDir string

	// Metrics is optional.
	Metrics Metrics
}

// Driver stores files as chat attachments with a vindex-backed tree.
type Driver struct {
	bot      *BotClient
	chatID   int64
	configID string
	nodes    *vindex.Store
	parts    upload.Store

	sessionTTL time.Duration
	spoolDir   string
	metrics    Metrics
}

// New validates the config and returns the driver.
func New(cfg Config) (*Driver, error) {
	if cfg.Bot == nil {
		return nil, fault.Validation("bot client is required")
	}
	if cfg.ChatID == 0 {
		return nil, fault.Validation("chat id is required")
	}
	if cfg.StorageConfigID == "" {
		return nil, fault.Validation("storage config id is required")
	}
	if cfg.Nodes == nil {
		return nil, fault.Validation("virtual index store is required")
	}
	if cfg.Parts == nil {
		return nil, fault.Validation("upload store is required")
	}

	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}

	return &Driver{
		bot:        cfg.Bot,
		chatID:     cfg.ChatID,
		configID:   cfg.StorageConfigID,
		nodes:      cfg.Nodes,
		parts:      cfg.Parts,
		sessionTTL: sessionTTL,
		spoolDir:   cfg.SpoolDir,
		metrics:    cfg.Metrics,
	}, nil
}

// Type implements storage.Driver.
func (d *Driver) Type() string {
	return DriverType
}

// Capabilities implements storage.Driver. No presigned URLs: the backend
// cannot accept direct part PUTs, so bytes proxy through the gateway.
func (d *Driver) Capabilities() storage.CapabilitySet {
	return storage.NewCapabilitySet(
		storage.CapReader,
		storage.CapWriter,
		storage.CapMultipart,
		storage.CapProxy,
	)
}

func (d *Driver) observe(operation string, start time.Time, err error) {
	if d.metrics != nil {
		d.metrics.ObserveOperation(operation, time.Since(start), err)
	}
}

var (
	_ storage.Driver          = (*Driver)(nil)
	_ storage.MultipartDriver = (*Driver)(nil)
	_ storage.ChunkProxy      = (*Driver)(nil)
)
