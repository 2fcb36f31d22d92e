package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gatefs/gatefs/pkg/database"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/indexer"
	"github.com/gatefs/gatefs/pkg/multipart"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/storage/s3"
	"github.com/gatefs/gatefs/pkg/storage/telegram"
	"github.com/gatefs/gatefs/pkg/task"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	cfg.Database.ApplyDefaults()
	applyJobStoreDefaults(&cfg.JobStore)
	cfg.API.ApplyDefaults()
	applyMetricsDefaults(&cfg.Metrics)
	applyUploadDefaults(&cfg.Upload)
	applyIndexDefaults(&cfg.Index)
	applyStorageDefaults(cfg.Storages, &cfg.Upload)
	applyMountDefaults(cfg.Mounts)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)
	// No need to set, zero value is false

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	// Apply profiling defaults
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)
	// No need to set, zero value is false

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Default profile types include CPU, memory allocation, and goroutines
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyJobStoreDefaults sets job store and engine defaults.
// Path has no default - it's required and must be configured by user.
func applyJobStoreDefaults(cfg *JobStoreConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = task.DefaultWorkers
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = task.DefaultQueueSize
	}
	if cfg.Retention == 0 {
		cfg.Retention = task.DefaultRetention
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = task.DefaultSweepInterval
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Addr defaults to :9090 if metrics are enabled
	if cfg.Enabled && cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
}

// applyUploadDefaults sets multipart session lifecycle defaults.
func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = multipart.DefaultSessionTTL
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = multipart.DefaultReapInterval
	}
	if cfg.ReapBatch == 0 {
		cfg.ReapBatch = multipart.DefaultReapBatch
	}
	if cfg.MaxPartsPerRequest == 0 {
		cfg.MaxPartsPerRequest = storage.DefaultMaxPartsPerRequest
	}
}

// applyIndexDefaults sets search index maintenance defaults.
func applyIndexDefaults(cfg *IndexConfig) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = indexer.DefaultBatchSize
	}
	if cfg.DirtyTake == 0 {
		cfg.DirtyTake = indexer.DefaultDirtyTake
	}
	if cfg.MountConcurrency == 0 {
		cfg.MountConcurrency = indexer.DefaultMountConcurrency
	}
	if cfg.MaxDirtyOpsPerEvent == 0 {
		cfg.MaxDirtyOpsPerEvent = fs.DefaultMaxOpsPerEvent
	}
	if cfg.ApplyInterval == 0 {
		cfg.ApplyInterval = indexer.DefaultSchedulerInterval
	}
}

// applyStorageDefaults sets per-backend defaults. Knobs a backend leaves at
// zero inherit the matching upload.* value.
func applyStorageDefaults(storages []StorageConfig, upload *UploadConfig) {
	for i := range storages {
		sc := &storages[i]
		switch sc.Type {
		case "s3":
			if sc.S3.MaxPartsPerRequest == 0 {
				sc.S3.MaxPartsPerRequest = upload.MaxPartsPerRequest
			}
			if sc.S3.URLTTL == 0 {
				sc.S3.URLTTL = s3.DefaultURLTTL
			}
		case "telegram":
			if sc.Telegram.APIBaseURL == "" {
				sc.Telegram.APIBaseURL = telegram.DefaultAPIBaseURL
			}
			if sc.Telegram.MaxConcurrentCalls == 0 {
				sc.Telegram.MaxConcurrentCalls = storage.DefaultBackendConcurrency
			}
			if sc.Telegram.SessionTTL == 0 {
				sc.Telegram.SessionTTL = upload.SessionTTL
			}
		}
	}
}

// applyMountDefaults fills in display names.
func applyMountDefaults(mounts []MountConfig) {
	for i := range mounts {
		if mounts[i].Name == "" {
			mounts[i].Name = mounts[i].ID
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Database: database.Config{
			Type: database.TypeSQLite, // Default to SQLite for single-node
		},
		JobStore: JobStoreConfig{
			Path: filepath.Join(os.TempDir(), "gatefs-jobs"),
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
