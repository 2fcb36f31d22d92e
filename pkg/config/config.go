package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gatefs/gatefs/internal/bytesize"
	"github.com/gatefs/gatefs/pkg/api"
	"github.com/gatefs/gatefs/pkg/database"
)

// Config represents the GateFS configuration.
//
// This structure captures the static configuration of the gateway:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - Database connection (upload sessions, search index, virtual trees)
//   - Job store location (embedded badger)
//   - API server settings (address, JWT, static users)
//   - Metrics listener
//   - Upload session lifecycle knobs
//   - Search index maintenance knobs
//   - Storage backends and the mounts exposing them
//
// Configuration sources (in order of precedence):
//  1. Environment variables (GATEFS_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the relational database shared by the upload
	// session store, the search index and the virtual trees (SQLite or
	// PostgreSQL).
	Database database.Config `mapstructure:"database" yaml:"database"`

	// JobStore configures the embedded job store and the engine draining it.
	JobStore JobStoreConfig `mapstructure:"jobstore" yaml:"jobstore"`

	// API contains the REST API server configuration
	API api.Config `mapstructure:"api" yaml:"api"`

	// Metrics contains Prometheus metrics listener configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Upload tunes the multipart session lifecycle
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Index tunes search index maintenance
	Index IndexConfig `mapstructure:"index" yaml:"index"`

	// Storages declares the backends drivers are built from
	Storages []StorageConfig `mapstructure:"storages" validate:"omitempty,dive" yaml:"storages,omitempty"`

	// Mounts binds VFS names to storage backends
	Mounts []MountConfig `mapstructure:"mounts" validate:"omitempty,dive" yaml:"mounts,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	// Set to false in production with a TLS-enabled collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
// When enabled, CPU and memory profiles are continuously sent to a Pyroscope
// server for flame graph visualization and performance analysis.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics listener.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the dedicated
	// listener are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Addr is the listen address for the /metrics endpoint
	// Default: ":9090"
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port" yaml:"addr"`
}

// JobStoreConfig configures the embedded job store and the engine that
// drains it. Jobs survive restarts in a badger database under Path.
type JobStoreConfig struct {
	// Path is the directory for the badger job database (required)
	// Example: /var/lib/gatefs/jobs
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// Workers is the number of concurrent job runners.
	// Default: 2
	Workers int `mapstructure:"workers" yaml:"workers,omitempty"`

	// QueueSize bounds the pending job backlog; a full queue fails submission.
	// Default: 64
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size,omitempty"`

	// Retention is how long terminal jobs are kept before the sweep
	// deletes them.
	// Default: 168h (7 days)
	Retention time.Duration `mapstructure:"retention" yaml:"retention,omitempty"`

	// SweepInterval is how often the retention sweep runs.
	// Default: 1h
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval,omitempty"`
}

// UploadConfig tunes the multipart session lifecycle.
type UploadConfig struct {
	// SessionTTL bounds how long an initiated session may sit idle before
	// the reaper aborts it. Refreshed on every accepted chunk.
	// Default: 24h
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl,omitempty"`

	// ReapInterval is how often the expired-session sweep runs.
	// Default: 1m
	ReapInterval time.Duration `mapstructure:"reap_interval" yaml:"reap_interval,omitempty"`

	// ReapBatch bounds how many sessions one sweep takes.
	// Default: 100
	ReapBatch int `mapstructure:"reap_batch" yaml:"reap_batch,omitempty"`

	// MaxPartsPerRequest is the default presign window for storages that
	// do not set their own multipart concurrency.
	// Default: 4
	MaxPartsPerRequest int `mapstructure:"max_parts_per_request" yaml:"max_parts_per_request,omitempty"`
}

// IndexConfig tunes search index maintenance.
type IndexConfig struct {
	// BatchSize is the entry upsert flush threshold for rebuilds.
	// Values clamp to [20, 1000].
	// Default: 200
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size,omitempty"`

	// DirtyTake is the per-mount dirty row budget of one apply pass.
	// Default: 500
	DirtyTake int `mapstructure:"dirty_take" yaml:"dirty_take,omitempty"`

	// MountConcurrency bounds parallel mount processing within one job.
	// Default: 2
	MountConcurrency int `mapstructure:"mount_concurrency" yaml:"mount_concurrency,omitempty"`

	// MaxDirtyOpsPerEvent bounds how many dirty rows one mutation event may
	// produce before it degrades to a single subtree upsert.
	// Default: 200
	MaxDirtyOpsPerEvent int `mapstructure:"max_dirty_ops_per_event" yaml:"max_dirty_ops_per_event,omitempty"`

	// ApplyInterval is how often the scheduler checks the dirty queue.
	// Default: 30s
	ApplyInterval time.Duration `mapstructure:"apply_interval" yaml:"apply_interval,omitempty"`
}

// StorageConfig declares one storage backend. Type selects which of the
// nested sections applies.
type StorageConfig struct {
	// ID is how mounts reference this backend. Must be unique.
	ID string `mapstructure:"id" validate:"required" yaml:"id"`

	// Type selects the driver.
	// Valid values: s3, telegram, memory
	Type string `mapstructure:"type" validate:"required,oneof=s3 telegram memory" yaml:"type"`

	// S3 applies when Type is "s3".
	S3 S3StorageConfig `mapstructure:"s3" yaml:"s3,omitempty"`

	// Telegram applies when Type is "telegram".
	Telegram TelegramStorageConfig `mapstructure:"telegram" yaml:"telegram,omitempty"`
}

// S3StorageConfig configures one S3-compatible backend.
type S3StorageConfig struct {
	// Bucket is the bucket name (required for s3 storages).
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`

	// Region is the bucket region.
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the AWS endpoint for S3-compatible services
	// (MinIO, R2, ...). Empty uses AWS.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is prepended to every object key, e.g. "gatefs/".
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// AccessKeyID and SecretAccessKey are the static credentials.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle selects path-style addressing, required by most
	// S3-compatible services.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	// MaxPartsPerRequest overrides upload.max_parts_per_request for this
	// backend.
	MaxPartsPerRequest int `mapstructure:"max_parts_per_request" yaml:"max_parts_per_request,omitempty"`

	// URLTTL is the presigned URL lifetime.
	// Default: 15m
	URLTTL time.Duration `mapstructure:"url_ttl" yaml:"url_ttl,omitempty"`
}

// TelegramStorageConfig configures one chat-backed backend.
type TelegramStorageConfig struct {
	// BotToken is the Bot API token (required for telegram storages).
	// Can also be set via GATEFS_STORAGE_<ID>_BOT_TOKEN.
	BotToken string `mapstructure:"bot_token" yaml:"bot_token,omitempty"`

	// ChatID is the chat all files of this backend land in (required).
	ChatID int64 `mapstructure:"chat_id" yaml:"chat_id,omitempty"`

	// APIBaseURL overrides the Bot API endpoint, for local Bot API servers.
	// Default: "https://api.telegram.org"
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url,omitempty"`

	// MaxConcurrentCalls gates concurrent Bot API calls of this backend.
	// Default: 2
	MaxConcurrentCalls int64 `mapstructure:"max_concurrent_calls" yaml:"max_concurrent_calls,omitempty"`

	// SessionTTL overrides upload.session_ttl for this backend.
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl,omitempty"`

	// SpoolDir is where chunk bodies are spooled while a send is in
	// flight. Empty means the OS temp dir.
	SpoolDir string `mapstructure:"spool_dir" yaml:"spool_dir,omitempty"`
}

// MountConfig binds one VFS name to a storage backend.
type MountConfig struct {
	// ID is the identifier clients address, e.g. "documents".
	ID string `mapstructure:"id" validate:"required" yaml:"id"`

	// Name is the human-readable label. Defaults to ID.
	Name string `mapstructure:"name" yaml:"name,omitempty"`

	// Storage references a StorageConfig by ID.
	Storage string `mapstructure:"storage" validate:"required" yaml:"storage"`

	// PathPasswordHash is an optional bcrypt hash gating access to this
	// mount. Empty means no password.
	// Generate with: htpasswd -nbB "" "password" | cut -d: -f2
	PathPasswordHash string `mapstructure:"path_password_hash" yaml:"path_password_hash,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (GATEFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: User-friendly error with instructions if config not found
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  gatefs init\n\n"+
				"Or specify a custom config file:\n"+
				"  gatefs <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  gatefs init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions: config files carry JWT secrets, bot tokens
	// and password hashes.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use GATEFS_ prefix and underscores
	// Example: GATEFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("GATEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/gatefs/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use
// human-readable sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gatefs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "gatefs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
