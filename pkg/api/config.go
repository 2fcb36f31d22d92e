package api

import (
	"os"
	"time"

	"github.com/gatefs/gatefs/internal/bytesize"
	"github.com/gatefs/gatefs/internal/logger"
)

// EnvAPISecret is the name of the environment variable for the API's JWT
// signing secret. It takes precedence over the config file value.
const EnvAPISecret = "GATEFS_API_SECRET"

// Config configures the REST API HTTP server.
//
// The API carries the multipart upload endpoints, search, background jobs,
// file operations and mount listings. Authentication is JWT against the
// static user table; health and login are the only open endpoints.
type Config struct {
	// Addr is the listen address for the API endpoints.
	// Default: ":8080"
	Addr string `mapstructure:"addr" validate:"required" yaml:"addr"`

	// ReadHeaderTimeout bounds how long reading the request headers may
	// take. The server carries no global read or write deadline: chunk
	// uploads and job event streams legitimately hold connections open
	// for minutes.
	// Default: 10s
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout is the per-request deadline applied to non-streaming
	// routes. Chunk uploads, downloads and job event streams are exempt.
	// Default: 60s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// MaxChunkSize caps the request body of relayed chunk uploads. Kept
	// above the chat backend's 100 MiB part ceiling so oversized parts
	// still reach the driver and fail with its own validation message.
	// Default: 128Mi
	MaxChunkSize bytesize.ByteSize `mapstructure:"max_chunk_size" yaml:"max_chunk_size,omitempty"`

	// JWT configures JWT token generation and validation.
	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`

	// Users is the static user table checked by POST /auth/login.
	Users []UserConfig `mapstructure:"users" validate:"omitempty,dive" yaml:"users,omitempty"`
}

// JWTConfig configures JWT token generation and validation.
type JWTConfig struct {
	// Secret is the HMAC signing key for JWT tokens.
	// Must be at least 32 characters long.
	// Can also be set via the GATEFS_API_SECRET environment variable;
	// the environment variable takes precedence over the config file.
	Secret string `mapstructure:"secret" validate:"omitempty,min=32" yaml:"secret"`

	// AccessTokenDuration is the lifetime of access tokens.
	// Default: 15m
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration" yaml:"access_token_duration"`

	// RefreshTokenDuration is the lifetime of refresh tokens.
	// Default: 168h (7 days)
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" yaml:"refresh_token_duration"`
}

// UserConfig is one static API user. Passwords are stored as bcrypt hashes,
// never plaintext.
type UserConfig struct {
	// Username identifies the user at login and on session rows.
	Username string `mapstructure:"username" validate:"required" yaml:"username"`

	// PasswordHash is the bcrypt hash of the user's password.
	// Generate with: htpasswd -nbB "" "password" | cut -d: -f2
	PasswordHash string `mapstructure:"password_hash" validate:"required" yaml:"password_hash"`

	// Admin grants access to admin-only job types.
	Admin bool `mapstructure:"admin" yaml:"admin,omitempty"`
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = 128 * bytesize.MiB
	}
	if c.JWT.AccessTokenDuration == 0 {
		c.JWT.AccessTokenDuration = 15 * time.Minute
	}
	if c.JWT.RefreshTokenDuration == 0 {
		c.JWT.RefreshTokenDuration = 7 * 24 * time.Hour
	}
}

// GetJWTSecret returns the JWT secret, preferring the environment variable.
// Returns empty string if neither env var nor config secret is set.
func (c *Config) GetJWTSecret() string {
	envSecret := os.Getenv(EnvAPISecret)
	if envSecret != "" {
		if c.JWT.Secret != "" && c.JWT.Secret != envSecret {
			logger.Warn("JWT secret from environment variable overrides config file value",
				"env_var", EnvAPISecret)
		}
		return envSecret
	}
	return c.JWT.Secret
}

// HasJWTSecret returns whether a JWT secret is configured.
func (c *Config) HasJWTSecret() bool {
	return c.GetJWTSecret() != ""
}
