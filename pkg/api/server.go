package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/pkg/api/auth"
	"github.com/gatefs/gatefs/pkg/api/handlers"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/index"
	"github.com/gatefs/gatefs/pkg/multipart"
	"github.com/gatefs/gatefs/pkg/task"
)

// Dependencies are the gateway services the API surfaces.
type Dependencies struct {
	// Facade serves direct file operations and owns the mount registry.
	Facade *fs.Facade

	// Coordinator drives multipart upload sessions.
	Coordinator *multipart.Coordinator

	// Engine runs background jobs; Catalog scopes their visibility.
	Engine  *task.Engine
	Catalog *task.Catalog

	// Index answers search queries and reports per-mount index states.
	Index index.Store

	// Checks are extra readiness probes (database ping, job store).
	Checks []handlers.Check
}

// Server provides the REST API HTTP server.
//
// The server carries the full gateway surface: authentication, multipart
// upload sessions, search, background jobs, direct file operations, mount
// listings and health probes. It supports graceful shutdown.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates a new API HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests.
//
// Defaults are applied here to ensure the server works correctly even when
// created directly (e.g., in tests). This is idempotent with the defaults
// applied during config loading.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	config.ApplyDefaults()

	secret := config.GetJWTSecret()
	if len(secret) < 32 {
		return nil, fmt.Errorf(
			"JWT secret must be at least 32 characters; set api.jwt.secret or %s", EnvAPISecret)
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:               secret,
		AccessTokenDuration:  config.JWT.AccessTokenDuration,
		RefreshTokenDuration: config.JWT.RefreshTokenDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	userTable := make([]auth.User, 0, len(config.Users))
	for _, u := range config.Users {
		userTable = append(userTable, auth.User{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Admin:        u.Admin,
		})
	}
	users, err := auth.NewUsers(userTable)
	if err != nil {
		return nil, fmt.Errorf("invalid API user table: %w", err)
	}
	if users.Count() == 0 {
		logger.Warn("no API users configured; only health endpoints will answer")
	}

	router := NewRouter(config, users, jwtService, deps)

	server := &http.Server{
		Addr:    config.Addr,
		Handler: router,

		// No global read or write deadline: chunk relays and event
		// streams hold connections open. Slowloris protection comes
		// from the header timeout.
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}, nil
}

// Start starts the API HTTP server and blocks until the context is cancelled
// or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and returns.
func (s *Server) Start(ctx context.Context) error {
	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", s.config.Addr)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// Create new context with timeout for graceful shutdown
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.config.Addr
}
