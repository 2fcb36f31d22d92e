package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/pkg/api/auth"
	"github.com/gatefs/gatefs/pkg/api/handlers"
	apiMiddleware "github.com/gatefs/gatefs/pkg/api/middleware"
	"github.com/gatefs/gatefs/pkg/metrics/prometheus"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Prometheus request instrumentation (no-op when metrics are disabled)
//   - Panic recovery to prevent server crashes
//
// The request timeout applies per group instead of globally: chunk relays,
// downloads, direct uploads and job event streams hold connections open
// longer than any sane global deadline.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - POST /api/v1/auth/login - User authentication
//   - POST /api/v1/auth/refresh - Token refresh
//   - GET /api/v1/auth/me - Current user info
//   - /api/v1/multipart/* - Upload session lifecycle
//   - PUT /api/v1/multipart/upload-chunk - Gateway chunk relay (streaming)
//   - GET /api/v1/search - Index search
//   - /api/v1/jobs/* - Background job management
//   - GET /api/v1/jobs/{id}/events - Job progress stream (streaming)
//   - /api/v1/fs/* - Direct file operations
//   - GET /api/v1/mounts - Mount listing with index states
func NewRouter(config Config, users *auth.Users, jwtService *auth.JWTService, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(prometheus.NewAPIMetrics().Middleware)
	r.Use(middleware.Recoverer)

	// Health check handlers
	healthHandler := handlers.NewHealthHandler(deps.Facade.Registry(), deps.Checks...)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	authHandler := handlers.NewAuthHandler(users, jwtService)
	multipartHandler := handlers.NewMultipartHandler(deps.Coordinator, int64(config.MaxChunkSize))
	searchHandler := handlers.NewSearchHandler(deps.Index, deps.Facade.Registry())
	jobsHandler := handlers.NewJobsHandler(deps.Engine, deps.Catalog)
	fsHandler := handlers.NewFSHandler(deps.Facade)
	mountsHandler := handlers.NewMountsHandler(deps.Facade.Registry(), deps.Index)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes - mostly unauthenticated
		r.Route("/auth", func(r chi.Router) {
			// Public endpoints
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			// Authenticated endpoint
			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.JWTAuth(jwtService))
				r.Get("/me", authHandler.Me)
			})
		})

		// Protected routes - require authentication
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(jwtService))

			// Streaming endpoints - exempt from the request timeout
			r.Put("/multipart/upload-chunk", multipartHandler.UploadChunk)
			r.Get("/fs/download", fsHandler.Download)
			r.Post("/fs/upload", fsHandler.Upload)
			r.Get("/jobs/{id}/events", jobsHandler.Events)

			// Request/response endpoints - bounded by the request timeout
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(config.RequestTimeout))

				// Upload session lifecycle
				r.Post("/multipart/init", multipartHandler.Init)
				r.Post("/multipart/sign", multipartHandler.Sign)
				r.Get("/multipart/parts", multipartHandler.Parts)
				r.Post("/multipart/complete", multipartHandler.Complete)
				r.Post("/multipart/abort", multipartHandler.Abort)
				r.Get("/multipart/sessions", multipartHandler.Sessions)

				// Index search
				r.Get("/search", searchHandler.Search)

				// Background jobs
				r.Post("/jobs", jobsHandler.Submit)
				r.Get("/jobs", jobsHandler.List)
				r.Get("/jobs/types", jobsHandler.Types)
				r.Get("/jobs/{id}", jobsHandler.Get)
				r.Post("/jobs/{id}/cancel", jobsHandler.Cancel)
				r.Post("/jobs/{id}/retry", jobsHandler.Retry)
				r.Delete("/jobs/{id}", jobsHandler.Delete)

				// Direct file operations
				r.Get("/fs/list", fsHandler.List)
				r.Get("/fs/stat", fsHandler.Stat)
				r.Post("/fs/mkdir", fsHandler.Mkdir)
				r.Post("/fs/rename", fsHandler.Rename)
				r.Post("/fs/copy", fsHandler.Copy)
				r.Post("/fs/remove", fsHandler.Remove)

				// Mounts
				r.Get("/mounts", mountsHandler.List)
			})
		})
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		// Log healthcheck requests at DEBUG to avoid polluting logs in k8s
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

// isHealthPath reports whether the request targets a health probe.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}
