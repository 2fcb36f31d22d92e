package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gatefs/gatefs/pkg/fs"
)

// Check is one named readiness probe, typically a database ping.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the gateway ready to accept requests?
type HealthHandler struct {
	mounts *fs.Registry
	checks []Check
}

// NewHealthHandler creates a new health handler.
//
// The registry parameter may be nil, in which case the readiness check
// returns unhealthy status. A gateway with zero mounts is still ready:
// auth, jobs and health work without any backend configured.
func NewHealthHandler(mounts *fs.Registry, checks ...Check) *HealthHandler {
	return &HealthHandler{mounts: mounts, checks: checks}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running. This endpoint is designed
// for Kubernetes liveness probes and should always succeed as long as the
// HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "gatefs",
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK if the server is ready to accept requests. This checks:
//   - Mount registry is initialized
//   - Every registered dependency check (database ping) passes
//
// Returns 503 Service Unavailable if the server is not ready.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.mounts == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("mount registry not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true
	for _, check := range h.checks {
		start := time.Now()
		if err := check.Fn(ctx); err != nil {
			checks[check.Name] = "unhealthy: " + err.Error()
			allHealthy = false
			continue
		}
		checks[check.Name] = "healthy (" + time.Since(start).String() + ")"
	}

	data := map[string]any{
		"mounts": len(h.mounts.IDs()),
		"checks": checks,
	}

	if !allHealthy {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(data))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}
