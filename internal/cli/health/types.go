// Package health provides shared types for health check responses.
package health

// Response represents the API liveness response envelope.
type Response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// ReadyResponse represents the readiness probe response, which carries
// per-dependency detail alongside the envelope.
type ReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Data      struct {
		Mounts int               `json:"mounts"`
		Checks map[string]string `json:"checks"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}
