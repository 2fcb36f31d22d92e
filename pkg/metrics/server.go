package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server exposes /metrics on a dedicated listener, away from the API port.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the scrape endpoint. addr is a listen address like
// ":9100".
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until Shutdown. A closed server is not an error.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
