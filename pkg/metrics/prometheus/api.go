package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gatefs/gatefs/pkg/metrics"
)

// APIMetrics observes HTTP requests on the REST API.
type APIMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// NewAPIMetrics creates the HTTP request collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewAPIMetrics() *APIMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &APIMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_api_requests_total",
				Help: "Total API requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gatefs_api_request_duration_milliseconds",
				Help: "Duration of API requests in milliseconds",
				Buckets: []float64{
					5,     // 5ms - health probes
					25,    // 25ms
					100,   // 100ms
					500,   // 500ms
					2000,  // 2s - backend round trips
					10000, // 10s
					60000, // 60s - chunk relays
				},
			},
			[]string{"method", "route"},
		),
		inFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gatefs_api_requests_in_flight",
				Help: "API requests currently being served",
			},
		),
	}
}

// Middleware instruments the request. Routes are labeled by chi pattern
// ("/api/v1/jobs/{id}"), never by raw path, to keep cardinality bounded.
// Safe to install on a nil receiver; it then passes requests through.
func (m *APIMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).
			Observe(time.Since(start).Seconds() * 1000)
	})
}

// routePattern returns the matched chi pattern, available once routing
// has run. Unmatched requests collapse into one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
