package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/metrics"
)

var _ fs.Metrics = (*FSMetrics)(nil)

// FSMetrics observes facade file operations. It satisfies fs.Metrics.
type FSMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewFSMetrics creates the facade collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewFSMetrics() *FSMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &FSMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_fs_operations_total",
				Help: "Total facade file operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gatefs_fs_operation_duration_milliseconds",
				Help: "Duration of facade file operations in milliseconds",
				Buckets: []float64{
					5,    // 5ms - index-backed listings
					25,   // 25ms
					100,  // 100ms
					500,  // 500ms
					1000, // 1s
					5000, // 5s - backend round trips
				},
			},
			[]string{"operation"},
		),
	}
}

func (m *FSMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}
