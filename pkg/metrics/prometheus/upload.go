package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gatefs/gatefs/pkg/metrics"
	"github.com/gatefs/gatefs/pkg/multipart"
)

var (
	_ multipart.Metrics       = (*UploadMetrics)(nil)
	_ multipart.ReaperMetrics = (*UploadMetrics)(nil)
)

// UploadMetrics observes the upload coordinator and the session reaper. It
// satisfies multipart.Metrics and multipart.ReaperMetrics.
type UploadMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	reapedTotal       prometheus.Counter
}

// NewUploadMetrics creates the upload collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() *UploadMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &UploadMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_upload_operations_total",
				Help: "Total upload coordinator operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gatefs_upload_operation_duration_milliseconds",
				Help: "Duration of upload coordinator operations in milliseconds",
				Buckets: []float64{
					10,    // 10ms - session bookkeeping
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s - proxied chunks
					30000, // 30s - chunks riding out a rate limit
				},
			},
			[]string{"operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_upload_bytes_total",
				Help: "Total bytes accepted by the upload coordinator",
			},
			[]string{"operation"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gatefs_upload_active_sessions",
				Help: "Upload sessions currently initiated or in progress",
			},
		),
		reapedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gatefs_upload_sessions_reaped_total",
				Help: "Total expired upload sessions aborted by the reaper",
			},
		),
	}
}

func (m *UploadMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
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

func (m *UploadMetrics) RecordBytes(operation string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(operation).Add(float64(bytes))
}

// RecordActiveSessions is set from the reaper sweep.
func (m *UploadMetrics) RecordActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// RecordReaped counts sessions one sweep aborted.
func (m *UploadMetrics) RecordReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reapedTotal.Add(float64(n))
}
