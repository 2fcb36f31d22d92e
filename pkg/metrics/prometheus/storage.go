// Package prometheus implements the gateway's collectors. Constructors
// return nil before metrics.InitRegistry, and every method tolerates a nil
// receiver, so callers wire them unconditionally.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gatefs/gatefs/pkg/metrics"
	"github.com/gatefs/gatefs/pkg/storage/s3"
	"github.com/gatefs/gatefs/pkg/storage/telegram"
)

var (
	_ s3.Metrics       = (*DriverMetrics)(nil)
	_ telegram.Metrics = (*DriverMetrics)(nil)
)

// StorageMetrics aggregates backend driver traffic across all drivers; the
// driver label separates them. Create it once and hand each driver its view
// through Driver.
type StorageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewStorageMetrics creates the shared driver collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStorageMetrics() *StorageMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &StorageMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_storage_operations_total",
				Help: "Total backend driver operations by driver, operation and status",
			},
			[]string{"driver", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gatefs_storage_operation_duration_milliseconds",
				Help: "Duration of backend driver operations in milliseconds",
				Buckets: []float64{
					10,    // 10ms - metadata operations
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms - small transfers
					1000,  // 1s
					5000,  // 5s - large transfers
					10000, // 10s
					30000, // 30s - chat uploads under rate limiting
				},
			},
			[]string{"driver", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_storage_bytes_transferred_total",
				Help: "Total bytes moved through backend drivers",
			},
			[]string{"driver", "operation", "direction"},
		),
	}
}

// Driver returns the view bound to one driver type ("s3", "telegram",
// "memory"). The view satisfies the drivers' Metrics interfaces.
func (m *StorageMetrics) Driver(driverType string) *DriverMetrics {
	if m == nil {
		return nil
	}
	return &DriverMetrics{metrics: m, driver: driverType}
}

// DriverMetrics is a StorageMetrics view bound to one driver label.
type DriverMetrics struct {
	metrics *StorageMetrics
	driver  string
}

func (m *DriverMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.metrics.operationsTotal.WithLabelValues(m.driver, operation, status).Inc()
	m.metrics.operationDuration.WithLabelValues(m.driver, operation).Observe(duration.Seconds() * 1000)
}

func (m *DriverMetrics) RecordBytes(operation string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}

	direction := "write"
	if operation == "Download" {
		direction = "read"
	}

	m.metrics.bytesTransferred.WithLabelValues(m.driver, operation, direction).Add(float64(bytes))
}
