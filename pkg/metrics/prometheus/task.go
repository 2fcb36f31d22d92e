package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gatefs/gatefs/pkg/metrics"
	"github.com/gatefs/gatefs/pkg/task"
)

var _ task.Metrics = (*TaskMetrics)(nil)

// TaskMetrics observes the background job engine. It satisfies task.Metrics.
type TaskMetrics struct {
	enqueuedTotal *prometheus.CounterVec
	finishedTotal *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

// NewTaskMetrics creates the job engine collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewTaskMetrics() *TaskMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &TaskMetrics{
		enqueuedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_jobs_enqueued_total",
				Help: "Total jobs accepted by the engine, by task type",
			},
			[]string{"type"},
		),
		finishedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_jobs_finished_total",
				Help: "Total jobs that reached a terminal status, by task type and status",
			},
			[]string{"type", "status"},
		),
		jobDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gatefs_jobs_duration_milliseconds",
				Help: "Wall-clock job runtime in milliseconds",
				Buckets: []float64{
					100,     // 100ms
					1000,    // 1s
					10000,   // 10s
					60000,   // 1m
					300000,  // 5m - full index rebuilds
					1800000, // 30m
				},
			},
			[]string{"type"},
		),
	}
}

func (m *TaskMetrics) JobEnqueued(taskType string) {
	if m == nil {
		return
	}

	m.enqueuedTotal.WithLabelValues(taskType).Inc()
}

func (m *TaskMetrics) JobFinished(taskType string, status task.Status, duration time.Duration) {
	if m == nil {
		return
	}

	m.finishedTotal.WithLabelValues(taskType, string(status)).Inc()
	m.jobDuration.WithLabelValues(taskType).Observe(duration.Seconds() * 1000)
}
