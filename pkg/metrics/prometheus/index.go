package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gatefs/gatefs/pkg/indexer"
	"github.com/gatefs/gatefs/pkg/metrics"
)

var _ indexer.Metrics = (*IndexMetrics)(nil)

// IndexMetrics observes index maintenance runs. It satisfies indexer.Metrics.
type IndexMetrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	entriesTotal *prometheus.CounterVec
	dirtyDepth   prometheus.Gauge
}

// NewIndexMetrics creates the index maintenance collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewIndexMetrics() *IndexMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &IndexMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_index_runs_total",
				Help: "Total index maintenance runs by task type and status",
			},
			[]string{"type", "status"}, // type: index_rebuild, index_apply_dirty
		),
		runDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gatefs_index_run_duration_milliseconds",
				Help: "Duration of index maintenance runs in milliseconds",
				Buckets: []float64{
					100,    // 100ms - small dirty batches
					1000,   // 1s
					10000,  // 10s
					60000,  // 1m
					300000, // 5m - full rebuilds on large mounts
				},
			},
			[]string{"type"},
		),
		entriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_index_entries_total",
				Help: "Total index rows written by maintenance runs, by operation",
			},
			[]string{"op"}, // op: upserted, deleted
		),
		dirtyDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gatefs_index_dirty_depth",
				Help: "Dirty queue rows pending across all mounts, sampled each sweep",
			},
		),
	}
}

func (m *IndexMetrics) ObserveRun(taskType string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.runsTotal.WithLabelValues(taskType, status).Inc()
	m.runDuration.WithLabelValues(taskType).Observe(duration.Seconds() * 1000)
}

func (m *IndexMetrics) RecordEntries(op string, n int64) {
	if m == nil || n <= 0 {
		return
	}

	m.entriesTotal.WithLabelValues(op).Add(float64(n))
}

func (m *IndexMetrics) RecordDirtyDepth(n int64) {
	if m == nil {
		return
	}

	m.dirtyDepth.Set(float64(n))
}
