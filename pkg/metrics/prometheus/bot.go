package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gatefs/gatefs/pkg/metrics"
	"github.com/gatefs/gatefs/pkg/storage/telegram"
)

var _ telegram.BotMetrics = (*BotMetrics)(nil)

// BotMetrics observes Bot API calls made by the chat storage driver.
// It satisfies telegram.BotMetrics.
type BotMetrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	retriesTotal *prometheus.CounterVec
}

// NewBotMetrics creates the Bot API collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBotMetrics() *BotMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &BotMetrics{
		callsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_bot_calls_total",
				Help: "Total Bot API calls by method and status",
			},
			[]string{"method", "status"},
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gatefs_bot_call_duration_milliseconds",
				Help: "Duration of Bot API calls in milliseconds",
				Buckets: []float64{
					50,    // 50ms
					250,   // 250ms
					1000,  // 1s
					5000,  // 5s - document uploads
					15000, // 15s
					60000, // 1m - rate-limit stalls
				},
			},
			[]string{"method"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_bot_retries_total",
				Help: "Total Bot API retries after rate limiting, by method",
			},
			[]string{"method"},
		),
	}
}

func (m *BotMetrics) ObserveCall(method string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.callsTotal.WithLabelValues(method, status).Inc()
	m.callDuration.WithLabelValues(method).Observe(duration.Seconds() * 1000)
}

func (m *BotMetrics) RecordRetry(method string) {
	if m == nil {
		return
	}

	m.retriesTotal.WithLabelValues(method).Inc()
}
