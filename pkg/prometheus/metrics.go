package prometheus

import (
	"sync"

	"github.com/StorX2-0/Share-Tools/pkg/monitor"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the share-engine Prometheus metrics.
type Metrics struct {
	GrantsTotal      *prometheus.CounterVec
	GrantDuration    *prometheus.HistogramVec
	BatchWriteErrors prometheus.Counter
	QueueDepth       prometheus.Gauge
	ActiveWorkers    prometheus.Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// Get returns the lazily-registered engine metrics.
func Get() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			GrantsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "share_grants_total",
				Help: "Total permission grants attempted, by outcome status",
			}, []string{"status"}),

			GrantDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "share_grant_duration_seconds",
				Help:    "Duration of Drive permission grant calls",
				Buckets: prometheus.DefBuckets,
			}, []string{"status"}),

			BatchWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "share_batch_write_errors_total",
				Help: "Failed spreadsheet batch update calls",
			}),

			QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "share_queue_depth",
				Help: "Tasks waiting for an idle worker",
			}),

			ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "share_active_workers",
				Help: "Workers currently executing a grant",
			}),
		}

		monitor.MustRegister(
			metrics.GrantsTotal,
			metrics.GrantDuration,
			metrics.BatchWriteErrors,
			metrics.QueueDepth,
			metrics.ActiveWorkers,
		)
	})
	return metrics
}

// RecordGrant records one grant outcome.
func RecordGrant(status string, seconds float64) {
	m := Get()
	m.GrantsTotal.WithLabelValues(status).Inc()
	m.GrantDuration.WithLabelValues(status).Observe(seconds)
}

// RecordBatchWriteError counts a failed flush attempt.
func RecordBatchWriteError() {
	Get().BatchWriteErrors.Inc()
}
