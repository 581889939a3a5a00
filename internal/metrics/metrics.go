package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors. Expose them through
// promhttp against the same registerer they were created with.
type Metrics struct {
	JobsSubmitted      prometheus.Counter
	JobsCompleted      prometheus.Counter
	JobsFailed         prometheus.Counter
	PredictionDuration prometheus.Histogram
}

// New creates and registers the service collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forecast_jobs_submitted_total",
			Help: "Total prediction jobs accepted for processing",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forecast_jobs_completed_total",
			Help: "Total prediction jobs that completed successfully",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forecast_jobs_failed_total",
			Help: "Total prediction jobs that failed during processing",
		}),
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecast_prediction_duration_seconds",
			Help:    "Wall-clock duration of a single prediction",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	reg.MustRegister(m.JobsSubmitted, m.JobsCompleted, m.JobsFailed, m.PredictionDuration)
	return m
}
