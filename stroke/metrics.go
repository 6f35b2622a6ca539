package stroke

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the scheduler's Prometheus collectors. With a nil
// registerer they are live but unregistered.
type metrics struct {
	started   prometheus.Counter
	finished  prometheus.Counter
	cancelled prometheus.Counter
	jobs      prometheus.Counter
	queued    prometheus.Gauge
	duration  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "stroke",
			Name:      "started_total",
			Help:      "Strokes accepted by the scheduler.",
		}),
		finished: f.NewCounter(prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "stroke",
			Name:      "finished_total",
			Help:      "Strokes that finished and committed.",
		}),
		cancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "stroke",
			Name:      "cancelled_total",
			Help:      "Strokes cancelled or rolled back after an error.",
		}),
		jobs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "canvas",
			Subsystem: "stroke",
			Name:      "jobs_total",
			Help:      "Stroke jobs executed.",
		}),
		queued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "canvas",
			Subsystem: "stroke",
			Name:      "queued",
			Help:      "Strokes waiting or running.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "canvas",
			Subsystem: "stroke",
			Name:      "duration_seconds",
			Help:      "Time from stroke start to finish or cancel.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}
