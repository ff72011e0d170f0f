// Package observability holds the Prometheus instrumentation for the
// ingestion pipeline and alert lifecycle.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// signal pipeline and alert lifecycle.
type Metrics struct {
	SignalsIngested *prometheus.CounterVec // labels: source, category
	SignalsRejected *prometheus.CounterVec // labels: reason
	QueueDepth      prometheus.Gauge
	QueueRejections prometheus.Counter

	AlertsOpened  *prometheus.CounterVec // labels: category, severity
	SignalsMerged prometheus.Counter
	Transitions   *prometheus.CounterVec // labels: to_status
	StaleResolved prometheus.Counter

	DispatchAttempts *prometheus.CounterVec // labels: channel, outcome={success,error}
	DispatchSuppress prometheus.Counter
	ScoringDuration  prometheus.Histogram
	PipelineDuration prometheus.Histogram
	WorkersRunning   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.SignalsIngested,
		m.SignalsRejected,
		m.QueueDepth,
		m.QueueRejections,
		m.AlertsOpened,
		m.SignalsMerged,
		m.Transitions,
		m.StaleResolved,
		m.DispatchAttempts,
		m.DispatchSuppress,
		m.ScoringDuration,
		m.PipelineDuration,
		m.WorkersRunning,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests
// can construct multiple instances without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SignalsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakwater",
			Name:      "signals_ingested_total",
			Help:      "Signals accepted into the pipeline by source and category.",
		}, []string{"source", "category"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakwater",
			Name:      "signals_rejected_total",
			Help:      "Signals rejected at validation by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "breakwater",
			Name:      "ingest_queue_depth",
			Help:      "Current number of signals waiting in the ingest queue.",
		}),
		QueueRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Name:      "ingest_queue_rejections_total",
			Help:      "Submissions rejected because the ingest queue was full.",
		}),
		AlertsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakwater",
			Name:      "alerts_opened_total",
			Help:      "New alerts opened by category and initial severity.",
		}, []string{"category", "severity"}),
		SignalsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Name:      "signals_merged_total",
			Help:      "Signals merged into existing alerts.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakwater",
			Name:      "alert_transitions_total",
			Help:      "Committed lifecycle transitions by target status.",
		}, []string{"to_status"}),
		StaleResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Name:      "stale_resolutions_total",
			Help:      "Alerts auto-resolved by the staleness sweep.",
		}),
		DispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "breakwater",
			Name:      "dispatch_attempts_total",
			Help:      "Notification delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		DispatchSuppress: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Name:      "dispatch_suppressed_total",
			Help:      "Replayed transition events suppressed by the delivery dedup.",
		}),
		ScoringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "breakwater",
			Name:      "scoring_duration_seconds",
			Help:      "Time spent computing a signal's risk score.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "breakwater",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end time from dequeue to committed alert update.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		WorkersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "breakwater",
			Name:      "pipeline_workers_running",
			Help:      "Number of active pipeline workers.",
		}),
	}
}
