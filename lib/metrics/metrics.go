package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus instrumentation of the statistics server.
type Metrics struct {
	Registry            *prometheus.Registry
	MessagesReceived    *prometheus.CounterVec
	BatchesReceived     prometheus.Counter
	InvocationsMerged   prometheus.Counter
	ScalingCorrections  prometheus.Histogram
	PersistenceSweeps   prometheus.Counter
	PersistenceFailures prometheus.Counter
	JobsReported        *prometheus.CounterVec
	NodesPruned         prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gridstats",
				Subsystem: "server",
				Name:      "messages_received_total",
				Help:      "Total protocol messages received by type",
			},
			[]string{"type"},
		),
		BatchesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gridstats",
				Subsystem: "costs",
				Name:      "batches_received_total",
				Help:      "Total statistics batches merged from calculation nodes",
			},
		),
		InvocationsMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gridstats",
				Subsystem: "costs",
				Name:      "invocations_merged_total",
				Help:      "Total function invocations merged into the central costs",
			},
		),
		ScalingCorrections: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "gridstats",
				Subsystem: "costs",
				Name:      "scaling_correction",
				Help:      "Scaling corrections returned to calculation nodes",
				Buckets:   []float64{0.25, 0.5, 0.8, 0.9, 1, 1.1, 1.25, 2, 4},
			},
		),
		PersistenceSweeps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gridstats",
				Subsystem: "costs",
				Name:      "persistence_sweeps_total",
				Help:      "Total persistence sweeps run",
			},
		),
		PersistenceFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gridstats",
				Subsystem: "costs",
				Name:      "persistence_failures_total",
				Help:      "Total persistence sweeps that failed to store some costs",
			},
		),
		JobsReported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gridstats",
				Subsystem: "nodes",
				Name:      "jobs_reported_total",
				Help:      "Total job outcomes reported by status",
			},
			[]string{"status"},
		),
		NodesPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gridstats",
				Subsystem: "nodes",
				Name:      "pruned_total",
				Help:      "Total nodes dropped for inactivity",
			},
		),
	}

	m.Registry.MustRegister(
		m.MessagesReceived,
		m.BatchesReceived,
		m.InvocationsMerged,
		m.ScalingCorrections,
		m.PersistenceSweeps,
		m.PersistenceFailures,
		m.JobsReported,
		m.NodesPruned,
	)
	return m
}
