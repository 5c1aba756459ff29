// Package metrics exposes Prometheus instrumentation for the façade and
// pipeline: records opened/closed, batches flushed, sink failures, and
// emergency-store saves. Grounded on AleutianLocal's
// observability.StreamingMetrics (promauto-registered CounterVec/
// GaugeVec), generalized from streaming-chat labels to aggregator
// lifecycle events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reqlog"

// Collectors bundles the instrumentation points the façade and pipeline
// touch. Construct once per process via New and share the instance.
type Collectors struct {
	RecordsOpen     prometheus.Gauge
	RecordsFinished *prometheus.CounterVec // label: fault ("0","1")
	BatchesFlushed  prometheus.Counter
	SinkFailures    prometheus.Counter
	EmergencySaves  prometheus.Counter
	BatchSize       prometheus.Histogram
}

// New registers and returns a fresh Collectors against reg. Pass
// prometheus.DefaultRegisterer for process-wide metrics, or a scoped
// *prometheus.Registry in tests to avoid duplicate-registration panics
// across test cases.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		RecordsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_open",
			Help:      "Number of log scopes currently open across the process.",
		}),
		RecordsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_finished_total",
			Help:      "Total finished records, by fault status.",
		}, []string{"fault"}),
		BatchesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Total batches successfully delivered to the sink.",
		}),
		SinkFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Total batches the sink failed to accept.",
		}),
		EmergencySaves: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_saves_total",
			Help:      "Total successful emergency-store saves.",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_records",
			Help:      "Number of records per delivered batch.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
}

// RecordOpened increments the open-scope gauge.
func (c *Collectors) RecordOpened() {
	if c == nil {
		return
	}
	c.RecordsOpen.Inc()
}

// RecordFinished decrements the open-scope gauge and counts the
// finished record by fault status.
func (c *Collectors) RecordFinished(fault bool) {
	if c == nil {
		return
	}
	c.RecordsOpen.Dec()
	label := "0"
	if fault {
		label = "1"
	}
	c.RecordsFinished.WithLabelValues(label).Inc()
}

// BatchDelivered records a successful sink delivery.
func (c *Collectors) BatchDelivered(size int) {
	if c == nil {
		return
	}
	c.BatchesFlushed.Inc()
	c.BatchSize.Observe(float64(size))
}

// SinkFailed records a failed sink delivery.
func (c *Collectors) SinkFailed() {
	if c == nil {
		return
	}
	c.SinkFailures.Inc()
}

// EmergencySaved records a successful emergency-store persist.
func (c *Collectors) EmergencySaved() {
	if c == nil {
		return
	}
	c.EmergencySaves.Inc()
}
