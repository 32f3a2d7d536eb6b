// Package metrics holds the prometheus collectors the node reports through
// the debug service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fullnode"

// Metrics contains the collectors exposed by the node.
type Metrics struct {
	// Outcomes of material offered to the store, by operation and status.
	StoreOutcomes *prometheus.CounterVec
	// Height of the current peak.
	PeakHeight prometheus.Gauge
	// Number of peaks the node moved to.
	Peaks prometheus.Counter
	// Pre-validated batches, by result.
	Batches *prometheus.CounterVec
	// Time spent pre-validating a batch.
	BatchSeconds prometheus.Histogram
	// Blocks rejected by pre-validation, by error code.
	InvalidBlocks *prometheus.CounterVec
	// Transactions waiting in the admission queue.
	QueueDepth prometheus.Gauge
	// Transactions rejected because the queue was full.
	QueueFull prometheus.Counter
	// Peak announcements dropped by the gate.
	GateRejected prometheus.Counter
	// Future cache entries dropped for age.
	FutureExpired prometheus.Counter
}

// New constructs the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := Metrics{
		StoreOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "outcomes_total",
			Help:      "Outcomes of material offered to the store.",
		}, []string{"operation", "status"}),
		PeakHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "peak_height",
			Help:      "Height of the current peak.",
		}),
		Peaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "peaks_total",
			Help:      "Number of new peaks.",
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prevalidation",
			Name:      "batches_total",
			Help:      "Pre-validated batches.",
		}, []string{"result"}),
		BatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prevalidation",
			Name:      "batch_seconds",
			Help:      "Time spent pre-validating a batch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		InvalidBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prevalidation",
			Name:      "invalid_blocks_total",
			Help:      "Blocks rejected by pre-validation.",
		}, []string{"code"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "txqueue",
			Name:      "depth",
			Help:      "Transactions waiting for validation.",
		}),
		QueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "txqueue",
			Name:      "full_total",
			Help:      "Transactions rejected by a full queue.",
		}),
		GateRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "rejected_total",
			Help:      "Peak announcements dropped by the gate.",
		}),
		FutureExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "future_expired_total",
			Help:      "Future cache entries dropped for age.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.StoreOutcomes,
			m.PeakHeight,
			m.Peaks,
			m.Batches,
			m.BatchSeconds,
			m.InvalidBlocks,
			m.QueueDepth,
			m.QueueFull,
			m.GateRejected,
			m.FutureExpired,
		)
	}

	return &m
}
