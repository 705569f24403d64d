package compact

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "relcount"
	metricsSubsystem = "compaction"
)

// Metrics holds the compaction counters.
type Metrics struct {
	// Runs counts compaction runs that found more entries than the threshold.
	Runs prometheus.Counter

	// Merges counts generalizations applied.
	Merges prometheus.Counter

	// NotConverged counts runs that stopped above the threshold.
	NotConverged prometheus.Counter

	// Dropped counts async requests rejected because the queue was full.
	Dropped prometheus.Counter

	// Failed counts async runs that failed after retries.
	Failed prometheus.Counter

	// QueueDepth is the number of nodes waiting for async compaction.
	QueueDepth prometheus.Gauge
}

// NewMetrics registers the compaction metrics with reg. A nil reg creates
// unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_total",
			Help:      "Compaction runs on nodes above the threshold.",
		}),
		Merges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "merges_total",
			Help:      "Cached counts merged into a more general one.",
		}),
		NotConverged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "not_converged_total",
			Help:      "Compaction runs that could not get below the threshold.",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "async_dropped_total",
			Help:      "Async compaction requests dropped on a full queue.",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "async_failed_total",
			Help:      "Async compaction runs that failed.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "async_queue_depth",
			Help:      "Nodes waiting for async compaction.",
		}),
	}
}
