// Package metrics exposes pipeline counters and histograms.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global     *Metrics
	globalOnce sync.Once
)

// Metrics holds the Prometheus collectors for one process.
type Metrics struct {
	SearchesTotal     *prometheus.CounterVec
	SearchDuration    *prometheus.HistogramVec
	SearchDegraded    prometheus.Counter
	SearchEscalations prometheus.Counter
	DecisionsTotal    *prometheus.CounterVec
	RecordsTotal      *prometheus.CounterVec
	BatchesTotal      *prometheus.CounterVec
	BatchDuration     prometheus.Histogram
	RunCacheHits      prometheus.Counter
	RunCacheMisses    prometheus.Counter
	CorrectionsTotal  *prometheus.CounterVec
	PatternWriteDrops prometheus.Counter
	RunDuration       prometheus.Histogram
	registry          prometheus.Gatherer
}

// Default returns the process-wide metrics registered on the default
// Prometheus registry. Registration happens once.
func Default() *Metrics {
	globalOnce.Do(func() {
		global = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return global
}

// New registers a fresh set of collectors. Tests pass their own registry.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: gatherer,
		SearchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taxflow_retrieval_searches_total",
			Help: "Retrieval searches by strategy",
		}, []string{"strategy"}),
		SearchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taxflow_retrieval_duration_seconds",
			Help:    "Retrieval search latency by strategy",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		SearchDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "taxflow_retrieval_degraded_total",
			Help: "Hybrid searches that fell back to vector-only results",
		}),
		SearchEscalations: f.NewCounter(prometheus.CounterOpts{
			Name: "taxflow_retrieval_escalations_total",
			Help: "Corrective searches escalated to query expansion",
		}),
		DecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taxflow_router_decisions_total",
			Help: "Routing decisions by route",
		}, []string{"route"}),
		RecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taxflow_records_total",
			Help: "Records handled by the batch processor by status",
		}, []string{"status"}),
		BatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taxflow_reasoning_batches_total",
			Help: "Reasoning batches by status",
		}, []string{"status"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "taxflow_reasoning_batch_duration_seconds",
			Help:    "Reasoning batch latency",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		RunCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "taxflow_run_cache_hits_total",
			Help: "Retrievals served from the per-run cache",
		}),
		RunCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "taxflow_run_cache_misses_total",
			Help: "Retrievals that missed the per-run cache",
		}),
		CorrectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taxflow_corrections_total",
			Help: "Corrections handled by the learning loop by status and result",
		}, []string{"status", "result"}),
		PatternWriteDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "taxflow_pattern_write_drops_total",
			Help: "Pattern updates dropped after repeated write conflicts",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "taxflow_run_duration_seconds",
			Help:    "Batch run duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}

// WriteTextfile writes a snapshot in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
