// Package stats exposes per-shard engine statistics as Prometheus metrics.
package stats

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats holds the collectors of one shard. All metrics carry a "shard" label.
type Stats struct {
	Runs              prometheus.Counter
	Batches           prometheus.Counter
	Crashes           prometheus.Counter
	RerunInputs       prometheus.Counter
	PrunedInputs      prometheus.Counter
	CorruptShardReads prometheus.Counter
	ActiveInputs      prometheus.Gauge
	TotalInputs       prometheus.Gauge
	Features          prometheus.Gauge
	CoveredPCs        prometheus.Gauge
	FrontierFuncs     prometheus.Gauge
	BatchDuration     prometheus.Histogram
}

// New registers the collectors of shard on reg. A nil reg gets a private
// registry, which keeps tests and library use free of global state.
func New(reg prometheus.Registerer, shard int) *Stats {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(prometheus.WrapRegistererWith(
		prometheus.Labels{"shard": strconv.Itoa(shard)}, reg))

	return &Stats{
		Runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "millipede_runs_total",
			Help: "Number of inputs executed",
		}),
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "millipede_batches_total",
			Help: "Number of mutation batches executed",
		}),
		Crashes: factory.NewCounter(prometheus.CounterOpts{
			Name: "millipede_crashes_total",
			Help: "Number of failed batches",
		}),
		RerunInputs: factory.NewCounter(prometheus.CounterOpts{
			Name: "millipede_rerun_inputs_total",
			Help: "Number of loaded inputs re-executed to recover their features",
		}),
		PrunedInputs: factory.NewCounter(prometheus.CounterOpts{
			Name: "millipede_pruned_inputs_total",
			Help: "Number of corpus elements evicted by pruning",
		}),
		CorruptShardReads: factory.NewCounter(prometheus.CounterOpts{
			Name: "millipede_corrupt_shard_reads_total",
			Help: "Number of shard loads that stopped early at a corrupt record",
		}),
		ActiveInputs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "millipede_corpus_active",
			Help: "Number of corpus elements currently kept",
		}),
		TotalInputs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "millipede_corpus_total",
			Help: "Number of corpus elements ever added",
		}),
		Features: factory.NewGauge(prometheus.GaugeOpts{
			Name: "millipede_features",
			Help: "Number of distinct features observed",
		}),
		CoveredPCs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "millipede_covered_pcs",
			Help: "Number of distinct PCs covered",
		}),
		FrontierFuncs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "millipede_frontier_functions",
			Help: "Number of functions in the coverage frontier",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "millipede_batch_duration_seconds",
			Help:    "Wall time of one batch execution",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

// ObserveBatch records the execution of one batch of n inputs.
func (s *Stats) ObserveBatch(n int, took time.Duration) {
	s.Runs.Add(float64(n))
	s.BatchDuration.Observe(took.Seconds())
}

// SetCorpus updates the corpus gauges.
func (s *Stats) SetCorpus(active, total, features, coveredPCs int) {
	s.ActiveInputs.Set(float64(active))
	s.TotalInputs.Set(float64(total))
	s.Features.Set(float64(features))
	s.CoveredPCs.Set(float64(coveredPCs))
}
