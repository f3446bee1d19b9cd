// Package metrics provides Prometheus metrics for example assembly.
//
// Exposed metrics:
//   - refprep_fetches_total: Per-index fetches by split and status
//   - refprep_fetch_duration_seconds: Fetch latency histogram
//   - refprep_candidate_regions: Merged candidate count per fetch
//   - refprep_positive_labels: Candidates with a nonzero label per fetch
//   - refprep_cache_events_total: Entry cache outcomes
//   - refprep_entries: Entries held by the most recently built dataset
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts per-index fetches.
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refprep_fetches_total",
			Help: "Total number of per-index example fetches",
		},
		[]string{"split", "status"},
	)

	// FetchDuration tracks fetch latency in seconds.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refprep_fetch_duration_seconds",
			Help:    "Per-index fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"split"},
	)

	// CandidateRegions tracks the merged candidate count.
	CandidateRegions = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refprep_candidate_regions",
			Help:    "Number of merged candidate regions per example",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
		[]string{"split"},
	)

	// PositiveLabels tracks how many candidates keep a nonzero label.
	PositiveLabels = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refprep_positive_labels",
			Help:    "Number of candidates with a nonzero label per example",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"split"},
	)

	// CacheEvents counts entry cache outcomes.
	CacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refprep_cache_events_total",
			Help: "Entry cache outcomes by type",
		},
		[]string{"outcome"},
	)

	// Entries reports the size of the most recently built dataset.
	Entries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "refprep_entries",
			Help: "Number of entries in the dataset",
		},
		[]string{"task", "split"},
	)
)

// RecordFetch records one fetch outcome.
func RecordFetch(split string, start time.Time, candidates, positives int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	FetchesTotal.WithLabelValues(split, status).Inc()
	FetchDuration.WithLabelValues(split).Observe(time.Since(start).Seconds())
	if err == nil {
		CandidateRegions.WithLabelValues(split).Observe(float64(candidates))
		PositiveLabels.WithLabelValues(split).Observe(float64(positives))
	}
}

// RecordCache records an entry cache outcome.
func RecordCache(outcome string) {
	CacheEvents.WithLabelValues(outcome).Inc()
}
