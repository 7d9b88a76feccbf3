// Package metrics registers the Prometheus collectors used across swatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClassifyDuration observes end-to-end Classify latency by outcome.
	ClassifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swatch_classify_duration_seconds",
			Help:    "Duration of one item classification across all categories.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"outcome"},
	)

	// EmbedRequests counts calls into an embedding backend.
	EmbedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swatch_embed_requests_total",
			Help: "Embedding backend calls by backend.",
		},
		[]string{"backend"},
	)

	// EmbedCache counts embedding cache lookups by result (hit, miss).
	EmbedCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swatch_embed_cache_total",
			Help: "Embedding cache lookups by result.",
		},
		[]string{"result"},
	)

	// DetectorRequests counts label detection calls by backend and outcome.
	DetectorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swatch_detector_requests_total",
			Help: "Label detection calls by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	// PipelineItems counts items processed by the batch pipeline.
	PipelineItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swatch_pipeline_items_total",
			Help: "Items processed by the batch pipeline by outcome.",
		},
		[]string{"outcome"},
	)
)

// Outcome returns the label value for an error result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
