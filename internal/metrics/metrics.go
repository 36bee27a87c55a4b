// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AbortSignals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docchat_abort_signals_total",
		Help: "Number of abort signals raised for chat sessions.",
	})

	SharedStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_shared_store_errors_total",
		Help: "Best-effort shared store operations that failed and were swallowed.",
	}, []string{"component", "op"})

	RetrievalDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_retrieval_degraded_total",
		Help: "Retrieval stages that failed and fell back to a narrowed result.",
	}, []string{"stage"})

	RetrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docchat_retrieval_duration_seconds",
		Help:    "End-to-end hybrid retrieval latency.",
		Buckets: prometheus.DefBuckets,
	})

	StreamOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_stream_outcomes_total",
		Help: "Answer stream terminations by outcome.",
	}, []string{"outcome"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_rate_limited_total",
		Help: "Remote generation requests rejected by the guard.",
	}, []string{"reason"})

	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_job_transitions_total",
		Help: "Ingestion job state transitions.",
	}, []string{"status"})

	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_messages_persisted_total",
		Help: "Chat messages consumed by the persist worker, by result.",
	}, []string{"result"})

	IngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docchat_ingest_duration_seconds",
		Help:    "Document commit latency from staged file to indexed chunks.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"result"})
)
