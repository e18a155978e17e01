package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Asktra service metrics
var (
	// Reasoning pipeline metrics
	ReasoningRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asktra_reasoning_runs_total",
			Help: "Total number of reasoning runs",
		},
		[]string{"mode", "status"}, // mode: sync/stream
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asktra_phase_duration_seconds",
			Help:    "Reasoning phase duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
		[]string{"phase"},
	)

	ExtractionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asktra_extraction_failures_total",
			Help: "Model responses that yielded no JSON object and fell back to defaults",
		},
		[]string{"phase"},
	)

	ContextTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "asktra_context_tokens",
			Help:    "Estimated token size of assembled evidence context",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10), // 256 to ~130k
		},
	)

	// Bundle metrics
	BundleAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asktra_bundle_attempts_total",
			Help: "Reconciliation bundle generation attempts by outcome",
		},
		[]string{"outcome"}, // success/empty/rate_limited/error/fallback
	)

	// Resolver metrics
	CitationsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asktra_citations_resolved_total",
			Help: "Citations resolved to evidence, by resolved type",
		},
		[]string{"type"},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asktra_llm_requests_total",
			Help: "Total number of LLM API requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asktra_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
		},
		[]string{"provider", "model"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asktra_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"provider", "model", "type"}, // type: input/output
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asktra_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)
