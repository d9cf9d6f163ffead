package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_pipeline_runs_total",
			Help: "Total number of orchestrator pipeline runs",
		},
		[]string{"intent", "risk", "approval"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_pipeline_duration_seconds",
			Help:    "Orchestrator pipeline duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"intent"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage", "status"},
	)

	StageFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_stage_fallbacks_total",
			Help: "Total number of times a stage returned its safe default",
		},
		[]string{"stage", "reason"},
	)

	// Classification metrics
	IntentsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_intents_classified_total",
			Help: "Total number of classified intents",
		},
		[]string{"intent", "risk"},
	)

	// Policy metrics
	PolicyOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_policy_outcomes_total",
			Help: "Policy rule outcomes by rule and tag",
		},
		[]string{"rule", "outcome"},
	)

	// Reflexion metrics
	ReflexionScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_reflexion_score",
			Help:    "Critic score assigned to high-risk drafts",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_tool_calls_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	ToolSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_tool_searches_total",
			Help: "Total number of semantic tool searches",
		},
		[]string{"status"},
	)

	// Sandbox metrics
	SandboxRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_sandbox_runs_total",
			Help: "Total number of sandboxed code executions",
		},
		[]string{"status"},
	)

	SandboxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_sandbox_duration_seconds",
			Help:    "Sandboxed code execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 15},
		},
	)

	// Predictor metrics
	PredictorTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_predictor_triggers_total",
			Help: "Predictor trigger outcomes",
		},
		[]string{"outcome"},
	)

	DraftsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_drafts_created_total",
			Help: "Total number of drafts persisted for review",
		},
		[]string{"intent"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_llm_requests_total",
			Help: "Total number of language model requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_llm_latency_seconds",
			Help:    "Language model request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_llm_tokens_total",
			Help: "Total tokens consumed by kind",
		},
		[]string{"model", "kind"},
	)

	LLMCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_llm_cost_usd_total",
			Help: "Estimated model spend in USD",
		},
		[]string{"model", "method"},
	)

	// Pricing fallback metrics
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_pricing_fallback_total",
			Help: "Total number of pricing fallbacks (prefix/default rate)",
		},
		[]string{"reason"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Vector store metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Hybrid search metrics
	HybridSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_hybrid_search_total",
			Help: "Hybrid searches by mode (hybrid, structured_only, degraded)",
		},
		[]string{"mode"},
	)

	// Queue metrics
	QueueEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_queue_events_total",
			Help: "Sync queue deliveries by outcome",
		},
		[]string{"stream", "outcome"},
	)

	// Schedule metrics
	ScheduledEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_scheduled_events_total",
			Help: "Events emitted by scheduled jobs by outcome",
		},
		[]string{"job", "outcome"},
	)

	// Trace store metrics
	TraceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_trace_writes_total",
			Help: "Trace and span writes by kind and status",
		},
		[]string{"kind", "status"},
	)
)

// RecordStage records duration and status of a pipeline stage
func RecordStage(stage, status string, durationSeconds float64) {
	StageDuration.WithLabelValues(stage, status).Observe(durationSeconds)
}

// RecordFallback increments the fallback counter for a stage
func RecordFallback(stage, reason string) {
	StageFallbacks.WithLabelValues(stage, reason).Inc()
}

// RecordLLMUsage records token usage and estimated cost for a model call
func RecordLLMUsage(model, method string, inputTokens, outputTokens int, costUSD float64) {
	if inputTokens > 0 {
		LLMTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		LLMTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
	if costUSD > 0 {
		LLMCostUSD.WithLabelValues(model, method).Add(costUSD)
	}
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}
