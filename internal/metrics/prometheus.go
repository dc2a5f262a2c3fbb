package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "papertrend_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"stage"},
	)

	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrend_pipeline_runs_total",
			Help: "Total pipeline runs",
		},
		[]string{"status"},
	)

	QuestionsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papertrend_questions_ingested_total",
			Help: "Total raw questions ingested",
		},
	)

	GroupsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papertrend_variant_groups_created_total",
			Help: "Total variant groups created",
		},
	)

	CandidatesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrend_candidates_generated_total",
			Help: "Total prediction candidates generated",
		},
		[]string{"section", "strategy"},
	)

	CandidatesDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papertrend_candidates_deduplicated_total",
			Help: "Total candidates removed as duplicates",
		},
	)

	CandidatesSelected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrend_candidates_selected_total",
			Help: "Total candidates selected by voting",
		},
		[]string{"section"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrend_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"type"},
	)

	ProviderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrend_provider_failures_total",
			Help: "Total recoverable provider failures",
		},
		[]string{"provider"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrend_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrend_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RelevanceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "papertrend_relevance_score",
			Help:    "Relevance scores of voted candidates",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
)

func Init() {
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(PipelineRuns)
	prometheus.MustRegister(QuestionsIngested)
	prometheus.MustRegister(GroupsCreated)
	prometheus.MustRegister(CandidatesGenerated)
	prometheus.MustRegister(CandidatesDeduplicated)
	prometheus.MustRegister(CandidatesSelected)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(ProviderFailures)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(RelevanceScore)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
