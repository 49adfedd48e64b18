package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors mirrored from the in-memory metrics, exposed on the
// server's /metrics endpoint.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_runs_total",
		Help: "Completed research pipeline runs by status.",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "research_run_duration_seconds",
		Help:    "End-to-end research pipeline run duration.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	agentExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_agent_executions_total",
		Help: "Agent invocations by agent name and status.",
	}, []string{"agent", "status"})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_llm_tokens_total",
		Help: "LLM tokens consumed by model.",
	}, []string{"model"})

	evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_evaluations_total",
		Help: "Research evaluation verdicts by grade.",
	}, []string{"grade"})

	loopIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_loop_iterations_total",
		Help: "Refinement loop iterations across all runs.",
	})

	sourcesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_sources_collected_total",
		Help: "Distinct web sources registered across all runs.",
	})

	citationsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_citations_resolved_total",
		Help: "Citation markers resolved into links.",
	})

	citationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_citations_dropped_total",
		Help: "Citation markers referencing unknown sources, removed from output.",
	})
)
