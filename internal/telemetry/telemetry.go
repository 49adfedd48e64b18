// Package telemetry tracks pipeline performance and LLM cost across
// research runs.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/vibecoder/research-engine/config"
)

// Telemetry provides monitoring and cost tracking for the pipeline.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds pipeline performance metrics.
type Metrics struct {
	// Run metrics
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	AverageRunTime time.Duration

	// Agent metrics
	AgentExecutions   map[string]int64
	AgentAverageTimes map[string]time.Duration

	// LLM metrics
	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64

	// Loop metrics
	EvaluationPasses int64
	EvaluationFails  int64
	LoopIterations   int64

	// Citation metrics
	SourcesCollected  int64
	ClaimsCollected   int64
	CitationsResolved int64
	CitationsDropped  int64
}

// CostTracker tracks token spend per model.
type CostTracker struct {
	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// RunEvent represents one full pipeline run.
type RunEvent struct {
	SessionID string
	Topic     string
	StartTime time.Time
	EndTime   time.Time
	Success   bool
	Error     string
}

// AgentEvent represents a single agent invocation.
type AgentEvent struct {
	Agent        string
	Model        string
	Duration     time.Duration
	InputTokens  int64
	OutputTokens int64
	Success      bool
}

// Cost per 1K tokens, blended input/output. Rough figures, only used for
// the cost summary log line.
var modelCostPer1K = map[string]float64{
	"gemini-pro":   0.00625,
	"gemini-flash": 0.00105,
}

// New creates a telemetry instance.
func New(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			AgentExecutions:   make(map[string]int64),
			AgentAverageTimes: make(map[string]time.Duration),
			LLMRequests:       make(map[string]int64),
			LLMTokensUsed:     make(map[string]int64),
		},
		costTracker: &CostTracker{ModelCosts: make(map[string]float64)},
	}

	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startPeriodicReporting()
	}

	return t
}

// RecordRunEvent records a completed pipeline run.
func (t *Telemetry) RecordRunEvent(event RunEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}

	elapsed := event.EndTime.Sub(event.StartTime)
	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = elapsed
	} else {
		total := t.metrics.AverageRunTime*time.Duration(t.metrics.TotalRuns-1) + elapsed
		t.metrics.AverageRunTime = total / time.Duration(t.metrics.TotalRuns)
	}

	runsTotal.WithLabelValues(statusLabel(event.Success)).Inc()
	runDuration.Observe(elapsed.Seconds())
}

// RecordAgentEvent records a single agent invocation.
func (t *Telemetry) RecordAgentEvent(event AgentEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	count := t.metrics.AgentExecutions[event.Agent]
	t.metrics.AgentExecutions[event.Agent] = count + 1
	prev := t.metrics.AgentAverageTimes[event.Agent]
	t.metrics.AgentAverageTimes[event.Agent] = (prev*time.Duration(count) + event.Duration) / time.Duration(count+1)

	if event.Model != "" {
		tokens := event.InputTokens + event.OutputTokens
		t.metrics.LLMRequests[event.Model]++
		t.metrics.LLMTokensUsed[event.Model] += tokens

		if t.config.CostTracking {
			cost := float64(tokens) / 1000 * modelCostPer1K[event.Model]
			t.costTracker.ModelCosts[event.Model] += cost
			t.costTracker.TotalCost += cost
			t.costTracker.TotalTokens += tokens
		}
		llmTokensTotal.WithLabelValues(event.Model).Add(float64(event.InputTokens + event.OutputTokens))
	}

	agentExecutions.WithLabelValues(event.Agent, statusLabel(event.Success)).Inc()
}

// RecordEvaluation records an evaluation verdict.
func (t *Telemetry) RecordEvaluation(passed bool) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	if passed {
		t.metrics.EvaluationPasses++
	} else {
		t.metrics.EvaluationFails++
	}
	t.mu.Unlock()
	evaluations.WithLabelValues(gradeLabel(passed)).Inc()
}

// RecordLoopIteration records one pass of the refinement loop.
func (t *Telemetry) RecordLoopIteration() {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.metrics.LoopIterations++
	t.mu.Unlock()
	loopIterations.Inc()
}

// RecordSourceCollection records the outcome of a source-collection pass.
func (t *Telemetry) RecordSourceCollection(newSources, newClaims int) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.metrics.SourcesCollected += int64(newSources)
	t.metrics.ClaimsCollected += int64(newClaims)
	t.mu.Unlock()
	sourcesCollected.Add(float64(newSources))
}

// RecordCitationRewrite records resolved and dropped markers for one report.
func (t *Telemetry) RecordCitationRewrite(resolved, dropped int) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.metrics.CitationsResolved += int64(resolved)
	t.metrics.CitationsDropped += int64(dropped)
	t.mu.Unlock()
	citationsResolved.Add(float64(resolved))
	citationsDropped.Add(float64(dropped))
}

// GetMetrics returns a copy of the current metrics.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := *t.metrics
	out.AgentExecutions = make(map[string]int64, len(t.metrics.AgentExecutions))
	for k, v := range t.metrics.AgentExecutions {
		out.AgentExecutions[k] = v
	}
	out.AgentAverageTimes = make(map[string]time.Duration, len(t.metrics.AgentAverageTimes))
	for k, v := range t.metrics.AgentAverageTimes {
		out.AgentAverageTimes[k] = v
	}
	out.LLMRequests = make(map[string]int64, len(t.metrics.LLMRequests))
	for k, v := range t.metrics.LLMRequests {
		out.LLMRequests[k] = v
	}
	out.LLMTokensUsed = make(map[string]int64, len(t.metrics.LLMTokensUsed))
	for k, v := range t.metrics.LLMTokensUsed {
		out.LLMTokensUsed[k] = v
	}
	return out
}

// GetCostSummary returns a copy of the cost tracker.
func (t *Telemetry) GetCostSummary() CostTracker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := *t.costTracker
	out.ModelCosts = make(map[string]float64, len(t.costTracker.ModelCosts))
	for k, v := range t.costTracker.ModelCosts {
		out.ModelCosts[k] = v
	}
	return out
}

func (t *Telemetry) startPeriodicReporting() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m := t.GetMetrics()
		c := t.GetCostSummary()
		t.logger.Printf("runs=%d ok=%d failed=%d avg=%v sources=%d citations_dropped=%d tokens=%d cost=$%.4f",
			m.TotalRuns, m.SuccessfulRuns, m.FailedRuns, m.AverageRunTime,
			m.SourcesCollected, m.CitationsDropped, c.TotalTokens, c.TotalCost)
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func gradeLabel(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
