package telemetry

import (
	"testing"
	"time"

	"github.com/vibecoder/research-engine/config"
)

func enabled() config.TelemetryConfig {
	return config.TelemetryConfig{Enabled: true, CostTracking: true}
}

func TestRecordRunEvent(t *testing.T) {
	tele := New(enabled())
	start := time.Now()

	tele.RecordRunEvent(RunEvent{SessionID: "s1", StartTime: start, EndTime: start.Add(2 * time.Second), Success: true})
	tele.RecordRunEvent(RunEvent{SessionID: "s2", StartTime: start, EndTime: start.Add(4 * time.Second), Success: false, Error: "boom"})

	m := tele.GetMetrics()
	if m.TotalRuns != 2 || m.SuccessfulRuns != 1 || m.FailedRuns != 1 {
		t.Fatalf("unexpected run counts: %+v", m)
	}
	if m.AverageRunTime != 3*time.Second {
		t.Fatalf("unexpected average run time: %v", m.AverageRunTime)
	}
}

func TestRecordAgentEventTracksTokensAndCost(t *testing.T) {
	tele := New(enabled())

	tele.RecordAgentEvent(AgentEvent{
		Agent: "section_researcher", Model: "gemini-flash",
		Duration: time.Second, InputTokens: 600, OutputTokens: 400, Success: true,
	})
	tele.RecordAgentEvent(AgentEvent{
		Agent: "section_researcher", Model: "gemini-flash",
		Duration: 3 * time.Second, InputTokens: 1000, OutputTokens: 0, Success: true,
	})

	m := tele.GetMetrics()
	if m.AgentExecutions["section_researcher"] != 2 {
		t.Fatalf("unexpected executions: %+v", m.AgentExecutions)
	}
	if m.AgentAverageTimes["section_researcher"] != 2*time.Second {
		t.Fatalf("unexpected average time: %v", m.AgentAverageTimes["section_researcher"])
	}
	if m.LLMTokensUsed["gemini-flash"] != 2000 {
		t.Fatalf("unexpected token count: %+v", m.LLMTokensUsed)
	}

	c := tele.GetCostSummary()
	if c.TotalTokens != 2000 {
		t.Fatalf("unexpected total tokens: %d", c.TotalTokens)
	}
	if c.TotalCost <= 0 {
		t.Fatalf("cost not tracked: %+v", c)
	}
}

func TestRecordPipelineCounters(t *testing.T) {
	tele := New(enabled())

	tele.RecordEvaluation(false)
	tele.RecordEvaluation(false)
	tele.RecordEvaluation(true)
	tele.RecordLoopIteration()
	tele.RecordLoopIteration()
	tele.RecordSourceCollection(3, 7)
	tele.RecordCitationRewrite(5, 1)

	m := tele.GetMetrics()
	if m.EvaluationPasses != 1 || m.EvaluationFails != 2 {
		t.Fatalf("unexpected evaluation counts: %+v", m)
	}
	if m.LoopIterations != 2 {
		t.Fatalf("unexpected loop iterations: %d", m.LoopIterations)
	}
	if m.SourcesCollected != 3 || m.ClaimsCollected != 7 {
		t.Fatalf("unexpected source counts: %+v", m)
	}
	if m.CitationsResolved != 5 || m.CitationsDropped != 1 {
		t.Fatalf("unexpected citation counts: %+v", m)
	}
}

func TestDisabledTelemetryRecordsNothing(t *testing.T) {
	tele := New(config.TelemetryConfig{})

	tele.RecordRunEvent(RunEvent{Success: true})
	tele.RecordEvaluation(true)
	tele.RecordSourceCollection(1, 1)

	m := tele.GetMetrics()
	if m.TotalRuns != 0 || m.EvaluationPasses != 0 || m.SourcesCollected != 0 {
		t.Fatalf("disabled telemetry still recorded: %+v", m)
	}
}

func TestGetMetricsReturnsCopy(t *testing.T) {
	tele := New(enabled())
	tele.RecordAgentEvent(AgentEvent{Agent: "a", Duration: time.Second, Success: true})

	m := tele.GetMetrics()
	m.AgentExecutions["a"] = 99

	if tele.GetMetrics().AgentExecutions["a"] != 1 {
		t.Fatalf("metrics mutated through returned copy")
	}
}
