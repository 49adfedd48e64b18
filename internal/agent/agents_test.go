package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/vibecoder/research-engine/internal/session"
)

// stubAgent counts its runs and optionally escalates or errors on a given
// iteration.
type stubAgent struct {
	name        string
	runs        int
	escalateAt  int
	errAt       int
	errToReturn error
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Run(_ context.Context, inv *Invocation) error {
	s.runs++
	if s.errAt > 0 && s.runs == s.errAt {
		return s.errToReturn
	}
	ev := session.NewEvent(s.name)
	if s.escalateAt > 0 && s.runs == s.escalateAt {
		ev.Actions.Escalate = true
	}
	inv.Emit(ev)
	return nil
}

func TestSequentialAgentRunsInOrder(t *testing.T) {
	sess := session.New()
	a := &stubAgent{name: "first"}
	b := &stubAgent{name: "second"}

	seq := NewSequentialAgent("seq", a, b)
	if err := seq.Run(context.Background(), testInvocation(sess)); err != nil {
		t.Fatalf("run: %v", err)
	}

	events := sess.Events()
	if len(events) != 2 || events[0].Author != "first" || events[1].Author != "second" {
		t.Fatalf("unexpected event order: %+v", events)
	}
}

func TestSequentialAgentStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	a := &stubAgent{name: "first", errAt: 1, errToReturn: boom}
	b := &stubAgent{name: "second"}

	err := NewSequentialAgent("seq", a, b).Run(context.Background(), testInvocation(session.New()))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if b.runs != 0 {
		t.Fatalf("second agent ran after failure")
	}
}

func TestLoopAgentStopsOnEscalation(t *testing.T) {
	worker := &stubAgent{name: "worker"}
	checker := &stubAgent{name: "checker", escalateAt: 2}
	after := &stubAgent{name: "after"}

	loop := NewLoopAgent("loop", 5, worker, checker, after)
	if err := loop.Run(context.Background(), testInvocation(session.New())); err != nil {
		t.Fatalf("run: %v", err)
	}

	if worker.runs != 2 || checker.runs != 2 {
		t.Fatalf("expected 2 iterations, got worker=%d checker=%d", worker.runs, checker.runs)
	}
	// Escalation fires mid-iteration; agents after the checker must not run
	// in the escalating pass.
	if after.runs != 1 {
		t.Fatalf("expected 1 run of trailing agent, got %d", after.runs)
	}
}

func TestLoopAgentExhaustsIterationBudget(t *testing.T) {
	worker := &stubAgent{name: "worker"}
	inv := testInvocation(session.New())

	if err := NewLoopAgent("loop", 3, worker).Run(context.Background(), inv); err != nil {
		t.Fatalf("run: %v", err)
	}
	if worker.runs != 3 {
		t.Fatalf("expected 3 runs, got %d", worker.runs)
	}
}

func TestLoopAgentEscalationDoesNotLeak(t *testing.T) {
	checker := &stubAgent{name: "checker", escalateAt: 1}
	inv := testInvocation(session.New())

	if err := NewLoopAgent("loop", 3, checker).Run(context.Background(), inv); err != nil {
		t.Fatalf("run: %v", err)
	}
	if inv.consumeEscalation() {
		t.Fatalf("escalation leaked past the consuming loop")
	}
}

func TestInterpolateSubstitutesKnownSlots(t *testing.T) {
	sess := session.New()
	sess.Set("research_plan", "the plan")
	sess.SetResearchEvaluation(&session.Feedback{Grade: session.GradeFail, Comment: "thin"})

	got := interpolate(sess, "Plan: {research_plan}; verdict: {research_evaluation}; missing: {nope}")
	want := `Plan: the plan; verdict: {"grade":"fail","comment":"thin"}; missing: {nope}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderSourceRegistryOrdersByShortID(t *testing.T) {
	sess := session.New()
	sess.UpdateRegistry(func(_ map[string]string, sources map[string]*session.SourceInfo) {
		sources["src-2"] = &session.SourceInfo{ShortID: "src-2", Title: "B", URL: "u2"}
		sources["src-1"] = &session.SourceInfo{ShortID: "src-1", Title: "A", URL: "u1"}
	})

	got := renderSourceRegistry(sess)
	want := "src-1: A (u1)\nsrc-2: B (u2)\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderSourceRegistryEmpty(t *testing.T) {
	if got := renderSourceRegistry(session.New()); got != "" {
		t.Fatalf("expected empty registry rendering, got %q", got)
	}
}
