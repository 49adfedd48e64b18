package agent

import (
	"context"

	"github.com/vibecoder/research-engine/internal/session"
)

// EscalationChecker is a loop-control step: it reads the research evaluation
// verdict from session state and escalates to stop the enclosing loop when
// the research passed. It holds no state of its own and never mutates the
// session beyond emitting its event.
type EscalationChecker struct {
	name string
}

// NewEscalationChecker creates a named escalation checker.
func NewEscalationChecker(name string) *EscalationChecker {
	return &EscalationChecker{name: name}
}

func (e *EscalationChecker) Name() string { return e.name }

func (e *EscalationChecker) Run(_ context.Context, inv *Invocation) error {
	evaluation := inv.Session.ResearchEvaluation()
	ev := session.NewEvent(e.name)
	if evaluation.Passed() {
		inv.Logger.Printf("[%s] research evaluation passed, escalating to stop loop", e.name)
		ev.Actions.Escalate = true
	} else {
		// Missing or failed verdict both mean the loop continues.
		inv.Logger.Printf("[%s] research evaluation failed or not found, loop will continue", e.name)
	}
	inv.Emit(ev)
	return nil
}
