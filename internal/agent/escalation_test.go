package agent

import (
	"context"
	"testing"

	"github.com/vibecoder/research-engine/internal/session"
)

func lastEvent(t *testing.T, sess *session.Session) session.Event {
	t.Helper()
	events := sess.Events()
	if len(events) == 0 {
		t.Fatalf("no events emitted")
	}
	return events[len(events)-1]
}

func TestEscalationCheckerEscalatesOnPass(t *testing.T) {
	sess := session.New()
	sess.SetResearchEvaluation(&session.Feedback{Grade: session.GradePass, Comment: "solid"})
	inv := testInvocation(sess)

	checker := NewEscalationChecker("escalation_checker")
	if err := checker.Run(context.Background(), inv); err != nil {
		t.Fatalf("run: %v", err)
	}

	ev := lastEvent(t, sess)
	if ev.Author != "escalation_checker" {
		t.Fatalf("unexpected author %q", ev.Author)
	}
	if !ev.Actions.Escalate {
		t.Fatalf("expected escalate action on pass")
	}
	if !inv.consumeEscalation() {
		t.Fatalf("escalation not latched on invocation")
	}
}

func TestEscalationCheckerContinuesOnFail(t *testing.T) {
	sess := session.New()
	sess.SetResearchEvaluation(&session.Feedback{
		Grade:           session.GradeFail,
		Comment:         "needs depth",
		FollowUpQueries: []session.SearchQuery{{SearchQuery: "more detail"}},
	})
	inv := testInvocation(sess)

	if err := NewEscalationChecker("escalation_checker").Run(context.Background(), inv); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ev := lastEvent(t, sess); ev.Actions.Escalate {
		t.Fatalf("fail verdict must not escalate")
	}
	if inv.consumeEscalation() {
		t.Fatalf("escalation latched on fail verdict")
	}
}

func TestEscalationCheckerContinuesWhenVerdictAbsent(t *testing.T) {
	sess := session.New()
	inv := testInvocation(sess)

	if err := NewEscalationChecker("escalation_checker").Run(context.Background(), inv); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ev := lastEvent(t, sess); ev.Actions.Escalate {
		t.Fatalf("absent verdict must not escalate")
	}
}
