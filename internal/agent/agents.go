// Package agent implements the research pipeline: agent units over the
// Gemini provider, sequential and loop composites, and the callbacks that
// collect sources, rewrite citations and control the refinement loop.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/vibecoder/research-engine/internal/session"
	"github.com/vibecoder/research-engine/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

var agentTracer trace.Tracer = otel.Tracer("research-engine/internal/agent")

// Agent is a single pipeline step.
type Agent interface {
	Name() string
	Run(ctx context.Context, inv *Invocation) error
}

// Invocation carries the per-run context handed to every agent: the session
// state, logging and telemetry. Agents emit events through it; an event
// carrying the escalate action stops the nearest enclosing loop.
type Invocation struct {
	Session   *session.Session
	Logger    *log.Logger
	Telemetry *telemetry.Telemetry

	escalated bool
}

// Emit appends an event to the session log and latches its control signal.
func (inv *Invocation) Emit(ev session.Event) {
	inv.Session.AddEvent(ev)
	if ev.Actions.Escalate {
		inv.escalated = true
	}
}

// consumeEscalation reports and clears the escalation latch.
func (inv *Invocation) consumeEscalation() bool {
	if inv.escalated {
		inv.escalated = false
		return true
	}
	return false
}

// AfterAgentCallback runs after an LLM agent produced its output. A
// non-empty return value replaces the agent's response content.
type AfterAgentCallback func(ctx context.Context, inv *Invocation) (string, error)

// OutputParser stores an agent's raw output into session state.
type OutputParser func(inv *Invocation, raw string) error

// LLMAgent is one model-backed pipeline step.
type LLMAgent struct {
	name        string
	model       string
	instruction string
	prompt      string
	grounded    bool
	schema      *genai.Schema
	outputKey   string
	parseOutput OutputParser
	after       []AfterAgentCallback
	provider    *Provider
}

func (a *LLMAgent) Name() string { return a.name }

func (a *LLMAgent) Run(ctx context.Context, inv *Invocation) error {
	ctx, span := agentTracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("agent.name", a.name),
			attribute.String("agent.model", a.model),
			attribute.Bool("agent.grounded", a.grounded),
		))
	defer span.End()

	start := time.Now()
	instruction := interpolate(inv.Session, a.instruction)
	prompt := interpolate(inv.Session, a.prompt)

	result, err := a.provider.Generate(ctx, a.model, instruction, prompt, GenerateOptions{
		Grounded: a.grounded,
		Schema:   a.schema,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if inv.Telemetry != nil {
			inv.Telemetry.RecordAgentEvent(telemetry.AgentEvent{
				Agent: a.name, Model: a.model, Duration: time.Since(start), Success: false,
			})
		}
		return fmt.Errorf("agent %s failed: %w", a.name, err)
	}

	if a.parseOutput != nil {
		if err := a.parseOutput(inv, result.Text); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("agent %s output: %w", a.name, err)
		}
	} else if a.outputKey != "" {
		inv.Session.Set(a.outputKey, result.Text)
	}

	ev := session.NewEvent(a.name)
	ev.Content = result.Text
	ev.Grounding = result.Grounding
	inv.Emit(ev)

	if inv.Telemetry != nil {
		inv.Telemetry.RecordAgentEvent(telemetry.AgentEvent{
			Agent:        a.name,
			Model:        a.model,
			Duration:     time.Since(start),
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
			Success:      true,
		})
	}

	for _, cb := range a.after {
		replacement, err := cb(ctx, inv)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("agent %s callback: %w", a.name, err)
		}
		if replacement != "" {
			rev := session.NewEvent(a.name)
			rev.Content = replacement
			inv.Emit(rev)
		}
	}

	span.SetAttributes(attribute.Int("agent.output_chars", len(result.Text)))
	span.SetStatus(codes.Ok, "completed")
	return nil
}

// SequentialAgent runs its sub-agents in order, aborting on the first error.
type SequentialAgent struct {
	name      string
	subAgents []Agent
}

// NewSequentialAgent creates a sequential composite.
func NewSequentialAgent(name string, subAgents ...Agent) *SequentialAgent {
	return &SequentialAgent{name: name, subAgents: subAgents}
}

func (a *SequentialAgent) Name() string { return a.name }

func (a *SequentialAgent) Run(ctx context.Context, inv *Invocation) error {
	for _, sub := range a.subAgents {
		if err := sub.Run(ctx, inv); err != nil {
			return err
		}
	}
	return nil
}

// LoopAgent runs its sub-agents repeatedly until one of them escalates or
// the iteration budget is spent. Escalation is consumed here; it does not
// propagate to enclosing composites.
type LoopAgent struct {
	name          string
	maxIterations int
	subAgents     []Agent
}

// NewLoopAgent creates a loop composite with the given iteration budget.
func NewLoopAgent(name string, maxIterations int, subAgents ...Agent) *LoopAgent {
	return &LoopAgent{name: name, maxIterations: maxIterations, subAgents: subAgents}
}

func (a *LoopAgent) Name() string { return a.name }

func (a *LoopAgent) Run(ctx context.Context, inv *Invocation) error {
	for i := 1; i <= a.maxIterations; i++ {
		if inv.Telemetry != nil {
			inv.Telemetry.RecordLoopIteration()
		}
		for _, sub := range a.subAgents {
			if err := sub.Run(ctx, inv); err != nil {
				return err
			}
			if inv.consumeEscalation() {
				inv.Logger.Printf("[%s] stopping after %d iteration(s)", a.name, i)
				return nil
			}
		}
	}
	inv.Logger.Printf("[%s] iteration budget (%d) spent, moving on", a.name, a.maxIterations)
	return nil
}

// slotPattern matches {slot_name} placeholders in instruction templates.
var slotPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// interpolate substitutes {slot} placeholders with session state. Unknown
// slots are left verbatim.
func interpolate(sess *session.Session, text string) string {
	return slotPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := match[1 : len(match)-1]
		if v, ok := slotValue(sess, key); ok {
			return v
		}
		return match
	})
}

func slotValue(sess *session.Session, key string) (string, bool) {
	switch key {
	case "final_cited_report":
		return sess.FinalCitedReport(), sess.FinalCitedReport() != ""
	case "final_report_with_citations":
		return sess.FinalReportWithCitations(), sess.FinalReportWithCitations() != ""
	case "source_registry":
		reg := renderSourceRegistry(sess)
		return reg, reg != ""
	case "research_evaluation":
		f := sess.ResearchEvaluation()
		if f == nil {
			return "", false
		}
		b, err := json.Marshal(f)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return sess.Get(key)
	}
}

// renderSourceRegistry lists the registry in short-identifier order for
// prompt consumption.
func renderSourceRegistry(sess *session.Session) string {
	sources := sess.Sources()
	if len(sources) == 0 {
		return ""
	}
	var sb strings.Builder
	for i := 1; ; i++ {
		src, ok := sources[fmt.Sprintf("src-%d", i)]
		if !ok {
			break
		}
		fmt.Fprintf(&sb, "%s: %s (%s)\n", src.ShortID, src.DisplayTitle(), src.URL)
	}
	return sb.String()
}
