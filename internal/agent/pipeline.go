package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/vibecoder/research-engine/config"
	"github.com/vibecoder/research-engine/internal/session"
	"github.com/vibecoder/research-engine/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Session state slots written by the pipeline agents.
const (
	slotResearchTopic   = "research_topic"
	slotResearchPlan    = "research_plan"
	slotReportSections  = "report_sections"
	slotSectionFindings = "section_research_findings"
)

// Pipeline is the full research flow: plan, outline, grounded research, an
// evaluate/refine loop and final report composition with citations.
type Pipeline struct {
	cfg      *config.Config
	provider *Provider
	tele     *telemetry.Telemetry
	logger   *log.Logger
	root     Agent
}

// NewPipeline wires the research pipeline from configuration.
func NewPipeline(cfg *config.Config, provider *Provider, tele *telemetry.Telemetry, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}

	p := &Pipeline{cfg: cfg, provider: provider, tele: tele, logger: logger}

	planGenerator := &LLMAgent{
		name:        "plan_generator",
		model:       cfg.LLM.Routing.Planning,
		instruction: planGeneratorInstruction,
		prompt:      "Research topic: {research_topic}",
		outputKey:   slotResearchPlan,
		provider:    provider,
	}

	sectionPlanner := &LLMAgent{
		name:        "section_planner",
		model:       cfg.LLM.Routing.Planning,
		instruction: sectionPlannerInstruction,
		prompt:      "Design the report outline for: {research_topic}",
		outputKey:   slotReportSections,
		provider:    provider,
	}

	sectionResearcher := &LLMAgent{
		name:        "section_researcher",
		model:       cfg.LLM.Routing.Research,
		instruction: sectionResearcherInstruction,
		prompt:      "Research the topic: {research_topic}",
		grounded:    true,
		outputKey:   slotSectionFindings,
		after:       []AfterAgentCallback{CollectResearchSources},
		provider:    provider,
	}

	researchEvaluator := &LLMAgent{
		name:        "research_evaluator",
		model:       cfg.LLM.Routing.Evaluation,
		instruction: researchEvaluatorInstruction,
		prompt:      "Evaluate the research for: {research_topic}",
		schema:      FeedbackSchema(),
		parseOutput: p.parseEvaluation,
		provider:    provider,
	}

	enhancedSearchExecutor := &LLMAgent{
		name:        "enhanced_search_executor",
		model:       cfg.LLM.Routing.Research,
		instruction: enhancedSearchInstruction,
		prompt:      "Execute the follow-up searches for: {research_topic}",
		grounded:    true,
		outputKey:   slotSectionFindings,
		after:       []AfterAgentCallback{CollectResearchSources},
		provider:    provider,
	}

	reportComposer := &LLMAgent{
		name:        "report_composer",
		model:       cfg.LLM.Routing.Synthesis,
		instruction: reportComposerInstruction,
		prompt:      "Compose the final report for: {research_topic}",
		parseOutput: func(inv *Invocation, raw string) error {
			inv.Session.SetFinalCitedReport(raw)
			return nil
		},
		after:    []AfterAgentCallback{ReplaceCitations},
		provider: provider,
	}

	refinementLoop := NewLoopAgent("refinement_loop", cfg.Pipeline.MaxLoopIterations,
		researchEvaluator,
		NewEscalationChecker("escalation_checker"),
		enhancedSearchExecutor,
	)

	p.root = NewSequentialAgent("research_pipeline",
		planGenerator,
		sectionPlanner,
		sectionResearcher,
		refinementLoop,
		reportComposer,
	)

	return p
}

// Run executes the full pipeline for a topic against the given session and
// returns the final report with resolved citations.
func (p *Pipeline) Run(ctx context.Context, sess *session.Session, topic string) (string, error) {
	start := time.Now()
	ctx, span := agentTracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID()),
		))
	defer span.End()

	if p.cfg.General.MaxProcessingTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.General.MaxProcessingTime)
		defer cancel()
	}

	sess.Set(slotResearchTopic, topic)
	userEv := session.NewEvent("user")
	userEv.Content = topic
	sess.AddEvent(userEv)

	inv := &Invocation{Session: sess, Logger: p.logger, Telemetry: p.tele}

	p.logger.Printf("starting research run %s: %q", sess.ID(), topic)
	err := p.root.Run(ctx, inv)

	if p.tele != nil {
		p.tele.RecordRunEvent(telemetry.RunEvent{
			SessionID: sess.ID(),
			Topic:     topic,
			StartTime: start,
			EndTime:   time.Now(),
			Success:   err == nil,
			Error:     errString(err),
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	report := sess.FinalReportWithCitations()
	if report == "" {
		// Rewriting never fails outright, but degrade to the raw report
		// rather than returning nothing.
		report = sess.FinalCitedReport()
	}
	if report == "" {
		err := fmt.Errorf("pipeline produced no report for session %s", sess.ID())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	p.logger.Printf("completed research run %s in %v (%d sources)", sess.ID(), time.Since(start), len(sess.Sources()))
	span.SetAttributes(
		attribute.Int("run.sources", len(sess.Sources())),
		attribute.Int("run.report_chars", len(report)),
	)
	span.SetStatus(codes.Ok, "completed")
	return report, nil
}

// parseEvaluation decodes the evaluator's structured verdict. A malformed
// verdict is logged and discarded so the loop simply continues.
func (p *Pipeline) parseEvaluation(inv *Invocation, raw string) error {
	var feedback session.Feedback
	if err := json.Unmarshal([]byte(raw), &feedback); err != nil {
		inv.Logger.Printf("WARN: discarding malformed evaluation verdict: %v", err)
		inv.Session.SetResearchEvaluation(nil)
		return nil
	}
	inv.Session.SetResearchEvaluation(&feedback)
	if inv.Telemetry != nil {
		inv.Telemetry.RecordEvaluation(feedback.Passed())
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
