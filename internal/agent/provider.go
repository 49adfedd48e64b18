package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/vibecoder/research-engine/config"
	"google.golang.org/genai"
)

// Provider wraps the Gemini client with model routing from configuration.
type Provider struct {
	client *genai.Client
	cfg    config.LLMConfig
	logger *log.Logger
}

// GenerateOptions control a single generation call.
type GenerateOptions struct {
	// Grounded enables the built-in Google Search tool; the response then
	// carries grounding metadata linking text spans to web sources.
	Grounded bool
	// Schema forces structured JSON output matching the given schema.
	Schema *genai.Schema
}

// GenerateResult is the outcome of one generation call.
type GenerateResult struct {
	Text         string
	Grounding    *genai.GroundingMetadata
	InputTokens  int64
	OutputTokens int64
}

// NewProvider creates a Gemini provider from configuration.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured (GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Provider{
		client: client,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[LLM] ", log.LstdFlags),
	}, nil
}

// Generate runs one generation against the model registered under modelKey.
func (p *Provider) Generate(ctx context.Context, modelKey, instruction, prompt string, opts GenerateOptions) (*GenerateResult, error) {
	m, ok := p.cfg.Models[modelKey]
	if !ok {
		fallback := p.cfg.Routing.Fallback
		if fallback == "" {
			return nil, fmt.Errorf("model %q not configured and no fallback set", modelKey)
		}
		m, ok = p.cfg.Models[fallback]
		if !ok {
			return nil, fmt.Errorf("fallback model %q not configured", fallback)
		}
		modelKey = fallback
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(m.Temperature)),
	}
	if m.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(m.MaxTokens)
	}
	if instruction != "" {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instruction}}}
	}
	if m.ThinkingBudget > 0 {
		genCfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(m.ThinkingBudget))}
	}
	if opts.Grounded {
		genCfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if opts.Schema != nil {
		genCfg.ResponseMIMEType = "application/json"
		genCfg.ResponseSchema = opts.Schema
	}

	resp, err := p.client.Models.GenerateContent(ctx, apiModel, genai.Text(prompt), genCfg)
	if err != nil {
		return nil, fmt.Errorf("generation failed (%s): %w", apiModel, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no completion returned (%s)", apiModel)
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}

	result := &GenerateResult{
		Text:      strings.TrimSpace(sb.String()),
		Grounding: candidate.GroundingMetadata,
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	if opts.Grounded && result.Grounding != nil {
		p.logger.Printf("grounded generation: %d chunks, %d supports",
			len(result.Grounding.GroundingChunks), len(result.Grounding.GroundingSupports))
	}

	return result, nil
}
