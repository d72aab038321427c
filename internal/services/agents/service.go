package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/interfaces"
	"github.com/ternarybob/pagemill/internal/models"
)

// systemPrompts maps agent types to their instructions. Every agent must
// answer with a single JSON object; the pipeline consumes nothing else.
var systemPrompts = map[string]string{
	"research":     "You are a research agent for a content pipeline. Analyze the project context and return a JSON object describing the topic landscape, audience, and competitors.",
	"architecture": "You are a site architecture agent. Using the research artifact in the context, return a JSON object describing the site structure: sections, page hierarchy, and navigation.",
	"content":      "You are a content generation agent. Using the architecture artifact in the context, return a JSON object with a \"pages\" array; each page has \"title\", \"slug\", and \"content\" fields.",
	"elementor":    "You are a layout agent. Using the content artifact in the context, return a JSON object mapping each page slug to its layout template data.",
	"linking":      "You are an internal linking agent. Using the site artifacts in the context, return a JSON object mapping each page slug to its internal link targets.",
	"monitor":      "You are a site monitoring agent. Assess the project described in the context and return a JSON object with an integer \"health_score\" between 0 and 100 and a \"summary\" string.",
	"optimize":     "You are a content optimization agent. Rework the page content in the context per the stated reason and return the optimized content as a JSON object.",
}

// Service is the Anthropic-backed Agent collaborator. Schema-invalid output
// and upstream API failures both surface as *models.AgentError so the
// worker pool retries them with backoff.
type Service struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    arbor.ILogger
}

// NewService creates the agent service from the agent config.
func NewService(cfg common.AgentConfig, logger arbor.ILogger) (*Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or agent.api_key in config)")
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	service := &Service{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     model,
		maxTokens: maxTokens,
		timeout:   common.Duration(cfg.Timeout, 120*time.Second),
		logger:    logger,
	}

	logger.Debug().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Dur("timeout", service.timeout).
		Msg("Agent service initialized")

	return service, nil
}

// Run executes one agent invocation and returns its JSON output.
func (s *Service) Run(ctx context.Context, input interfaces.AgentInput) (*interfaces.AgentResult, error) {
	prompt, ok := systemPrompts[input.AgentType]
	if !ok {
		return nil, &models.ValidationError{Field: "agent_type", Reason: fmt.Sprintf("unknown agent type %q", input.AgentType)}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user := s.buildUserMessage(input)
	start := time.Now()

	resp, err := s.client.Messages.New(timeoutCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: prompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return nil, &models.AgentError{AgentType: input.AgentType, Err: fmt.Errorf("upstream call failed: %w", err)}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	output, err := extractJSON(text.String())
	if err != nil {
		return nil, &models.AgentError{AgentType: input.AgentType, Err: err}
	}

	s.logger.Debug().
		Str("agent_type", input.AgentType).
		Str("project_id", input.ProjectID).
		Int("output_length", len(output)).
		Dur("duration", time.Since(start)).
		Msg("Agent run completed")

	return &interfaces.AgentResult{Output: output}, nil
}

func (s *Service) buildUserMessage(input interfaces.AgentInput) string {
	var b strings.Builder
	if input.Prompt != "" {
		b.WriteString(input.Prompt)
		b.WriteString("\n\n")
	}
	if len(input.Context) > 0 {
		b.WriteString("Context:\n")
		b.Write(input.Context)
	}
	if b.Len() == 0 {
		b.WriteString("Begin.")
	}
	return b.String()
}

// extractJSON pulls the JSON object out of the model's reply, tolerating a
// markdown code fence around it.
func extractJSON(raw string) (json.RawMessage, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	return json.RawMessage(text), nil
}
