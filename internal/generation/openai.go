package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/HendryAvila/specgate/internal/governance"
)

// OpenAIConfig configures the OpenAI chat-completions adapter.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIGenerator calls OpenAI chat completions in JSON mode.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

// NewOpenAIGenerator builds the adapter. The API key is required.
func NewOpenAIGenerator(cfg OpenAIConfig, log *slog.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key not set")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if log == nil {
		log = slog.Default()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	log.Info("Initializing OpenAI generator", "model", cfg.Model)
	return &OpenAIGenerator{client: openai.NewClientWithConfig(oc), model: cfg.Model, log: log}, nil
}

// Generate implements Generator.
func (o *OpenAIGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	const op = "generation.openai"
	input, err := json.Marshal(req.Input)
	if err != nil {
		return nil, governance.Wrap(governance.GenerationError, op, err)
	}

	chat := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: string(input)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	}

	o.log.Debug("Generating via OpenAI", "model", o.model, "task", req.Task)
	resp, err := o.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return nil, governance.Wrap(governance.GenerationError, op, fmt.Errorf("OpenAI API call failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, governance.E(governance.GenerationError, op, "OpenAI returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, governance.E(governance.GenerationError, op, "OpenAI returned empty content (finish_reason=%s)", resp.Choices[0].FinishReason)
	}
	return json.RawMessage(content), nil
}

func systemPrompt(req Request) string {
	var b strings.Builder
	switch req.Task {
	case TaskCompileAuthority:
		b.WriteString("Compile the technical specification in the user message into a governance authority. ")
		b.WriteString("List in-scope topics, typed invariants, eligible and rejected items, and open gaps.")
	case TaskGenerateArtifact:
		b.WriteString("Produce one planning artifact for the requested kind, grounded only in the supplied authority.")
	default:
		fmt.Fprintf(&b, "Perform task %q.", req.Task)
	}
	if req.Schema != "" {
		b.WriteString("\nRespond with a single JSON object matching this JSON Schema:\n")
		b.WriteString(req.Schema)
	}
	return b.String()
}
