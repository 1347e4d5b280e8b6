package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is the model used when none is configured.
	DefaultModel = "claude-3-5-haiku-latest"

	maxResultTokens = 2048

	systemPrompt = "You are a memory analysis assistant. Distill the " +
		"following conversation excerpts into a compact summary of durable " +
		"facts, preferences and context worth remembering. Output only the " +
		"summary text."
)

// AnthropicAnalyzer summarizes chunk batches through the Anthropic Messages
// API.
type AnthropicAnalyzer struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an analyzer using the given API key and model.
// An empty model selects DefaultModel.
func NewAnthropic(apiKey, model string) *AnthropicAnalyzer {
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicAnalyzer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Analyze sends the batch as one message and returns the text of the reply.
func (a *AnthropicAnalyzer) Analyze(ctx context.Context, batch []string) (string, error) {
	if len(batch) == 0 {
		return "", nil
	}

	prompt := strings.Join(batch, "\n\n---\n\n")
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxResultTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return out.String(), nil
}
