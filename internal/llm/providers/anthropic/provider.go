// Package anthropic adapts github.com/anthropics/anthropic-sdk-go behind
// the llm.Provider interface. Structurally grounded in the teacher's
// ai/client.go provider clients (apiKey/timeout construction, environment
// fallback for the key) but backed by the real vendor SDK instead of a
// hand-rolled HTTP client.
package anthropic

import (
	"context"
	"fmt"
	"os"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/homelabops/orchestrator/internal/llm"
)

type Provider struct {
	client  anthropicsdk.Client
	timeout time.Duration
}

func New(apiKey string, timeout time.Duration) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if timeout <= 0 {
		timeout = llm.DefaultTimeout
	}
	client := anthropicsdk.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: client, timeout: timeout}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Complete(ctx context.Context, model string, messages []llm.Message, params llm.Params) (*llm.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msgs := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := p.client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(model),
		MaxTokens:   maxTokens,
		Messages:    msgs,
		Temperature: anthropicsdk.Float(params.Temperature),
	})
	if err != nil {
		return nil, classify(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &llm.Completion{
		Text:         text,
		Model:        model,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func classify(err error) error {
	msg := err.Error()
	class := llm.ErrClassTransient
	switch {
	case contains(msg, "401") || contains(msg, "authentication"):
		class = llm.ErrClassAuth
	case contains(msg, "404") || contains(msg, "model"):
		class = llm.ErrClassModelNotFound
	}
	return &llm.LLMError{Provider: "anthropic", Class: class, Err: fmt.Errorf("%w", err)}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
