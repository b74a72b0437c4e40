// Package openai adapts github.com/openai/openai-go behind the
// llm.Provider interface, following the same shape as the teacher's
// ai/client.go OpenAIClient (API key from env fallback, fixed timeout)
// but delegating the wire protocol to the vendor SDK.
package openai

import (
	"context"
	"fmt"
	"os"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/homelabops/orchestrator/internal/llm"
)

type Provider struct {
	client  openaisdk.Client
	timeout time.Duration
}

func New(apiKey string, timeout time.Duration) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if timeout <= 0 {
		timeout = llm.DefaultTimeout
	}
	client := openaisdk.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: client, timeout: timeout}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Complete(ctx context.Context, model string, messages []llm.Message, params llm.Params) (*llm.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openaisdk.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openaisdk.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openaisdk.UserMessage(m.Content))
		}
	}

	req := openaisdk.ChatCompletionNewParams{
		Model:       openaisdk.ChatModel(model),
		Messages:    msgs,
		Temperature: openaisdk.Float(params.Temperature),
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openaisdk.Int(int64(params.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, classify(fmt.Errorf("openai: empty choices"))
	}

	return &llm.Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func classify(err error) error {
	msg := err.Error()
	class := llm.ErrClassTransient
	switch {
	case contains(msg, "401") || contains(msg, "invalid_api_key"):
		class = llm.ErrClassAuth
	case contains(msg, "404") || contains(msg, "model_not_found"):
		class = llm.ErrClassModelNotFound
	}
	return &llm.LLMError{Provider: "openai", Class: class, Err: fmt.Errorf("%w", err)}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
