// Package bedrock adapts github.com/aws/aws-sdk-go-v2/service/bedrockruntime
// behind the llm.Provider interface, completing the teacher's
// ai/providers set (openai, anthropic, bedrock) with the real AWS SDK in
// place of a bespoke HTTP signer.
package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/homelabops/orchestrator/internal/llm"
)

type Provider struct {
	client  *bedrockruntime.Client
	timeout time.Duration
}

func New(client *bedrockruntime.Client, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = llm.DefaultTimeout
	}
	return &Provider{client: client, timeout: timeout}
}

// converseRequest matches the Anthropic-on-Bedrock Messages API body shape.
type converseRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type converseResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) Name() string { return "bedrock" }

func (p *Provider) Complete(ctx context.Context, model string, messages []llm.Message, params llm.Params) (*llm.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := converseRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      params.Temperature,
	}
	for _, m := range messages {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		body.Messages = append(body.Messages, bedrockMessage{Role: role, Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, classify(err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, classify(err)
	}

	var resp converseResponse
	if err := json.NewDecoder(bytes.NewReader(out.Body)).Decode(&resp); err != nil {
		return nil, classify(fmt.Errorf("decode bedrock response: %w", err))
	}

	var text string
	for _, block := range resp.Content {
		text += block.Text
	}

	return &llm.Completion{
		Text:         text,
		Model:        model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func classify(err error) error {
	msg := err.Error()
	class := llm.ErrClassTransient
	switch {
	case contains(msg, "AccessDenied") || contains(msg, "UnrecognizedClient"):
		class = llm.ErrClassAuth
	case contains(msg, "ResourceNotFound") || contains(msg, "ValidationException"):
		class = llm.ErrClassModelNotFound
	}
	return &llm.LLMError{Provider: "bedrock", Class: class, Err: err}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
