// Package llm implements the vendor-agnostic LLM Gateway (spec component
// C5): chat completion behind a configured fallback chain, per-provider
// monthly quota tracking, and a response cache. The chain behavior is
// directly adapted from the teacher's ai/chain_client.go ChainClient
// (ordered provider list, fail-fast on
// non-retryable errors, fall through on transient ones); provider
// clients are grounded in the teacher's ai/providers tree but wired to
// github.com/anthropics/anthropic-sdk-go, github.com/openai/openai-go,
// and github.com/aws/aws-sdk-go-v2/service/bedrockruntime directly
// rather than the teacher's custom HTTP clients.
package llm

import (
	"context"
	"time"
)

// Message is one turn of a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are completion parameters that participate in the cache key.
type Params struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float64 `json:"top_p"`
}

// Completion is a successful provider response.
type Completion struct {
	Text         string  `json:"text"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Cached       bool    `json:"cached"`
}

// ErrorClass distinguishes retryable (transient) errors from ones that
// should immediately abort the fallback chain (spec §4.5: "Timeouts...
// and transient errors cause fallback; auth and model-not-found errors
// do not").
type ErrorClass int

const (
	ErrClassTransient ErrorClass = iota
	ErrClassAuth
	ErrClassModelNotFound
)

// LLMError wraps a provider failure with its class.
type LLMError struct {
	Provider string
	Class    ErrorClass
	Err      error
}

func (e *LLMError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *LLMError) Unwrap() error { return e.Err }

// Retryable reports whether the chain should continue to the next provider.
func (e *LLMError) Retryable() bool { return e.Class == ErrClassTransient }

// Provider is a single vendor backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, messages []Message, params Params) (*Completion, error)
}

// QuotaTracker reports fractional monthly spend for a provider, used by
// the gateway to preemptively skip providers near their cap (spec §4.5
// default 80% threshold).
type QuotaTracker interface {
	FractionUsed(ctx context.Context, provider string) (float64, error)
	RecordSpend(ctx context.Context, provider string, costUSD float64) error
}

// DefaultTimeout is the per-provider-attempt timeout (spec §4.5 default 30s).
const DefaultTimeout = 30 * time.Second

// DefaultQuotaThreshold is the fraction of monthly spend cap at which a
// provider is preemptively skipped (spec §4.5 default 80%).
const DefaultQuotaThreshold = 0.8

// DefaultCacheTTL is the response cache TTL (spec §4.5 default 1h).
const DefaultCacheTTL = time.Hour
