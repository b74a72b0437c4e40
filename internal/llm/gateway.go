package llm

import (
	"context"
	"fmt"

	"github.com/homelabops/orchestrator/internal/telemetry"
)

// Gateway is the ordered-fallback-chain implementation of C5's complete
// operation. Provider order is primary, fallback_1, fallback_2, ... per
// spec §4.5, adapted from the teacher's ChainClient.GenerateResponse loop.
type Gateway struct {
	providers []Provider
	quota     QuotaTracker
	cache     *Cache
	threshold float64
	logger    telemetry.ComponentLogger
	metrics   *telemetry.Metrics
}

type GatewayOption func(*Gateway)

func WithQuotaTracker(q QuotaTracker) GatewayOption { return func(g *Gateway) { g.quota = q } }
func WithCache(c *Cache) GatewayOption              { return func(g *Gateway) { g.cache = c } }
func WithQuotaThreshold(t float64) GatewayOption    { return func(g *Gateway) { g.threshold = t } }
func WithMetrics(m *telemetry.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway builds a chain over providers in priority order. At least one
// provider is required (mirrors the teacher's fail-fast "at least one
// provider required for chain" configuration check).
func NewGateway(providers []Provider, logger telemetry.ComponentLogger, opts ...GatewayOption) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("llm gateway: at least one provider required")
	}
	if logger == nil {
		logger = telemetry.NewNop()
	}
	g := &Gateway{
		providers: providers,
		threshold: DefaultQuotaThreshold,
		logger:    logger.WithComponent("llm_gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Complete tries each provider in order, skipping any whose quota fraction
// reaches or exceeds the configured threshold, until one succeeds or all are
// exhausted. Non-retryable errors (auth, model-not-found) abort the chain
// immediately rather than falling through.
func (g *Gateway) Complete(ctx context.Context, model string, messages []Message, params Params) (*Completion, error) {
	if g.cache != nil {
		key, err := Key(model, messages, params)
		if err == nil {
			if cached, ok, getErr := g.cache.Get(ctx, key); getErr == nil && ok {
				return cached, nil
			}
		}
	}

	var lastErr error
	for _, provider := range g.providers {
		name := provider.Name()

		if g.quota != nil {
			used, err := g.quota.FractionUsed(ctx, name)
			if err == nil && used >= g.threshold {
				g.logger.Warn("skipping provider over quota threshold", map[string]interface{}{
					"provider": name, "fraction_used": used,
				})
				if g.metrics != nil {
					g.metrics.LLMProviderCalls.WithLabelValues(name, "quota_skip").Inc()
				}
				continue
			}
		}

		comp, err := provider.Complete(ctx, model, messages, params)
		if err == nil {
			comp.Provider = name
			if g.metrics != nil {
				g.metrics.LLMProviderCalls.WithLabelValues(name, "success").Inc()
			}
			if g.quota != nil {
				_ = g.quota.RecordSpend(ctx, name, comp.CostUSD)
			}
			if g.cache != nil {
				if key, kerr := Key(model, messages, params); kerr == nil {
					_ = g.cache.Set(ctx, key, comp)
				}
			}
			return comp, nil
		}

		lastErr = err
		if g.metrics != nil {
			g.metrics.LLMProviderCalls.WithLabelValues(name, "error").Inc()
		}

		var llmErr *LLMError
		if asLLMError(err, &llmErr) && !llmErr.Retryable() {
			g.logger.Warn("provider failure is non-retryable, aborting chain", map[string]interface{}{
				"provider": name, "error": err.Error(),
			})
			return nil, err
		}
		g.logger.Info("provider failed, trying next in chain", map[string]interface{}{
			"provider": name, "error": err.Error(),
		})
	}
	return nil, fmt.Errorf("llm gateway: all providers exhausted: %w", lastErr)
}

func asLLMError(err error, target **LLMError) bool {
	le, ok := err.(*LLMError)
	if !ok {
		return false
	}
	*target = le
	return true
}
