package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelabops/orchestrator/internal/telemetry"
)

type fakeProvider struct {
	name    string
	calls   int
	respond func(calls int) (*Completion, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, model string, messages []Message, params Params) (*Completion, error) {
	f.calls++
	return f.respond(f.calls)
}

func TestGatewayFallsThroughOnTransientError(t *testing.T) {
	primary := &fakeProvider{name: "primary", respond: func(int) (*Completion, error) {
		return nil, &LLMError{Provider: "primary", Class: ErrClassTransient, Err: errors.New("timeout")}
	}}
	fallback := &fakeProvider{name: "fallback", respond: func(int) (*Completion, error) {
		return &Completion{Text: "ok"}, nil
	}}

	g, err := NewGateway([]Provider{primary, fallback}, telemetry.NewNop())
	require.NoError(t, err)

	comp, err := g.Complete(context.Background(), "model-x", []Message{{Role: "user", Content: "hi"}}, Params{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", comp.Provider)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestGatewayAbortsOnAuthError(t *testing.T) {
	primary := &fakeProvider{name: "primary", respond: func(int) (*Completion, error) {
		return nil, &LLMError{Provider: "primary", Class: ErrClassAuth, Err: errors.New("unauthorized")}
	}}
	fallback := &fakeProvider{name: "fallback", respond: func(int) (*Completion, error) {
		return &Completion{Text: "should not be reached"}, nil
	}}

	g, err := NewGateway([]Provider{primary, fallback}, telemetry.NewNop())
	require.NoError(t, err)

	_, err = g.Complete(context.Background(), "model-x", []Message{{Role: "user", Content: "hi"}}, Params{})
	require.Error(t, err)
	assert.Equal(t, 0, fallback.calls, "auth errors must abort the chain, not fall through")
}

func TestGatewaySkipsProviderOverQuotaThreshold(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	overQuota := &fakeProvider{name: "over-quota", respond: func(int) (*Completion, error) {
		t.Fatal("over-quota provider should have been skipped")
		return nil, nil
	}}
	under := &fakeProvider{name: "under-quota", respond: func(int) (*Completion, error) {
		return &Completion{Text: "ok"}, nil
	}}

	quota := NewRedisQuotaTracker(rdb, map[string]float64{"over-quota": 100})
	require.NoError(t, quota.RecordSpend(context.Background(), "over-quota", 95))

	g, err := NewGateway([]Provider{overQuota, under}, telemetry.NewNop(), WithQuotaTracker(quota))
	require.NoError(t, err)

	comp, err := g.Complete(context.Background(), "model-x", []Message{{Role: "user", Content: "hi"}}, Params{})
	require.NoError(t, err)
	assert.Equal(t, "under-quota", comp.Provider)
}

func TestGatewayUsesCacheOnSecondCall(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(rdb, DefaultCacheTTL)

	primary := &fakeProvider{name: "primary", respond: func(int) (*Completion, error) {
		return &Completion{Text: "ok"}, nil
	}}

	g, err := NewGateway([]Provider{primary}, telemetry.NewNop(), WithCache(cache))
	require.NoError(t, err)

	msgs := []Message{{Role: "user", Content: "hi"}}
	_, err = g.Complete(context.Background(), "model-x", msgs, Params{})
	require.NoError(t, err)
	_, err = g.Complete(context.Background(), "model-x", msgs, Params{})
	require.NoError(t, err)

	assert.Equal(t, 1, primary.calls, "second identical request should be served from cache")
}

func TestNewGatewayRequiresAtLeastOneProvider(t *testing.T) {
	_, err := NewGateway(nil, telemetry.NewNop())
	assert.Error(t, err)
}
