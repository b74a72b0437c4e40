package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelabops/orchestrator/internal/resilience"
	"github.com/homelabops/orchestrator/internal/telemetry"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := resilience.Config{ConsecutiveFailureThreshold: 2, CooldownWindow: time.Minute}
	return New(rdb, "test", cfg, telemetry.NewNop(), nil), mr
}

func TestSelectReturnsLowestActiveTaskCount(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "agent-busy", "worker", []string{"run_playbook"}, "tok1", 10))
	require.NoError(t, r.Heartbeat(ctx, "agent-busy", 10, 5))
	require.NoError(t, r.Register(ctx, "agent-idle", "worker", []string{"run_playbook"}, "tok2", 10))
	require.NoError(t, r.Heartbeat(ctx, "agent-idle", 10, 0))

	id, err := r.Select(ctx, "run_playbook", []string{"run_playbook"})
	require.NoError(t, err)
	assert.Equal(t, "agent-idle", id)
}

func TestSelectExcludesOpenBreaker(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "agent-1", "worker", []string{"run_playbook"}, "tok1", 10))
	b := r.Breaker("agent-1")
	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return assert.AnError })
	}
	require.Equal(t, resilience.StateOpen, b.State())

	id, err := r.Select(ctx, "run_playbook", []string{"run_playbook"})
	require.NoError(t, err)
	assert.Empty(t, id, "agent with open breaker must be excluded")
}

func TestSelectReturnsEmptyWhenNoCandidateQualifies(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "agent-1", "worker", []string{"other_capability"}, "tok1", 10))

	id, err := r.Select(ctx, "run_playbook", []string{"run_playbook"})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestForgetRemovesAgentFromCapabilityIndex(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "agent-1", "worker", []string{"run_playbook"}, "tok1", 10))
	require.NoError(t, r.Forget(ctx, "agent-1"))

	id, err := r.Select(ctx, "run_playbook", []string{"run_playbook"})
	require.NoError(t, err)
	assert.Empty(t, id)
}
