package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnNthConsecutiveFailure(t *testing.T) {
	b := New(Config{Name: "agent-1", ConsecutiveFailureThreshold: 5, CooldownWindow: time.Minute})
	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 4; i++ {
		_ = b.Execute(context.Background(), failing)
		assert.Equal(t, StateClosed, b.State(), "breaker should stay closed before Nth failure, attempt %d", i+1)
	}

	err := b.Execute(context.Background(), failing)
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State(), "breaker must open on the 5th consecutive failure")
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := New(Config{Name: "agent-1", ConsecutiveFailureThreshold: 1, CooldownWindow: time.Hour})
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerHalfOpenProbeRecovers(t *testing.T) {
	b := New(Config{Name: "agent-1", ConsecutiveFailureThreshold: 1, CooldownWindow: 10 * time.Millisecond})
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbeReopensOnFailure(t *testing.T) {
	b := New(Config{Name: "agent-1", ConsecutiveFailureThreshold: 1, CooldownWindow: 10 * time.Millisecond})
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	err := b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still broken") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerRecoversPanicAsError(t *testing.T) {
	b := New(Config{Name: "agent-1", ConsecutiveFailureThreshold: 5, CooldownWindow: time.Minute})
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestRetryPolicyBackoffSchedule(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 1*time.Second, p.DelayFor(1))
	assert.Equal(t, 2*time.Second, p.DelayFor(2))
	assert.Equal(t, 4*time.Second, p.DelayFor(3))
	assert.Equal(t, 4*time.Second, p.DelayFor(4), "beyond the schedule reuses the last delay")
}

func TestRetryPolicyExhausted(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
}
