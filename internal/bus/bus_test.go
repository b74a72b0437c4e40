package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelabops/orchestrator/internal/codec"
	"github.com/homelabops/orchestrator/internal/telemetry"
)

func sampleEnvelope() *codec.Envelope {
	return &codec.Envelope{
		ProtocolVersion: codec.ProtocolVersion,
		MessageID:       uuid.NewString(),
		FromAgent:       "orchestrator",
		ToAgent:         "worker-1",
		Timestamp:       time.Now().UTC(),
		RequestID:       uuid.NewString(),
		Type:            codec.TypeWorkRequest,
		Payload:         map[string]interface{}{"work_type": "run_playbook"},
	}
}

func TestPublishSubscribeDeliversAndAcks(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := New(rdb, telemetry.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	env := sampleEnvelope()
	require.NoError(t, b.Publish(ctx, "agent.worker", env))

	received := make(chan *codec.Envelope, 1)
	go func() {
		_ = b.Subscribe(ctx, "agent.worker", "consumer-1", func(ctx context.Context, d Delivery) error {
			received <- d.Envelope
			cancel()
			return nil
		})
	}()

	select {
	case got := <-received:
		assert.Equal(t, env.MessageID, got.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestHandlerErrorLeavesMessageUnacked(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := New(rdb, telemetry.NewNop(), nil)

	ctx := context.Background()
	env := sampleEnvelope()
	require.NoError(t, b.Publish(ctx, "agent.worker", env))
	require.NoError(t, b.ensureGroup(ctx, "agent.worker"))

	subCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	attempts := 0
	_ = b.Subscribe(subCtx, "agent.worker", "consumer-1", func(ctx context.Context, d Delivery) error {
		attempts++
		return assert.AnError
	})
	assert.GreaterOrEqual(t, attempts, 1)

	claimed, err := b.ReclaimStale(ctx, "agent.worker", "consumer-2", 0)
	require.NoError(t, err)
	assert.Len(t, claimed, 1, "nacked message must remain pending for reclaim")
}
