package fanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker()
	s1 := b.Subscribe("sub-1", "plan-1")
	s2 := b.Subscribe("sub-2", "plan-1")

	b.Broadcast("plan-1", Event{Type: EventPlanApproved})

	select {
	case ev := <-s1.Events():
		assert.Equal(t, EventPlanApproved, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("sub-1 did not receive event")
	}
	select {
	case ev := <-s2.Events():
		assert.Equal(t, EventPlanApproved, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("sub-2 did not receive event")
	}
}

func TestBroadcastPreservesPerSubscriberOrder(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe("sub-1", "plan-1")

	b.Broadcast("plan-1", Event{Type: EventDispatchStarted})
	b.Broadcast("plan-1", Event{Type: EventStepCompleted})
	b.Broadcast("plan-1", Event{Type: EventExecutionDone})

	require.Equal(t, EventDispatchStarted, (<-s.Events()).Type)
	require.Equal(t, EventStepCompleted, (<-s.Events()).Type)
	require.Equal(t, EventExecutionDone, (<-s.Events()).Type)
}

func TestBroadcastEvictsSubscriberOnFullBuffer(t *testing.T) {
	b := NewBroker()
	b.Subscribe("sub-1", "plan-1")

	for i := 0; i < SendBufferSize+5; i++ {
		b.Broadcast("plan-1", Event{Type: EventStepCompleted})
	}

	b.mu.RLock()
	_, stillSubscribed := b.subs["plan-1"]["sub-1"]
	b.mu.RUnlock()
	assert.False(t, stillSubscribed, "subscriber with a full buffer must be evicted")
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	b := NewBroker()
	b.Subscribe("sub-1", "plan-1")
	b.Unsubscribe("sub-1", "plan-1")

	b.mu.RLock()
	_, ok := b.subs["plan-1"]
	b.mu.RUnlock()
	assert.False(t, ok, "key with no remaining subscribers should be cleaned up")
}

func TestSendDirectDeliversOnlyToTargetSubscriber(t *testing.T) {
	b := NewBroker()
	s1 := b.Subscribe("sub-1", "plan-1")
	s2 := b.Subscribe("sub-2", "plan-1")

	b.SendDirect("sub-1", "plan-1", Event{Type: EventPaused})

	select {
	case ev := <-s1.Events():
		assert.Equal(t, EventPaused, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("sub-1 did not receive direct event")
	}
	select {
	case <-s2.Events():
		t.Fatal("sub-2 should not have received a direct event")
	case <-time.After(50 * time.Millisecond):
	}
}
