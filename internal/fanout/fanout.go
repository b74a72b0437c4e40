// Package fanout implements the Event Fan-out (spec component C10): an
// in-memory, single-process subscription broadcaster. Grounded in the
// teacher's ui/transports/websocket/websocket.go wsClient pattern
// (per-client buffered send channel, evict-on-closed/failed-send), but
// keyed by plan/request/execution id per spec §4.10 rather than by
// session id, and decoupled from any transport — the adapter layer wires
// Subscriber channels to WebSocket sessions.
package fanout

import (
	"sync"
	"time"
)

// EventType is the closed set from spec §4.10.
type EventType string

const (
	EventPlanApproved    EventType = "plan_approved"
	EventDispatchStarted EventType = "dispatch_started"
	EventStepCompleted   EventType = "step_completed"
	EventExecutionDone   EventType = "execution_done"
	EventExecutionFailed EventType = "execution_failed"
	EventPaused          EventType = "paused"
	EventResumed         EventType = "resumed"
)

// Event is the envelope broadcast to subscribers.
type Event struct {
	Type    EventType              `json:"event_type"`
	Key     string                 `json:"key"`
	Payload map[string]interface{} `json:"payload"`
	Ts      time.Time              `json:"ts"`
}

// Subscriber is an opaque per-connection sink. SendBufferSize bounds how
// far a slow subscriber can lag before Broadcast considers it failed and
// evicts it.
type Subscriber struct {
	id     string
	events chan Event
	closed bool
}

const SendBufferSize = 64

func newSubscriber(id string) *Subscriber {
	return &Subscriber{id: id, events: make(chan Event, SendBufferSize)}
}

// Events returns the channel the adapter layer reads from to forward
// events to its transport (e.g. a WebSocket session).
func (s *Subscriber) Events() <-chan Event { return s.events }

// Broker is the C10 implementation.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscriber // key -> subscriber id -> Subscriber
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[string]*Subscriber)}
}

// Subscribe registers a subscriber under key (plan_id, request_id, or
// execution_id). Returns the Subscriber the caller reads events from.
func (b *Broker) Subscribe(subscriberID, key string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[string]*Subscriber)
	}
	sub := newSubscriber(subscriberID)
	b.subs[key][subscriberID] = sub
	return sub
}

func (b *Broker) Unsubscribe(subscriberID, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[key]; ok {
		if sub, ok := set[subscriberID]; ok {
			close(sub.events)
			sub.closed = true
		}
		delete(set, subscriberID)
		if len(set) == 0 {
			delete(b.subs, key)
		}
	}
}

// Broadcast sends an event to every subscriber of key, preserving
// per-subscriber order (spec §5). A subscriber whose buffer is full is
// evicted rather than blocking the broadcast for the rest.
func (b *Broker) Broadcast(key string, event Event) {
	if event.Ts.IsZero() {
		event.Ts = time.Now()
	}
	event.Key = key

	b.mu.RLock()
	set := b.subs[key]
	ids := make([]string, 0, len(set))
	subs := make([]*Subscriber, 0, len(set))
	for id, sub := range set {
		ids = append(ids, id)
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var failed []string
	for i, sub := range subs {
		select {
		case sub.events <- event:
		default:
			failed = append(failed, ids[i])
		}
	}
	for _, id := range failed {
		b.Unsubscribe(id, key)
	}
}

// SendDirect delivers an event to exactly one subscriber, evicting it on
// a full buffer just like Broadcast.
func (b *Broker) SendDirect(subscriberID, key string, event Event) {
	b.mu.RLock()
	sub, ok := b.subs[key][subscriberID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	if event.Ts.IsZero() {
		event.Ts = time.Now()
	}
	event.Key = key
	select {
	case sub.events <- event:
	default:
		b.Unsubscribe(subscriberID, key)
	}
}
