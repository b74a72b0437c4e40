// Package resilience adapts the teacher framework's hand-rolled circuit
// breaker and retry helpers (resilience/circuit_breaker.go,
// resilience/retry.go) to the orchestrator's per-agent breaker semantics
// from spec §4.8 and invariant I7: N *consecutive* failures open the
// breaker, not an error-rate sliding window. The execution scaffolding
// (atomic state, panic recovery, context-aware timeout, state-change
// listeners) is kept; the trip condition is simplified accordingly.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// State is the three-state circuit breaker machine from spec §3 (AgentEntry).
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute when the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures a single agent's breaker.
type Config struct {
	// Name identifies the breaker, typically the agent id.
	Name string
	// ConsecutiveFailureThreshold opens the breaker on the Nth consecutive
	// failure (default 5, per spec I7).
	ConsecutiveFailureThreshold int
	// CooldownWindow is how long the breaker stays open before allowing a
	// half-open probe (default 60s, per spec I7).
	CooldownWindow time.Duration
	// OnStateChange is called after every transition, for metrics/logging.
	OnStateChange func(name string, from, to State)
}

func (c *Config) applyDefaults() {
	if c.ConsecutiveFailureThreshold <= 0 {
		c.ConsecutiveFailureThreshold = 5
	}
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = 60 * time.Second
	}
}

// Breaker is a per-agent circuit breaker keyed on consecutive failures.
type Breaker struct {
	config Config

	mu              sync.Mutex
	state           State
	stateChangedAt  time.Time
	consecutiveFail int
	halfOpenInFlight bool

	failureCount atomic.Int64
	successCount atomic.Int64
}

// New creates a breaker for one agent.
func New(config Config) *Breaker {
	config.applyDefaults()
	return &Breaker{
		config:         config,
		state:          StateClosed,
		stateChangedAt: time.Now(),
	}
}

// State returns the current state, resolving an expired cooldown into a
// half-open probe opportunity without mutating shared state destructively.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && time.Since(b.stateChangedAt) >= b.config.CooldownWindow {
		return StateHalfOpen
	}
	return b.state
}

// CanExecute reports whether a call would currently be allowed through.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case StateClosed:
		return true
	case StateHalfOpen:
		return !b.halfOpenInFlight
	default:
		return false
	}
}

// Execute runs fn with breaker protection, recovering panics as errors so a
// misbehaving agent call can never take down the scheduler goroutine.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	current := b.stateLocked()
	if current == StateOpen {
		b.mu.Unlock()
		return ErrOpen
	}
	isProbe := current == StateHalfOpen
	if isProbe {
		if b.halfOpenInFlight {
			b.mu.Unlock()
			return ErrOpen
		}
		b.halfOpenInFlight = true
		b.transitionLocked(StateHalfOpen)
	}
	b.mu.Unlock()

	err := b.runProtected(ctx, fn)

	if isProbe {
		b.mu.Lock()
		b.halfOpenInFlight = false
		b.mu.Unlock()
	}

	b.recordResult(err)
	return err
}

func (b *Breaker) runProtected(ctx context.Context, fn func(context.Context) error) (err error) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in breaker-protected call: %v\n%s", r, debug.Stack())
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Breaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.successCount.Add(1)
		b.consecutiveFail = 0
		if b.state != StateClosed {
			b.transitionLocked(StateClosed)
		}
		return
	}

	b.failureCount.Add(1)
	b.consecutiveFail++

	if b.stateLocked() == StateHalfOpen {
		// A half-open probe failed: re-open immediately for a fresh cooldown.
		// Outcomes fed through RecordResult find the stored state still open
		// once the cooldown has elapsed, so move through half-open first.
		b.transitionLocked(StateHalfOpen)
		b.transitionLocked(StateOpen)
		return
	}

	if b.consecutiveFail >= b.config.ConsecutiveFailureThreshold {
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.stateChangedAt = time.Now()
	if to == StateClosed {
		b.consecutiveFail = 0
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}

// RecordResult feeds a call outcome that happened outside Execute's own
// protected invocation (e.g. a task whose terminal result arrived over
// the bus rather than through a function call the breaker wrapped
// directly) into the same consecutive-failure/half-open bookkeeping
// Execute uses. Pass nil for a success.
func (b *Breaker) RecordResult(err error) {
	b.recordResult(err)
}

// Reset forces the breaker back to closed, clearing counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.consecutiveFail = 0
}

// Metrics returns a snapshot for observability endpoints.
func (b *Breaker) Metrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"name":               b.config.Name,
		"state":              b.stateLocked().String(),
		"consecutive_failures": b.consecutiveFail,
		"total_successes":    b.successCount.Load(),
		"total_failures":     b.failureCount.Load(),
		"state_changed_at":   b.stateChangedAt,
	}
}
