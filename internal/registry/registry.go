// Package registry implements the Agent Registry (spec component C7):
// identity, capability set, current load, and liveness tracking for
// connected agents. Grounded in the teacher's core/redis_discovery.go and
// core/redis_registry.go (namespaced Redis keys with TTL-backed liveness,
// capability-indexed sets), adapted to the spec's AgentEntry shape and
// selection policy (spec §4.7).
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/homelabops/orchestrator/internal/resilience"
	"github.com/homelabops/orchestrator/internal/telemetry"
)

// BreakerState mirrors resilience.State for AgentEntry's exported view
// without exposing the resilience package's internal Breaker type.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// AgentEntry is the runtime view of a known worker (spec §3).
type AgentEntry struct {
	AgentID         string       `json:"agent_id"`
	AgentType       string       `json:"agent_type"`
	Capabilities    []string     `json:"capabilities"`
	TokenHash       string       `json:"token_hash"`
	LastHeartbeat   time.Time    `json:"last_heartbeat"`
	DeclaredCapacity int         `json:"declared_capacity"`
	ObservedCapacity int         `json:"observed_capacity"`
	ActiveTaskCount int          `json:"active_task_count"`
	BreakerState    BreakerState `json:"breaker_state"`
	CooldownExpiry  time.Time    `json:"cooldown_expiry"`
}

// HeartbeatTTL is the default liveness window (spec §4.7 default 30s).
const HeartbeatTTL = 30 * time.Second

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Registry is the Redis-backed implementation of C7.
type Registry struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
	breakers  map[string]*resilience.Breaker
	breakerCfg resilience.Config
	logger    telemetry.ComponentLogger
	metrics   *telemetry.Metrics
}

func New(rdb *redis.Client, namespace string, breakerCfg resilience.Config, logger telemetry.ComponentLogger, metrics *telemetry.Metrics) *Registry {
	if namespace == "" {
		namespace = "orchestrator"
	}
	if logger == nil {
		logger = telemetry.NewNop()
	}
	return &Registry{
		rdb:        rdb,
		namespace:  namespace,
		ttl:        HeartbeatTTL,
		breakers:   make(map[string]*resilience.Breaker),
		breakerCfg: breakerCfg,
		logger:     logger.WithComponent("registry"),
		metrics:    metrics,
	}
}

func (r *Registry) agentKey(id string) string       { return fmt.Sprintf("%s:agents:%s", r.namespace, id) }
func (r *Registry) capabilityKey(cap string) string { return fmt.Sprintf("%s:capabilities:%s", r.namespace, cap) }

// Register adds or replaces an agent's identity and capability set.
func (r *Registry) Register(ctx context.Context, id, agentType string, capabilities []string, token string, declaredCapacity int) error {
	entry := &AgentEntry{
		AgentID:          id,
		AgentType:        agentType,
		Capabilities:     capabilities,
		TokenHash:        hashToken(token),
		LastHeartbeat:    time.Now(),
		DeclaredCapacity: declaredCapacity,
		BreakerState:     BreakerClosed,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.agentKey(id), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	for _, cap := range capabilities {
		capKey := r.capabilityKey(cap)
		if err := r.rdb.SAdd(ctx, capKey, id).Err(); err != nil {
			r.logger.Warn("capability index add failed", map[string]interface{}{"agent_id": id, "capability": cap, "error": err.Error()})
			continue
		}
		r.rdb.Expire(ctx, capKey, r.ttl*2)
	}
	r.breakerFor(id)
	return nil
}

// Heartbeat refreshes liveness and load metrics for an agent.
func (r *Registry) Heartbeat(ctx context.Context, id string, observedCapacity, activeTaskCount int) error {
	entry, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	entry.LastHeartbeat = time.Now()
	entry.ObservedCapacity = observedCapacity
	entry.ActiveTaskCount = activeTaskCount
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.agentKey(id), data, r.ttl).Err()
}

// Forget removes an agent from the registry entirely.
func (r *Registry) Forget(ctx context.Context, id string) error {
	entry, err := r.get(ctx, id)
	if err == nil {
		for _, cap := range entry.Capabilities {
			r.rdb.SRem(ctx, r.capabilityKey(cap), id)
		}
	}
	delete(r.breakers, id)
	return r.rdb.Del(ctx, r.agentKey(id)).Err()
}

func (r *Registry) get(ctx context.Context, id string) (*AgentEntry, error) {
	raw, err := r.rdb.Get(ctx, r.agentKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("agent %s: unavailable (heartbeat TTL expired or never registered)", id)
	}
	if err != nil {
		return nil, err
	}
	var entry AgentEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	entry.BreakerState = r.stateOf(id)
	return &entry, nil
}

func (r *Registry) breakerFor(id string) *resilience.Breaker {
	if b, ok := r.breakers[id]; ok {
		return b
	}
	cfg := r.breakerCfg
	cfg.Name = id
	b := resilience.New(cfg)
	r.breakers[id] = b
	return b
}

func (r *Registry) stateOf(id string) BreakerState {
	b, ok := r.breakers[id]
	if !ok {
		return BreakerClosed
	}
	switch b.State() {
	case resilience.StateOpen:
		return BreakerOpen
	case resilience.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// Breaker returns the circuit breaker tracking this agent's call outcomes,
// so the Scheduler/Supervisor can call Execute directly against it.
func (r *Registry) Breaker(id string) *resilience.Breaker {
	return r.breakerFor(id)
}

// Get returns the current registry view of one agent, including the
// load figures last reported via Heartbeat, so callers outside this
// package (the Scheduler's admission check) can read real observed
// capacity instead of guessing.
func (r *Registry) Get(ctx context.Context, id string) (*AgentEntry, error) {
	return r.get(ctx, id)
}

// Select implements spec §4.7's selection policy: filter to agents whose
// capability set is a superset of required, exclude open breakers, then
// prefer lowest active_task_count and most-recent heartbeat among
// survivors. Returns "" if no agent qualifies.
func (r *Registry) Select(ctx context.Context, workType string, requiredCapabilities []string) (string, error) {
	candidates, err := r.rdb.SMembers(ctx, r.capabilityKey(workType)).Result()
	if err != nil {
		return "", fmt.Errorf("select: lookup capability index: %w", err)
	}

	var survivors []*AgentEntry
	for _, id := range candidates {
		entry, err := r.get(ctx, id)
		if err != nil {
			continue // unavailable (TTL expired)
		}
		if !hasAll(entry.Capabilities, requiredCapabilities) {
			continue
		}
		if entry.BreakerState == BreakerOpen {
			continue
		}
		survivors = append(survivors, entry)
	}
	if len(survivors) == 0 {
		return "", nil
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].ActiveTaskCount != survivors[j].ActiveTaskCount {
			return survivors[i].ActiveTaskCount < survivors[j].ActiveTaskCount
		}
		return survivors[i].LastHeartbeat.After(survivors[j].LastHeartbeat)
	})
	return survivors[0].AgentID, nil
}

func hasAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}
