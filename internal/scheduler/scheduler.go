// Package scheduler implements the Scheduler / Pause Manager (spec
// component C8): admission control against observed agent capacity,
// dispatch in plan order, and a periodic resume loop over parked tasks.
// Grounded in the teacher's orchestration/task_worker.go worker-pool
// lifecycle (start-at-boot / stop-on-shutdown ticker pattern) and
// redis_task_queue.go's retry/backoff config shape.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/homelabops/orchestrator/internal/bus"
	"github.com/homelabops/orchestrator/internal/fanout"
	"github.com/homelabops/orchestrator/internal/registry"
	"github.com/homelabops/orchestrator/internal/resilience"
	"github.com/homelabops/orchestrator/internal/store"
	"github.com/homelabops/orchestrator/internal/telemetry"
)

// DefaultCapacityThreshold is the free-capacity fraction below which
// should_pause returns true (spec §4.8 default 20%).
const DefaultCapacityThreshold = 0.2

// DefaultResumeInterval is the resume_loop tick period (spec §4.8 default 10s).
const DefaultResumeInterval = 10 * time.Second

// AgentCapacity is the observed-capacity view the admission check needs.
type AgentCapacity struct {
	DeclaredCapacity int
	ActiveTaskCount  int
}

// FreeFraction reports the fraction of declared capacity presently free.
func (c AgentCapacity) FreeFraction() float64 {
	if c.DeclaredCapacity <= 0 {
		return 0
	}
	free := c.DeclaredCapacity - c.ActiveTaskCount
	if free < 0 {
		free = 0
	}
	return float64(free) / float64(c.DeclaredCapacity)
}

// Dispatcher is the narrow surface the Scheduler hands off a task to once
// admitted, implemented by the Execution Supervisor (C9). Kept as an
// interface to avoid an import cycle between scheduler and supervisor.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *store.Task, agentID string) error
}

// Scheduler is the C8 implementation.
type Scheduler struct {
	store      *store.Store
	registry   *registry.Registry
	bus        *bus.Bus
	dispatcher Dispatcher
	fanout     *fanout.Broker
	logger     telemetry.ComponentLogger
	metrics    *telemetry.Metrics

	capacityThreshold float64
	resumeInterval    time.Duration
	retryPolicy       resilience.RetryPolicy

	stop chan struct{}
	done chan struct{}
}

func New(st *store.Store, reg *registry.Registry, b *bus.Bus, dispatcher Dispatcher, fo *fanout.Broker, logger telemetry.ComponentLogger, metrics *telemetry.Metrics) *Scheduler {
	if logger == nil {
		logger = telemetry.NewNop()
	}
	return &Scheduler{
		store:             st,
		registry:          reg,
		bus:               b,
		dispatcher:        dispatcher,
		fanout:            fo,
		logger:            logger.WithComponent("scheduler"),
		metrics:           metrics,
		capacityThreshold: DefaultCapacityThreshold,
		resumeInterval:    DefaultResumeInterval,
		retryPolicy:       resilience.DefaultRetryPolicy(),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// ShouldPause implements spec §4.8's should_pause(task, agent) admission
// check: true when the agent's free capacity fraction is below threshold.
func (s *Scheduler) ShouldPause(cap AgentCapacity) bool {
	return cap.FreeFraction() < s.capacityThreshold
}

// Dispatch walks a plan's tasks in ordinal order (v1 is strictly linear
// per SPEC_FULL's Open Question resolution), selecting an agent for each
// via the registry and either parking it (should_pause) or handing it to
// the Execution Supervisor.
func (s *Scheduler) Dispatch(ctx context.Context, plan *store.Plan) error {
	tasks, err := s.store.ListTasksByPlan(ctx, plan.ID)
	if err != nil {
		return fmt.Errorf("scheduler dispatch: list tasks: %w", err)
	}

	for _, task := range tasks {
		if err := s.dispatchOne(ctx, task); err != nil {
			return err
		}
		if !task.Status.IsTerminal() && task.Status != store.TaskSuccess {
			// v1 linear policy: stop admitting further ordinals once one is
			// not yet terminal (paused counts as "not yet ready to advance").
			break
		}
	}
	return nil
}

func (s *Scheduler) dispatchOne(ctx context.Context, task *store.Task) error {
	agentID, err := s.registry.Select(ctx, task.WorkType, nil)
	if err != nil {
		return fmt.Errorf("scheduler: select agent for task %s: %w", task.ID, err)
	}
	if agentID == "" {
		return s.park(ctx, task, "no_agent_available", nil)
	}

	cap, err := s.observedCapacity(ctx, agentID)
	if err != nil {
		return fmt.Errorf("scheduler: observe capacity for agent %s: %w", agentID, err)
	}

	if s.ShouldPause(cap) {
		payload := dispatchPayload{TaskID: task.ID, AgentID: agentID, WorkType: task.WorkType, Parameters: task.Parameters}
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		return s.park(ctx, task, "agent_at_capacity", raw)
	}

	if err := s.store.TransitionTask(ctx, task.ID, task.Status, store.TaskApproved); err != nil {
		return err
	}
	task.Status = store.TaskApproved
	if err := s.dispatcher.Dispatch(ctx, task, agentID); err != nil {
		return fmt.Errorf("scheduler: dispatch task %s: %w", task.ID, err)
	}
	if s.metrics != nil {
		s.metrics.TasksDispatched.WithLabelValues(task.WorkType).Inc()
	}
	return nil
}

type dispatchPayload struct {
	TaskID     string                 `json:"task_id"`
	AgentID    string                 `json:"agent_id"`
	WorkType   string                 `json:"work_type"`
	Parameters map[string]interface{} `json:"parameters"`
}

func (s *Scheduler) park(ctx context.Context, task *store.Task, reason string, dispatchJSON []byte) error {
	if err := s.store.TransitionTask(ctx, task.ID, task.Status, store.TaskPaused); err != nil {
		return err
	}
	now := time.Now()
	entry := &store.PauseEntry{
		TaskID:          task.ID,
		Reason:          reason,
		DispatchPayload: dispatchJSON,
		PausedAt:        now,
		NotBefore:       now,
	}
	if entry.DispatchPayload == nil {
		entry.DispatchPayload = []byte("{}")
	}
	if err := s.store.CreatePauseEntry(ctx, entry); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.PauseQueueDepth.Inc()
	}
	if s.fanout != nil {
		s.fanout.Broadcast(task.PlanID, fanout.Event{
			Type:    fanout.EventPaused,
			Payload: map[string]interface{}{"task_id": task.ID, "reason": reason},
		})
	}
	s.logger.Info("task paused", map[string]interface{}{"task_id": task.ID, "reason": reason})
	return nil
}

// observedCapacity reads the agent's last-reported load from the registry
// (populated by its Heartbeat calls) so ShouldPause is evaluated against
// real occupancy rather than a constant.
func (s *Scheduler) observedCapacity(ctx context.Context, agentID string) (AgentCapacity, error) {
	entry, err := s.registry.Get(ctx, agentID)
	if err != nil {
		return AgentCapacity{}, err
	}
	return AgentCapacity{DeclaredCapacity: entry.DeclaredCapacity, ActiveTaskCount: entry.ActiveTaskCount}, nil
}

// Start launches the resume loop as a background goroutine; it must be
// stopped via Stop before process shutdown (spec §4.8: "owned by C8 for
// the service's lifetime").
func (s *Scheduler) Start(ctx context.Context) {
	go s.resumeLoop(ctx)
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) resumeLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.resumeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.resumeTick(ctx)
		}
	}
}

// resumeTick scans the pause queue oldest-first and resumes any entry
// whose target agent now has room (back to `approved`, then handed to the
// dispatcher), per spec §4.8 and §5's ordering
// guarantee "pause-queue resumption is oldest-first within a capacity tick".
func (s *Scheduler) resumeTick(ctx context.Context) {
	entries, err := s.store.ListPauseEntriesOldestFirst(ctx)
	if err != nil {
		s.logger.Warn("resume tick: list pause entries failed", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, entry := range entries {
		if entry.NotBefore.After(time.Now()) {
			continue
		}
		task, err := s.store.GetTask(ctx, entry.TaskID)
		if err != nil {
			continue
		}
		if task.Status != store.TaskPaused {
			_ = s.store.DeletePauseEntry(ctx, entry.TaskID)
			continue
		}

		agentID, err := s.registry.Select(ctx, task.WorkType, nil)
		if err != nil || agentID == "" {
			continue
		}
		cap, err := s.observedCapacity(ctx, agentID)
		if err != nil || s.ShouldPause(cap) {
			continue
		}

		if err := s.store.TransitionTask(ctx, task.ID, store.TaskPaused, store.TaskApproved); err != nil {
			continue
		}
		_ = s.store.DeletePauseEntry(ctx, task.ID)
		if s.metrics != nil {
			s.metrics.PauseQueueDepth.Dec()
		}
		if s.fanout != nil {
			s.fanout.Broadcast(task.PlanID, fanout.Event{
				Type:    fanout.EventResumed,
				Payload: map[string]interface{}{"task_id": task.ID, "agent_id": agentID},
			})
		}
		s.logger.Info("task resumed", map[string]interface{}{"task_id": task.ID, "agent_id": agentID})
		task.Status = store.TaskApproved
		if err := s.dispatcher.Dispatch(ctx, task, agentID); err != nil {
			s.logger.Warn("resume tick: dispatch failed", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
			continue
		}
		if s.metrics != nil {
			s.metrics.TasksDispatched.WithLabelValues(task.WorkType).Inc()
		}
	}
}
