// Package supervisor implements the Execution Supervisor (spec component
// C9): drives each task through its state machine, reconciles
// work_status/work_result messages, handles timeouts and retries via the
// resilience package, and finalizes tasks into the dual audit layer
// (State Store + commit log). Grounded in the teacher's
// orchestration/executor.go step-execution loop (per-step timing,
// panic-recovery, status callbacks) adapted to the spec's task-centric
// (rather than DAG-step-centric) state machine.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homelabops/orchestrator/internal/audit"
	"github.com/homelabops/orchestrator/internal/bus"
	"github.com/homelabops/orchestrator/internal/codec"
	"github.com/homelabops/orchestrator/internal/fanout"
	"github.com/homelabops/orchestrator/internal/registry"
	"github.com/homelabops/orchestrator/internal/resilience"
	"github.com/homelabops/orchestrator/internal/store"
	"github.com/homelabops/orchestrator/internal/telemetry"
)

// DefaultTaskDeadline is used when a task declares no max_duration_seconds
// hint (spec §4.9: "default 30s").
const DefaultTaskDeadline = 30 * time.Second

// Supervisor is the C9 implementation. It satisfies scheduler.Dispatcher.
type Supervisor struct {
	store    *store.Store
	bus      *bus.Bus
	registry *registry.Registry
	audit    *audit.Writer
	fanout   *fanout.Broker
	logger   telemetry.ComponentLogger
	metrics  *telemetry.Metrics
	retry    resilience.RetryPolicy

	mu       sync.Mutex
	timers   map[string]*time.Timer
}

func New(st *store.Store, b *bus.Bus, reg *registry.Registry, aw *audit.Writer, fo *fanout.Broker, logger telemetry.ComponentLogger, metrics *telemetry.Metrics) *Supervisor {
	if logger == nil {
		logger = telemetry.NewNop()
	}
	return &Supervisor{
		store:    st,
		bus:      b,
		registry: reg,
		audit:    aw,
		fanout:   fo,
		logger:   logger.WithComponent("supervisor"),
		metrics:  metrics,
		retry:    resilience.DefaultRetryPolicy(),
		timers:   make(map[string]*time.Timer),
	}
}

// Dispatch sends a work_request to agentID and arms the task's deadline
// timer, transitioning it to dispatched. Called by the Scheduler once an
// agent has been selected and admission has passed.
func (s *Supervisor) Dispatch(ctx context.Context, task *store.Task, agentID string) error {
	env := &codec.Envelope{
		ProtocolVersion: codec.ProtocolVersion,
		MessageID:       uuid.NewString(),
		FromAgent:       "orchestrator",
		ToAgent:         agentID,
		Timestamp:       time.Now().UTC(),
		TraceID:         telemetry.TraceIDFromContext(ctx),
		RequestID:       task.ID,
		Type:            codec.TypeWorkRequest,
	}
	payload, err := codec.EncodePayload(codec.WorkRequestPayload{
		TaskID:     task.ID,
		WorkType:   task.WorkType,
		Parameters: task.Parameters,
		Hints: codec.TaskHints{
			MaxDurationSeconds: task.MaxDurationSeconds,
			MaxMemoryMB:        task.MaxMemoryMB,
		},
	})
	if err != nil {
		return fmt.Errorf("supervisor dispatch: encode payload: %w", err)
	}
	env.Payload = payload

	queue := bus.AgentQueue(task.WorkType)
	if err := s.bus.Publish(ctx, queue, env); err != nil {
		return fmt.Errorf("supervisor dispatch: publish: %w", err)
	}

	now := time.Now()
	if err := s.store.TransitionTask(ctx, task.ID, task.Status, store.TaskDispatched); err != nil {
		return err
	}
	if err := s.store.AssignAgent(ctx, task.ID, agentID, now); err != nil {
		return err
	}

	s.armDeadline(ctx, task)
	s.fanout.Broadcast(task.PlanID, fanout.Event{Type: fanout.EventDispatchStarted, Payload: map[string]interface{}{"task_id": task.ID, "agent_id": agentID}})
	return nil
}

func (s *Supervisor) deadlineFor(task *store.Task) time.Duration {
	if task.MaxDurationSeconds > 0 {
		return time.Duration(task.MaxDurationSeconds) * time.Second
	}
	return DefaultTaskDeadline
}

func (s *Supervisor) armDeadline(ctx context.Context, task *store.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[task.ID]; ok {
		old.Stop()
	}
	s.timers[task.ID] = time.AfterFunc(s.deadlineFor(task), func() {
		s.handleTimeout(context.Background(), task.ID)
	})
}

func (s *Supervisor) disarmDeadline(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[taskID]; ok {
		t.Stop()
		delete(s.timers, taskID)
	}
}

// HandleStatus reconciles a work_status message: appends an ExecutionStep,
// and on the first "running" status transitions dispatched -> running.
// Status updates for a terminal task are discarded (spec §5 ordering
// guarantee).
func (s *Supervisor) HandleStatus(ctx context.Context, env *codec.Envelope) error {
	var payload codec.WorkStatusPayload
	if err := codec.DecodePayload(env, &payload); err != nil {
		return fmt.Errorf("supervisor handle status: decode: %w", err)
	}

	task, err := s.store.GetTask(ctx, payload.TaskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		s.logger.Debug("discarding status for terminal task", map[string]interface{}{"task_id": task.ID, "status": task.Status})
		return nil
	}

	step := &store.ExecutionStep{
		TaskID:        task.ID,
		AgentID:       env.FromAgent,
		Status:        string(payload.Status),
		OutputSummary: summarize(payload),
		Timestamp:     time.Now(),
	}
	if payload.Step != nil {
		step.Ordinal = payload.Step.Number
		step.Action = payload.Step.Name
	}
	if err := s.store.AppendExecutionStep(ctx, step); err != nil {
		return err
	}

	if payload.Status == codec.WorkStatusRunning && task.Status == store.TaskDispatched {
		if err := s.store.TransitionTask(ctx, task.ID, store.TaskDispatched, store.TaskRunning); err != nil {
			return err
		}
	}

	s.armDeadline(ctx, task) // any status refreshes the deadline (liveness signal)
	s.fanout.Broadcast(task.PlanID, fanout.Event{Type: fanout.EventStepCompleted, Payload: map[string]interface{}{"task_id": task.ID, "status": string(payload.Status)}})
	return nil
}

func summarize(p codec.WorkStatusPayload) string {
	if p.Step == nil {
		return ""
	}
	if len(p.Step.Output) > 256 {
		return p.Step.Output[:256]
	}
	return p.Step.Output
}

// HandleResult reconciles a work_result message: writes outcome,
// resources_used, services_touched, flips the task terminal, records the
// audit artifact, and broadcasts. Duplicate results for an already
// terminal task are discarded at DEBUG (spec §4.9 idempotency rule).
func (s *Supervisor) HandleResult(ctx context.Context, env *codec.Envelope) error {
	var payload codec.WorkResultPayload
	if err := codec.DecodePayload(env, &payload); err != nil {
		return fmt.Errorf("supervisor handle result: decode: %w", err)
	}

	task, err := s.store.GetTask(ctx, payload.TaskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		s.logger.Debug("discarding duplicate result for terminal task", map[string]interface{}{"task_id": task.ID, "request_id": env.RequestID})
		return nil
	}
	s.disarmDeadline(task.ID)

	var to store.TaskStatus
	var failureClass string
	if payload.Status == codec.WorkResultSuccess {
		to = store.TaskSuccess
	} else {
		to = store.TaskFailed
		failureClass = "agent_reported_failure"
	}

	outcome := map[string]interface{}{"exit_code": payload.ExitCode, "output": payload.Output}
	resources := map[string]interface{}{
		"duration_seconds": payload.ResourcesUsed.DurationSeconds,
		"gpu_vram_mb":       payload.ResourcesUsed.GPUVRAMMb,
		"cpu_time_ms":       payload.ResourcesUsed.CPUTimeMs,
	}

	return s.finalize(ctx, task, to, outcome, resources, failureClass)
}

func (s *Supervisor) finalize(ctx context.Context, task *store.Task, to store.TaskStatus, outcome, resources map[string]interface{}, failureClass string) error {
	from := task.Status
	if err := s.store.FinalizeTask(ctx, task.ID, from, to, outcome, resources, task.ServicesTouched, failureClass, time.Now()); err != nil {
		return err
	}

	if task.AssignedAgentID != nil {
		var recordErr error
		if to != store.TaskSuccess {
			recordErr = fmt.Errorf("task %s finalized %s: %s", task.ID, to, failureClass)
		}
		s.registry.Breaker(*task.AssignedAgentID).RecordResult(recordErr)
	}

	if s.metrics != nil {
		s.metrics.TasksTerminal.WithLabelValues(string(to)).Inc()
	}

	if s.audit != nil {
		fresh, err := s.store.GetTask(ctx, task.ID)
		if err == nil {
			plan, _ := s.store.GetPlan(ctx, task.PlanID)
			_, recErr := s.audit.Record(ctx, &audit.Artifact{
				TaskID:           task.ID,
				PlanSnapshot:     plan,
				DispatchSnapshot: fresh,
				ExecutionResult:  outcome,
				ResourcesUsed:    resources,
				Status:           to,
			})
			if recErr != nil {
				s.logger.Error("audit record failed", map[string]interface{}{"task_id": task.ID, "error": recErr.Error()})
			}
		}
	}

	eventType := fanout.EventExecutionDone
	if to == store.TaskFailed || to == store.TaskRejected {
		eventType = fanout.EventExecutionFailed
	}
	s.fanout.Broadcast(task.PlanID, fanout.Event{Type: eventType, Payload: map[string]interface{}{"task_id": task.ID, "status": string(to)}})

	if to == store.TaskSuccess {
		if err := s.maybeCompleteRequest(ctx, task.PlanID); err != nil {
			s.logger.Error("request completion check failed", map[string]interface{}{"plan_id": task.PlanID, "error": err.Error()})
		}
	}
	return nil
}

// maybeCompleteRequest transitions the owning Request to complete once
// every task in its plan has reached success (spec §3 Request lifecycle,
// Scenario 1 "happy path ends complete").
func (s *Supervisor) maybeCompleteRequest(ctx context.Context, planID string) error {
	siblings, err := s.store.ListTasksByPlan(ctx, planID)
	if err != nil {
		return err
	}
	for _, t := range siblings {
		if t.Status != store.TaskSuccess {
			return nil
		}
	}
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	return s.store.SetRequestState(ctx, plan.RequestID, store.RequestComplete, "")
}

// handleTimeout synthesizes a retryable timeout error (5001) when a task's
// deadline elapses with no further status/result (spec §4.9).
func (s *Supervisor) handleTimeout(ctx context.Context, taskID string) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil || task.Status.IsTerminal() {
		return
	}
	s.applyRetryOrFail(ctx, task, codec.ErrTimeout, "task_deadline_exceeded")
}

// applyRetryOrFail implements the retry policy from spec §4.8/I6: on a
// retryable failure, increments retry_count and re-parks for redispatch
// (as `approved`, picked up again by the Scheduler); once max_retries is
// exhausted the task fails terminally with reason `retry_budget_exceeded`,
// and a non-retryable error code fails it at once with the given reason.
func (s *Supervisor) applyRetryOrFail(ctx context.Context, task *store.Task, code codec.ErrorCode, reason string) {
	retryCount, err := s.store.IncrementRetryCount(ctx, task.ID)
	if err != nil {
		s.logger.Error("increment retry count failed", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		return
	}

	if !code.Retryable() || s.retry.Exhausted(retryCount) {
		failureClass := reason
		if s.retry.Exhausted(retryCount) {
			failureClass = "retry_budget_exceeded"
		}
		if err := s.finalize(ctx, task, store.TaskFailed, map[string]interface{}{"error_code": int(code)}, map[string]interface{}{}, failureClass); err != nil {
			s.logger.Error("finalize on retry exhaustion failed", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		}
		if s.metrics != nil {
			s.metrics.TaskRetries.WithLabelValues(fmt.Sprintf("%d", code)).Inc()
		}
		return
	}

	delay := s.retry.DelayFor(retryCount)
	time.AfterFunc(delay, func() {
		_ = s.store.TransitionTask(context.Background(), task.ID, task.Status, store.TaskApproved)
	})
	if s.metrics != nil {
		s.metrics.TaskRetries.WithLabelValues(fmt.Sprintf("%d", code)).Inc()
	}
}

// Cancel moves a non-terminal task to cancelled, best-effort-notifies the
// assigned agent, and records an audit artifact (spec §4.9).
func (s *Supervisor) Cancel(ctx context.Context, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return nil
	}
	s.disarmDeadline(taskID)

	if task.AssignedAgentID != nil {
		env := &codec.Envelope{
			ProtocolVersion: codec.ProtocolVersion,
			MessageID:       uuid.NewString(),
			FromAgent:       "orchestrator",
			ToAgent:         *task.AssignedAgentID,
			Timestamp:       time.Now().UTC(),
			RequestID:       task.ID,
			Type:            codec.TypeWorkStatus,
			Payload:         map[string]interface{}{"task_id": task.ID, "status": "cancel_requested"},
		}
		_ = s.bus.Publish(ctx, bus.AgentQueue(task.WorkType), env) // best-effort, per spec §4.9
	}

	return s.finalize(ctx, task, store.TaskCancelled, map[string]interface{}{"reason": "user_cancelled"}, map[string]interface{}{}, "cancelled_by_user")
}
