// Package orchestrator implements the Orchestrator Service (spec
// component C11), the composition root tying the Planner, Scheduler,
// Execution Supervisor, State Store, Audit Log and Event Fan-out
// together behind the request/approval/cancel surface. Grounded in the
// teacher's orchestration/orchestrator.go (NewOrchestrator,
// OrchestratorConfig) composition pattern.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/homelabops/orchestrator/internal/apperr"
	"github.com/homelabops/orchestrator/internal/audit"
	"github.com/homelabops/orchestrator/internal/fanout"
	"github.com/homelabops/orchestrator/internal/planner"
	"github.com/homelabops/orchestrator/internal/scheduler"
	"github.com/homelabops/orchestrator/internal/store"
	"github.com/homelabops/orchestrator/internal/telemetry"
)

// Orchestrator is the C11 implementation.
type Orchestrator struct {
	store     *store.Store
	planner   *planner.Planner
	scheduler *scheduler.Scheduler
	audit     *audit.Writer
	fanout    *fanout.Broker
	logger    telemetry.ComponentLogger
	metrics   *telemetry.Metrics
}

func New(st *store.Store, pl *planner.Planner, sch *scheduler.Scheduler, aw *audit.Writer, fo *fanout.Broker, logger telemetry.ComponentLogger, metrics *telemetry.Metrics) *Orchestrator {
	if logger == nil {
		logger = telemetry.NewNop()
	}
	return &Orchestrator{
		store:     st,
		planner:   pl,
		scheduler: sch,
		audit:     aw,
		fanout:    fo,
		logger:    logger.WithComponent("orchestrator"),
		metrics:   metrics,
	}
}

// PlanView is the read model returned by GetPlan: a plan plus its tasks.
type PlanView struct {
	Plan  *store.Plan
	Tasks []*store.Task
}

// Submit creates a Request, runs planning synchronously, and returns the
// request id; it does not block on approval/dispatch
// (spec §4.11: "triggers Planner, returns immediately").
func (o *Orchestrator) Submit(ctx context.Context, requestText, requester string) (requestID string, err error) {
	if requestText == "" {
		return "", apperr.New("orchestrator.Submit", "validation", "", apperr.ErrInvalidRequest)
	}

	req := &store.Request{
		ID:          uuid.NewString(),
		RequesterID: requester,
		Text:        requestText,
		CreatedAt:   time.Now().UTC(),
		State:       store.RequestReceived,
	}
	if err := o.store.CreateRequest(ctx, req); err != nil {
		return "", apperr.New("orchestrator.Submit", "store", req.ID, err)
	}

	if err := o.store.SetRequestState(ctx, req.ID, store.RequestPlanning, ""); err != nil {
		return "", apperr.New("orchestrator.Submit", "store", req.ID, err)
	}

	plan, tasks, err := o.planner.Plan(ctx, req.ID)
	if err != nil {
		_ = o.store.SetRequestState(ctx, req.ID, store.RequestFailed, err.Error())
		o.logger.Warn("planning failed", map[string]interface{}{"request_id": req.ID, "error": err.Error()})
		return req.ID, nil
	}

	if err := o.store.CreatePlan(ctx, plan); err != nil {
		return "", apperr.New("orchestrator.Submit", "store", plan.ID, err)
	}
	for _, t := range tasks {
		if err := o.store.CreateTask(ctx, t); err != nil {
			return "", apperr.New("orchestrator.Submit", "store", t.ID, err)
		}
	}
	if err := o.store.SetRequestState(ctx, req.ID, store.RequestPendingApproval, ""); err != nil {
		return "", apperr.New("orchestrator.Submit", "store", req.ID, err)
	}

	return req.ID, nil
}

// GetPlan returns the plan and its tasks for display/approval.
func (o *Orchestrator) GetPlan(ctx context.Context, planID string) (*PlanView, error) {
	plan, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, apperr.New("orchestrator.GetPlan", "store", planID, err)
	}
	tasks, err := o.store.ListTasksByPlan(ctx, planID)
	if err != nil {
		return nil, apperr.New("orchestrator.GetPlan", "store", planID, err)
	}
	return &PlanView{Plan: plan, Tasks: tasks}, nil
}

// Approve gates a pending plan into C8 dispatch (spec §4.11). Returns
// whether dispatch was actually started.
func (o *Orchestrator) Approve(ctx context.Context, planID, approver string) (dispatchStarted bool, err error) {
	if err := o.store.ApprovePlan(ctx, planID, approver, time.Now().UTC()); err != nil {
		return false, apperr.New("orchestrator.Approve", "store", planID, err)
	}

	plan, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return false, apperr.New("orchestrator.Approve", "store", planID, err)
	}
	if err := o.store.SetRequestState(ctx, plan.RequestID, store.RequestApproved, ""); err != nil {
		return false, apperr.New("orchestrator.Approve", "store", plan.RequestID, err)
	}

	o.fanout.Broadcast(planID, fanout.Event{Type: fanout.EventPlanApproved, Payload: map[string]interface{}{"plan_id": planID}})

	if err := o.store.SetRequestState(ctx, plan.RequestID, store.RequestExecuting, ""); err != nil {
		return false, apperr.New("orchestrator.Approve", "store", plan.RequestID, err)
	}
	if err := o.scheduler.Dispatch(ctx, plan); err != nil {
		o.logger.Warn("dispatch failed after approval", map[string]interface{}{"plan_id": planID, "error": err.Error()})
		return false, apperr.New("orchestrator.Approve", "scheduler", planID, err)
	}
	return true, nil
}

// Reject marks a pending plan rejected and fails the owning request.
func (o *Orchestrator) Reject(ctx context.Context, planID, approver string) error {
	if err := o.store.RejectPlan(ctx, planID, approver); err != nil {
		return apperr.New("orchestrator.Reject", "store", planID, err)
	}
	plan, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return apperr.New("orchestrator.Reject", "store", planID, err)
	}
	return o.store.SetRequestState(ctx, plan.RequestID, store.RequestRejected, "plan_rejected")
}

// Modify implements the Open Question resolution: same Request, a new
// sibling Plan, the old Plan marked superseded, both visible in history.
func (o *Orchestrator) Modify(ctx context.Context, planID, newRequestText string) (newPlanID string, err error) {
	oldPlan, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return "", apperr.New("orchestrator.Modify", "store", planID, err)
	}

	req, err := o.store.GetRequest(ctx, oldPlan.RequestID)
	if err != nil {
		return "", apperr.New("orchestrator.Modify", "store", oldPlan.RequestID, err)
	}
	if newRequestText != "" {
		req.Text = newRequestText
	}

	newPlan, tasks, err := o.planner.Plan(ctx, req.ID)
	if err != nil {
		return "", apperr.New("orchestrator.Modify", "planner", req.ID, err)
	}
	if err := o.store.CreatePlan(ctx, newPlan); err != nil {
		return "", apperr.New("orchestrator.Modify", "store", newPlan.ID, err)
	}
	for _, t := range tasks {
		if err := o.store.CreateTask(ctx, t); err != nil {
			return "", apperr.New("orchestrator.Modify", "store", t.ID, err)
		}
	}

	if err := o.store.SupersedePlan(ctx, planID); err != nil {
		return "", apperr.New("orchestrator.Modify", "store", planID, err)
	}
	if err := o.store.SetRequestState(ctx, req.ID, store.RequestPendingApproval, ""); err != nil {
		return "", apperr.New("orchestrator.Modify", "store", req.ID, err)
	}

	return newPlan.ID, nil
}

// Canceller is the narrow surface Cancel hands a task off to, implemented
// by the Execution Supervisor. Kept as an interface for the same reason
// scheduler.Dispatcher is: avoiding an orchestrator->supervisor->scheduler
// import cycle.
type Canceller interface {
	Cancel(ctx context.Context, taskID string) error
}

// Cancel cancels every non-terminal task belonging to a request, or a
// single task directly, per spec §4.11's `cancel(request_id|task_id)`.
func (o *Orchestrator) Cancel(ctx context.Context, canceller Canceller, id string) error {
	if task, err := o.store.GetTask(ctx, id); err == nil {
		return canceller.Cancel(ctx, task.ID)
	}

	req, err := o.store.GetRequest(ctx, id)
	if err != nil {
		return apperr.New("orchestrator.Cancel", "store", id, apperr.ErrTaskNotFound)
	}

	plans, err := o.tasksForRequest(ctx, req.ID)
	if err != nil {
		return apperr.New("orchestrator.Cancel", "store", req.ID, err)
	}
	for _, t := range plans {
		if t.Status.IsTerminal() {
			continue
		}
		if err := canceller.Cancel(ctx, t.ID); err != nil {
			return apperr.New("orchestrator.Cancel", "supervisor", t.ID, err)
		}
	}
	return o.store.SetRequestState(ctx, req.ID, store.RequestFailed, "cancelled_by_user")
}

func (o *Orchestrator) tasksForRequest(ctx context.Context, requestID string) ([]*store.Task, error) {
	// A request's tasks live under its (possibly several, post-modify)
	// plans; query_audit's service/status filters don't key by request id,
	// so walk plans via the pause-free path: list every task and filter.
	// v1 requests are 1:1 with an active plan lineage, so this is bounded.
	all, err := o.store.QueryTasks(ctx, store.TaskFilter{}, store.Pagination{Limit: 1000})
	if err != nil {
		return nil, err
	}
	var out []*store.Task
	for _, t := range all {
		plan, err := o.store.GetPlan(ctx, t.PlanID)
		if err != nil {
			continue
		}
		if plan.RequestID == requestID {
			out = append(out, t)
		}
	}
	return out, nil
}

// QueryAudit serves the paginated, filtered task history from spec §4.3.
func (o *Orchestrator) QueryAudit(ctx context.Context, filter store.TaskFilter, page store.Pagination) ([]*store.Task, error) {
	tasks, err := o.store.QueryTasks(ctx, filter, page)
	if err != nil {
		return nil, apperr.New("orchestrator.QueryAudit", "store", "", err)
	}
	return tasks, nil
}
