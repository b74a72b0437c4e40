package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/homelabops/orchestrator/internal/telemetry"
)

// Store is the transactional CRUD surface over the State Store.
type Store struct {
	db     *sqlx.DB
	logger telemetry.ComponentLogger
}

// New wraps an already-connected *sqlx.DB (driverName "pgx") and applies
// the schema DDL.
func New(db *sqlx.DB, logger telemetry.ComponentLogger) (*Store, error) {
	if logger == nil {
		logger = telemetry.NewNop()
	}
	s := &Store{db: db, logger: logger.WithComponent("store")}
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

// Pagination bounds offset/limit per spec §4.3 (bounded at 1000).
type Pagination struct {
	Limit  int
	Offset int
}

func (p Pagination) normalized() Pagination {
	if p.Limit <= 0 || p.Limit > 1000 {
		p.Limit = 1000
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// --- Requests -------------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, r *Request) error {
	intentJSON, err := json.Marshal(r.ParsedIntent)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO requests (id, requester_id, text, created_at, parsed_intent, state, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.RequesterID, r.Text, r.CreatedAt, intentJSON, r.State, r.FailureReason)
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (*Request, error) {
	var r Request
	err := s.db.GetContext(ctx, &r, `SELECT * FROM requests WHERE id = $1`, id)
	if err != nil {
		return nil, translateNoRows(err, "request", id)
	}
	_ = json.Unmarshal(r.ParsedIntentJSON, &r.ParsedIntent)
	return &r, nil
}

// SetRequestState unconditionally updates a Request's lifecycle state.
// Requests have no immutability guard (only terminal Tasks do, per I2).
func (s *Store) SetRequestState(ctx context.Context, id string, state RequestState, failureReason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE requests SET state = $1, failure_reason = $2 WHERE id = $3`,
		state, failureReason, id)
	return err
}

// --- Plans ------------------------------------------------------------

func (s *Store) CreatePlan(ctx context.Context, p *Plan) error {
	budgetJSON, err := json.Marshal(p.ResourceBudget)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, request_id, summary, risk_level, estimated_duration_ns,
			resource_budget, approval_status, approver_id, approved_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.RequestID, p.Summary, p.RiskLevel, p.EstimatedDuration,
		budgetJSON, p.ApprovalStatus, p.ApproverID, p.ApprovedAt, p.CreatedAt)
	return err
}

func (s *Store) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	err := s.db.GetContext(ctx, &p, `SELECT * FROM plans WHERE id = $1`, id)
	if err != nil {
		return nil, translateNoRows(err, "plan", id)
	}
	_ = json.Unmarshal(p.ResourceBudgetJSON, &p.ResourceBudget)
	return &p, nil
}

// ApprovePlan is a CAS transition: pending -> approved. A second call on an
// already-approved/rejected plan fails with StatusConflict (spec §8
// idempotence law: "approve(p); approve(p)" — second call fails).
func (s *Store) ApprovePlan(ctx context.Context, id, approverID string, approvedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET approval_status = $1, approver_id = $2, approved_at = $3
		WHERE id = $4 AND approval_status = $5`,
		ApprovalApproved, approverID, approvedAt, id, ApprovalPending)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		current, getErr := s.GetPlan(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &StatusConflict{TaskID: id, Expected: TaskStatus(ApprovalPending), Actual: TaskStatus(current.ApprovalStatus)}
	}
	return nil
}

func (s *Store) RejectPlan(ctx context.Context, id, approverID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET approval_status = $1, approver_id = $2
		WHERE id = $3 AND approval_status = $4`,
		ApprovalRejected, approverID, id, ApprovalPending)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &StatusConflict{TaskID: id, Expected: TaskStatus(ApprovalPending)}
	}
	return nil
}

func (s *Store) SupersedePlan(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE plans SET approval_status = $1 WHERE id = $2`, ApprovalSuperseded, id)
	return err
}

// --- Tasks --------------------------------------------------------------

func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if err := marshalTaskJSON(t); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, plan_id, ordinal, work_type, parameters, max_duration_seconds,
			max_memory_mb, assigned_agent_id, status, created_at, approved_at, dispatched_at,
			completed_at, estimated_resources, actual_resources, services_touched, outcome,
			failure_classification, retry_count, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		t.ID, t.PlanID, t.Ordinal, t.WorkType, t.ParametersJSON, t.MaxDurationSeconds,
		t.MaxMemoryMB, t.AssignedAgentID, t.Status, t.CreatedAt, t.ApprovedAt, t.DispatchedAt,
		t.CompletedAt, t.EstimatedResourcesJSON, t.ActualResourcesJSON, t.ServicesTouchedJSON, t.OutcomeJSON,
		t.FailureClassification, t.RetryCount, t.IdempotencyKey)
	return err
}

func marshalTaskJSON(t *Task) error {
	var err error
	if t.ParametersJSON, err = json.Marshal(t.Parameters); err != nil {
		return err
	}
	if t.EstimatedResourcesJSON, err = json.Marshal(t.EstimatedResources); err != nil {
		return err
	}
	if t.ActualResourcesJSON, err = json.Marshal(t.ActualResources); err != nil {
		return err
	}
	if t.ServicesTouchedJSON, err = json.Marshal(t.ServicesTouched); err != nil {
		return err
	}
	if t.OutcomeJSON, err = json.Marshal(t.Outcome); err != nil {
		return err
	}
	return nil
}

func unmarshalTaskJSON(t *Task) {
	_ = json.Unmarshal(t.ParametersJSON, &t.Parameters)
	_ = json.Unmarshal(t.EstimatedResourcesJSON, &t.EstimatedResources)
	_ = json.Unmarshal(t.ActualResourcesJSON, &t.ActualResources)
	_ = json.Unmarshal(t.ServicesTouchedJSON, &t.ServicesTouched)
	_ = json.Unmarshal(t.OutcomeJSON, &t.Outcome)
}

func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = $1`, id)
	if err != nil {
		return nil, translateNoRows(err, "task", id)
	}
	unmarshalTaskJSON(&t)
	return &t, nil
}

func (s *Store) ListTasksByPlan(ctx context.Context, planID string) ([]*Task, error) {
	var tasks []*Task
	err := s.db.SelectContext(ctx, &tasks,
		`SELECT * FROM tasks WHERE plan_id = $1 ORDER BY ordinal ASC`, planID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		unmarshalTaskJSON(t)
	}
	return tasks, nil
}

// TaskFilter expresses the indexed range/containment queries from spec §4.3.
type TaskFilter struct {
	Status        *TaskStatus
	Service       string
	AgentID       string
	Since         *time.Time
	Until         *time.Time
}

// QueryTasks is the backing implementation of C11's query_audit operation.
func (s *Store) QueryTasks(ctx context.Context, f TaskFilter, p Pagination) ([]*Task, error) {
	p = p.normalized()
	query := `SELECT * FROM tasks WHERE 1=1`
	args := []interface{}{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}
	if f.Status != nil {
		add("status =", *f.Status)
	}
	if f.AgentID != "" {
		add("assigned_agent_id =", f.AgentID)
	}
	if f.Since != nil {
		add("created_at >=", *f.Since)
	}
	if f.Until != nil {
		add("created_at <=", *f.Until)
	}
	if f.Service != "" {
		args = append(args, f.Service)
		query += fmt.Sprintf(" AND services_touched @> to_jsonb($%d::text)", len(args))
	}
	query += " ORDER BY created_at DESC"
	args = append(args, p.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, p.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	var tasks []*Task
	if err := s.db.SelectContext(ctx, &tasks, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		unmarshalTaskJSON(t)
	}
	return tasks, nil
}

// TransitionTask performs a CAS status transition (spec §4.3), enforcing
// the immutability guard (I2) at the store layer: the current row is read
// first and a terminal task is rejected with ImmutabilityViolation before
// the CAS update runs; a CAS update that matches no row (status is no
// longer `from`) returns StatusConflict carrying the status found.
func (s *Store) TransitionTask(ctx context.Context, id string, from, to TaskStatus) error {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return &ImmutabilityViolation{TaskID: id, Status: current.Status}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		fresh, getErr := s.GetTask(ctx, id)
		if getErr != nil {
			return getErr
		}
		return &StatusConflict{TaskID: id, Expected: from, Actual: fresh.Status}
	}
	return nil
}

// FinalizeTask transitions a task to a terminal status while writing
// outcome/resources_used/services_touched, satisfying invariant I3 ("must
// be populated before a Task becomes terminal") atomically with the
// transition itself.
func (s *Store) FinalizeTask(ctx context.Context, id string, from TaskStatus, to TaskStatus,
	outcome map[string]interface{}, actualResources map[string]interface{}, servicesTouched []string,
	failureClassification string, completedAt time.Time) error {

	if !to.IsTerminal() {
		return fmt.Errorf("FinalizeTask: target status %s is not terminal", to)
	}

	current, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return &ImmutabilityViolation{TaskID: id, Status: current.Status}
	}

	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	resourcesJSON, err := json.Marshal(actualResources)
	if err != nil {
		return err
	}
	servicesJSON, err := json.Marshal(servicesTouched)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, outcome = $2, actual_resources = $3,
			services_touched = $4, failure_classification = $5, completed_at = $6
		WHERE id = $7 AND status = $8`,
		to, outcomeJSON, resourcesJSON, servicesJSON, failureClassification, completedAt, id, from)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		fresh, getErr := s.GetTask(ctx, id)
		if getErr != nil {
			return getErr
		}
		if fresh.Status.IsTerminal() {
			return &ImmutabilityViolation{TaskID: id, Status: fresh.Status}
		}
		return &StatusConflict{TaskID: id, Expected: from, Actual: fresh.Status}
	}
	return nil
}

func (s *Store) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`UPDATE tasks SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count`, id)
	return count, err
}

func (s *Store) AssignAgent(ctx context.Context, taskID, agentID string, dispatchedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET assigned_agent_id = $1, dispatched_at = $2 WHERE id = $3`,
		agentID, dispatchedAt, taskID)
	return err
}

// --- ExecutionSteps -------------------------------------------------------

func (s *Store) AppendExecutionStep(ctx context.Context, step *ExecutionStep) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_steps (task_id, ordinal, agent_id, action, status, output_summary, timestamp, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		step.TaskID, step.Ordinal, step.AgentID, step.Action, step.Status, step.OutputSummary, step.Timestamp, step.DurationMS)
	return err
}

func (s *Store) ListExecutionSteps(ctx context.Context, taskID string) ([]*ExecutionStep, error) {
	var steps []*ExecutionStep
	err := s.db.SelectContext(ctx, &steps,
		`SELECT * FROM execution_steps WHERE task_id = $1 ORDER BY ordinal ASC`, taskID)
	return steps, err
}

// --- PauseEntries ---------------------------------------------------------

func (s *Store) CreatePauseEntry(ctx context.Context, p *PauseEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pause_entries (task_id, reason, dispatch_payload, paused_at, not_before)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (task_id) DO UPDATE SET reason = EXCLUDED.reason,
			dispatch_payload = EXCLUDED.dispatch_payload, not_before = EXCLUDED.not_before`,
		p.TaskID, p.Reason, p.DispatchPayload, p.PausedAt, p.NotBefore)
	return err
}

func (s *Store) DeletePauseEntry(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pause_entries WHERE task_id = $1`, taskID)
	return err
}

// ListPauseEntriesOldestFirst backs the resume_loop tick from spec §4.8,
// which scans the pause queue oldest-first.
func (s *Store) ListPauseEntriesOldestFirst(ctx context.Context) ([]*PauseEntry, error) {
	var entries []*PauseEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM pause_entries ORDER BY paused_at ASC`)
	return entries, err
}

func translateNoRows(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if err.Error() == "sql: no rows in result set" {
		return &ErrNotFound{Entity: entity, ID: id}
	}
	return err
}
