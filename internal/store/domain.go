// Package store implements the relational State Store (spec component C3):
// transactional CRUD over Requests/Plans/Tasks/ExecutionSteps/PauseEntries,
// compare-and-set status transitions, and an immutability guard over
// terminal tasks. Grounded in the teacher's Redis-backed stores
// (orchestration/redis_execution_store.go, redis_task_store.go) but moved
// to a relational backend (github.com/jackc/pgx/v5 +
// github.com/jmoiron/sqlx, pack-grounded via jordigilh-kubernaut) since
// spec §2 calls the State Store "queryable" with range/containment
// queries that a relational engine serves far more naturally than a
// key-value store.
package store

import "time"

// RequestState is the Request lifecycle from spec §3.
type RequestState string

const (
	RequestReceived         RequestState = "received"
	RequestPlanning         RequestState = "planning"
	RequestPendingApproval  RequestState = "pending_approval"
	RequestApproved         RequestState = "approved"
	RequestExecuting        RequestState = "executing"
	RequestComplete         RequestState = "complete"
	RequestRejected         RequestState = "rejected"
	RequestFailed           RequestState = "failed"
)

// Request is the user-level unit of work.
type Request struct {
	ID            string                 `db:"id"`
	RequesterID   string                 `db:"requester_id"`
	Text          string                 `db:"text"`
	CreatedAt     time.Time              `db:"created_at"`
	ParsedIntent  map[string]interface{} `db:"-"`
	ParsedIntentJSON []byte              `db:"parsed_intent"`
	State         RequestState           `db:"state"`
	FailureReason string                 `db:"failure_reason"`
}

// RiskLevel is the plan risk classification from spec §3 and the Open
// Question resolution in SPEC_FULL.md.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ApprovalStatus tracks a Plan's approval lifecycle.
type ApprovalStatus string

const (
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalRejected   ApprovalStatus = "rejected"
	ApprovalSuperseded ApprovalStatus = "superseded"
)

// Plan is an ordered set of tasks derived from a request.
type Plan struct {
	ID                 string         `db:"id"`
	RequestID          string         `db:"request_id"`
	Summary            string         `db:"summary"`
	RiskLevel          RiskLevel      `db:"risk_level"`
	EstimatedDuration  time.Duration  `db:"estimated_duration_ns"`
	ResourceBudget     map[string]interface{} `db:"-"`
	ResourceBudgetJSON []byte         `db:"resource_budget"`
	ApprovalStatus     ApprovalStatus `db:"approval_status"`
	ApproverID         string         `db:"approver_id"`
	ApprovedAt         *time.Time     `db:"approved_at"`
	CreatedAt          time.Time      `db:"created_at"`
}

// TaskStatus is the state machine from spec §4.9.
type TaskStatus string

const (
	TaskReceived         TaskStatus = "received"
	TaskPendingApproval  TaskStatus = "pending_approval"
	TaskApproved         TaskStatus = "approved"
	TaskPaused           TaskStatus = "paused"
	TaskDispatched       TaskStatus = "dispatched"
	TaskRunning          TaskStatus = "running"
	TaskSuccess          TaskStatus = "success"
	TaskFailed           TaskStatus = "failed"
	TaskRejected         TaskStatus = "rejected"
	TaskCancelled        TaskStatus = "cancelled"
)

// TerminalStatuses is the closed set from the GLOSSARY.
var TerminalStatuses = map[TaskStatus]bool{
	TaskSuccess:   true,
	TaskFailed:    true,
	TaskRejected:  true,
	TaskCancelled: true,
}

// IsTerminal reports whether status is one of the four terminal statuses.
func (s TaskStatus) IsTerminal() bool { return TerminalStatuses[s] }

// Task is a single unit of work dispatched to one agent.
type Task struct {
	ID                string                 `db:"id"`
	PlanID            string                 `db:"plan_id"`
	Ordinal           int                    `db:"ordinal"`
	WorkType          string                 `db:"work_type"`
	Parameters        map[string]interface{} `db:"-"`
	ParametersJSON    []byte                 `db:"parameters"`
	MaxDurationSeconds int                   `db:"max_duration_seconds"`
	MaxMemoryMB        int                   `db:"max_memory_mb"`
	AssignedAgentID   *string                `db:"assigned_agent_id"`
	Status            TaskStatus             `db:"status"`
	CreatedAt         time.Time              `db:"created_at"`
	ApprovedAt        *time.Time             `db:"approved_at"`
	DispatchedAt      *time.Time             `db:"dispatched_at"`
	CompletedAt       *time.Time             `db:"completed_at"`
	EstimatedResources map[string]interface{} `db:"-"`
	EstimatedResourcesJSON []byte            `db:"estimated_resources"`
	ActualResources   map[string]interface{} `db:"-"`
	ActualResourcesJSON    []byte            `db:"actual_resources"`
	ServicesTouched   []string               `db:"-"`
	ServicesTouchedJSON    []byte            `db:"services_touched"`
	Outcome           map[string]interface{} `db:"-"`
	OutcomeJSON            []byte            `db:"outcome"`
	FailureClassification string            `db:"failure_classification"`
	RetryCount        int                    `db:"retry_count"`
	IdempotencyKey    string                 `db:"idempotency_key"`
}

// ExecutionStep is a fine-grained, append-only sub-event of task execution.
type ExecutionStep struct {
	ID          int64     `db:"id"`
	TaskID      string    `db:"task_id"`
	Ordinal     int       `db:"ordinal"`
	AgentID     string    `db:"agent_id"`
	Action      string    `db:"action"`
	Status      string    `db:"status"`
	OutputSummary string  `db:"output_summary"`
	Timestamp   time.Time `db:"timestamp"`
	DurationMS  int64     `db:"duration_ms"`
}

// PauseEntry is a parked task with enough context to resume it.
type PauseEntry struct {
	TaskID             string    `db:"task_id"`
	Reason             string    `db:"reason"`
	DispatchPayload    []byte    `db:"dispatch_payload"`
	PausedAt           time.Time `db:"paused_at"`
	NotBefore          time.Time `db:"not_before"`
}
