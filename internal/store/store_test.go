package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelabops/orchestrator/internal/telemetry"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
	sqlxDB := sqlx.NewDb(db, "pgx")
	s, err := New(sqlxDB, telemetry.NewNop())
	require.NoError(t, err)
	return s, mock
}

func TestTransitionTaskRejectsTerminalTask(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	cols := []string{"id", "plan_id", "ordinal", "work_type", "parameters", "max_duration_seconds",
		"max_memory_mb", "assigned_agent_id", "status", "created_at", "approved_at", "dispatched_at",
		"completed_at", "estimated_resources", "actual_resources", "services_touched", "outcome",
		"failure_classification", "retry_count", "idempotency_key"}
	row := sqlmock.NewRows(cols).AddRow(
		"task-1", "plan-1", 0, "build", []byte(`{}`), 0,
		0, nil, TaskSuccess, now, nil, nil,
		&now, []byte(`{}`), []byte(`{}`), []byte(`[]`), []byte(`{}`),
		"", 0, "")

	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id = \$1`).WithArgs("task-1").WillReturnRows(row)

	err := s.TransitionTask(context.Background(), "task-1", TaskRunning, TaskSuccess)
	require.Error(t, err)
	var immutable *ImmutabilityViolation
	assert.ErrorAs(t, err, &immutable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionTaskStatusConflict(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	cols := []string{"id", "plan_id", "ordinal", "work_type", "parameters", "max_duration_seconds",
		"max_memory_mb", "assigned_agent_id", "status", "created_at", "approved_at", "dispatched_at",
		"completed_at", "estimated_resources", "actual_resources", "services_touched", "outcome",
		"failure_classification", "retry_count", "idempotency_key"}

	firstFetch := sqlmock.NewRows(cols).AddRow(
		"task-1", "plan-1", 0, "build", []byte(`{}`), 0,
		0, nil, TaskDispatched, now, nil, nil,
		nil, []byte(`{}`), []byte(`{}`), []byte(`[]`), []byte(`{}`),
		"", 0, "")
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id = \$1`).WithArgs("task-1").WillReturnRows(firstFetch)

	mock.ExpectExec(`UPDATE tasks SET status = \$1 WHERE id = \$2 AND status = \$3`).
		WithArgs(TaskRunning, "task-1", TaskApproved).
		WillReturnResult(sqlmock.NewResult(0, 0))

	secondFetch := sqlmock.NewRows(cols).AddRow(
		"task-1", "plan-1", 0, "build", []byte(`{}`), 0,
		0, nil, TaskDispatched, now, nil, nil,
		nil, []byte(`{}`), []byte(`{}`), []byte(`[]`), []byte(`{}`),
		"", 0, "")
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id = \$1`).WithArgs("task-1").WillReturnRows(secondFetch)

	err := s.TransitionTask(context.Background(), "task-1", TaskApproved, TaskRunning)
	require.Error(t, err)
	var conflict *StatusConflict
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, TaskDispatched, conflict.Actual)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovePlanIdempotenceFailsSecondCall(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE plans SET approval_status = \$1, approver_id = \$2, approved_at = \$3`).
		WithArgs(ApprovalApproved, "alice", now, "plan-1", ApprovalPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cols := []string{"id", "request_id", "summary", "risk_level", "estimated_duration_ns",
		"resource_budget", "approval_status", "approver_id", "approved_at", "created_at"}
	row := sqlmock.NewRows(cols).AddRow(
		"plan-1", "req-1", "", RiskLow, int64(0), []byte(`{}`), ApprovalApproved, "alice", &now, now)
	mock.ExpectQuery(`SELECT \* FROM plans WHERE id = \$1`).WithArgs("plan-1").WillReturnRows(row)

	err := s.ApprovePlan(context.Background(), "plan-1", "alice", now)
	require.Error(t, err)
	var conflict *StatusConflict
	assert.ErrorAs(t, err, &conflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryTasksAppliesPaginationBound(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"id", "plan_id", "ordinal", "work_type", "parameters", "max_duration_seconds",
		"max_memory_mb", "assigned_agent_id", "status", "created_at", "approved_at", "dispatched_at",
		"completed_at", "estimated_resources", "actual_resources", "services_touched", "outcome",
		"failure_classification", "retry_count", "idempotency_key"}
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE 1=1 AND status = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(TaskSuccess, 1000, 0).
		WillReturnRows(sqlmock.NewRows(cols))

	status := TaskSuccess
	tasks, err := s.QueryTasks(context.Background(), TaskFilter{Status: &status}, Pagination{Limit: 5000, Offset: 0})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeTaskRejectsAlreadyTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	cols := []string{"id", "plan_id", "ordinal", "work_type", "parameters", "max_duration_seconds",
		"max_memory_mb", "assigned_agent_id", "status", "created_at", "approved_at", "dispatched_at",
		"completed_at", "estimated_resources", "actual_resources", "services_touched", "outcome",
		"failure_classification", "retry_count", "idempotency_key"}
	row := sqlmock.NewRows(cols).AddRow(
		"task-1", "plan-1", 0, "build", []byte(`{}`), 0,
		0, nil, TaskFailed, now, nil, nil,
		&now, []byte(`{}`), []byte(`{}`), []byte(`[]`), []byte(`{}`),
		"timeout", 3, "")
	mock.ExpectQuery(`SELECT \* FROM tasks WHERE id = \$1`).WithArgs("task-1").WillReturnRows(row)

	err := s.FinalizeTask(context.Background(), "task-1", TaskRunning, TaskSuccess,
		map[string]interface{}{"ok": true}, map[string]interface{}{}, []string{}, "", now)
	require.Error(t, err)
	var immutable *ImmutabilityViolation
	assert.ErrorAs(t, err, &immutable)
	require.NoError(t, mock.ExpectationsWereMet())
}
