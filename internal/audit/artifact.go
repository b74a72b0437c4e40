// Package audit implements the immutable commit log (spec component C4):
// a content-addressed JSON artifact written once per terminal task,
// idempotent on task id. Interface shape grounded in the teacher's
// orchestration/execution_store.go ExecutionStore (Store/Get/ListRecent),
// moved from the teacher's Redis-backed record store to a filesystem
// commit log because spec §4.4 describes a path-keyed "commit log" with
// a git-style commit message, which has no Redis analogue in the pack.
package audit

import (
	"time"

	"github.com/homelabops/orchestrator/internal/store"
)

// Artifact is the document written once per terminal task (spec §3).
type Artifact struct {
	TaskID          string                 `json:"task_id"`
	PlanSnapshot    *store.Plan            `json:"plan_snapshot"`
	DispatchSnapshot *store.Task           `json:"dispatch_snapshot"`
	ExecutionResult map[string]interface{} `json:"execution_result"`
	ResourcesUsed   map[string]interface{} `json:"resources_used"`
	Status          store.TaskStatus       `json:"status"`
	Timestamp       time.Time              `json:"timestamp"`
}
