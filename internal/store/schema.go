package store

// schemaDDL creates the tables backing the entities in spec §3. Applied
// idempotently at boot (IF NOT EXISTS); a dedicated migration tool is
// intentionally not introduced here since nothing else in the retrieved
// corpus's *source* (as opposed to go.mod manifests) demonstrates one for
// a store this size.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS requests (
	id               TEXT PRIMARY KEY,
	requester_id     TEXT NOT NULL,
	text             TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	parsed_intent    JSONB,
	state            TEXT NOT NULL,
	failure_reason   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests (created_at);
CREATE INDEX IF NOT EXISTS idx_requests_state ON requests (state);

CREATE TABLE IF NOT EXISTS plans (
	id                    TEXT PRIMARY KEY,
	request_id            TEXT NOT NULL REFERENCES requests(id),
	summary               TEXT NOT NULL DEFAULT '',
	risk_level            TEXT NOT NULL,
	estimated_duration_ns BIGINT NOT NULL DEFAULT 0,
	resource_budget       JSONB,
	approval_status       TEXT NOT NULL,
	approver_id           TEXT NOT NULL DEFAULT '',
	approved_at           TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_plans_request_id ON plans (request_id);

CREATE TABLE IF NOT EXISTS tasks (
	id                      TEXT PRIMARY KEY,
	plan_id                 TEXT NOT NULL REFERENCES plans(id),
	ordinal                 INTEGER NOT NULL,
	work_type               TEXT NOT NULL,
	parameters              JSONB,
	max_duration_seconds    INTEGER NOT NULL DEFAULT 0,
	max_memory_mb           INTEGER NOT NULL DEFAULT 0,
	assigned_agent_id       TEXT,
	status                  TEXT NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	approved_at             TIMESTAMPTZ,
	dispatched_at           TIMESTAMPTZ,
	completed_at            TIMESTAMPTZ,
	estimated_resources     JSONB,
	actual_resources        JSONB,
	services_touched        JSONB,
	outcome                 JSONB,
	failure_classification  TEXT NOT NULL DEFAULT '',
	retry_count             INTEGER NOT NULL DEFAULT 0,
	idempotency_key         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tasks_plan_id ON tasks (plan_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
CREATE INDEX IF NOT EXISTS idx_tasks_agent_id ON tasks (assigned_agent_id);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_services_touched ON tasks USING GIN (services_touched);

CREATE TABLE IF NOT EXISTS execution_steps (
	id             BIGSERIAL PRIMARY KEY,
	task_id        TEXT NOT NULL REFERENCES tasks(id),
	ordinal        INTEGER NOT NULL,
	agent_id       TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT '',
	output_summary TEXT NOT NULL DEFAULT '',
	timestamp      TIMESTAMPTZ NOT NULL DEFAULT now(),
	duration_ms    BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_execution_steps_task_id ON execution_steps (task_id, ordinal);

CREATE TABLE IF NOT EXISTS pause_entries (
	task_id          TEXT PRIMARY KEY REFERENCES tasks(id),
	reason           TEXT NOT NULL DEFAULT '',
	dispatch_payload JSONB NOT NULL,
	paused_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	not_before       TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
