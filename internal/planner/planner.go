package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/homelabops/orchestrator/internal/llm"
	"github.com/homelabops/orchestrator/internal/store"
	"github.com/homelabops/orchestrator/internal/telemetry"
)

// ErrHallucinatedWorkType is returned when the LLM's plan names a
// work_type never offered in the catalogue summaries sent in the prompt
// (teacher: orchestration/interfaces.go HallucinationValidationEnabled).
type ErrHallucinatedWorkType struct {
	WorkType string
}

func (e *ErrHallucinatedWorkType) Error() string {
	return fmt.Sprintf("planner: work_type %q was not offered in the catalogue and was not requested", e.WorkType)
}

// ErrPlanningFailed wraps any failure to produce a valid plan, carrying
// the reason that becomes the Request's failure_reason (spec §4.6).
type ErrPlanningFailed struct {
	Reason string
	Err    error
}

func (e *ErrPlanningFailed) Error() string { return e.Reason + ": " + e.Err.Error() }
func (e *ErrPlanningFailed) Unwrap() error  { return e.Err }

// rawPlan is the shape the LLM is asked to emit (validated by schema.go).
type rawPlan struct {
	Summary string   `json:"summary"`
	Tasks   []rawTask `json:"tasks"`
}

type rawTask struct {
	WorkType           string                 `json:"work_type"`
	Parameters         map[string]interface{} `json:"parameters"`
	ServicesTouched    []string               `json:"services_touched"`
	MaxDurationSeconds int                    `json:"max_duration_seconds"`
	MaxMemoryMB        int                    `json:"max_memory_mb"`
}

// Planner turns a Request into a validated task DAG (spec component C6).
type Planner struct {
	gateway   *llm.Gateway
	catalog   *Catalog
	validator *SchemaValidator
	riskCfg   RiskConfig
	model     string
	logger    telemetry.ComponentLogger
	metrics   *telemetry.Metrics
}

func New(gateway *llm.Gateway, catalog *Catalog, validator *SchemaValidator, model string, logger telemetry.ComponentLogger, metrics *telemetry.Metrics) *Planner {
	if logger == nil {
		logger = telemetry.NewNop()
	}
	return &Planner{
		gateway:   gateway,
		catalog:   catalog,
		validator: validator,
		riskCfg:   DefaultRiskConfig(),
		model:     model,
		logger:    logger.WithComponent("planner"),
		metrics:   metrics,
	}
}

// Plan produces a store.Plan and its store.Tasks for the given request
// text. Returns *ErrPlanningFailed on any failure to produce a valid plan;
// callers should mark the owning Request failed with the wrapped reason.
func (p *Planner) Plan(ctx context.Context, requestID string) (*store.Plan, []*store.Task, error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.PlanningDuration.Observe(time.Since(start).Seconds())
		}
	}()

	summaries := p.catalog.Summaries()
	known := p.catalog.KnownWorkTypes()

	prompt := buildPlanningPrompt(summaries)
	comp, err := p.gateway.Complete(ctx, p.model, []llm.Message{
		{Role: "system", Content: prompt},
	}, llm.Params{Temperature: 0.2, MaxTokens: 2048})
	if err != nil {
		return nil, nil, &ErrPlanningFailed{Reason: "llm_gateway_error", Err: err}
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(comp.Text), &doc); err != nil {
		return nil, nil, &ErrPlanningFailed{Reason: "invalid_json", Err: err}
	}
	if p.validator != nil {
		if err := p.validator.Validate(doc); err != nil {
			return nil, nil, &ErrPlanningFailed{Reason: "schema_validation_failed", Err: err}
		}
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(comp.Text), &raw); err != nil {
		return nil, nil, &ErrPlanningFailed{Reason: "invalid_json", Err: err}
	}

	for _, t := range raw.Tasks {
		if !known[t.WorkType] {
			return nil, nil, &ErrPlanningFailed{Reason: "hallucinated_work_type", Err: &ErrHallucinatedWorkType{WorkType: t.WorkType}}
		}
	}

	drafts := make([]DraftTask, len(raw.Tasks))
	for i, t := range raw.Tasks {
		drafts[i] = DraftTask{WorkType: t.WorkType, MaxMemoryMB: t.MaxMemoryMB, Services: t.ServicesTouched}
	}
	risk := ClassifyRisk(drafts, p.riskCfg)

	now := time.Now()
	plan := &store.Plan{
		ID:             uuid.NewString(),
		RequestID:      requestID,
		Summary:        raw.Summary,
		RiskLevel:      risk,
		ResourceBudget: map[string]interface{}{},
		ApprovalStatus: store.ApprovalPending,
		CreatedAt:      now,
	}

	tasks := make([]*store.Task, 0, len(raw.Tasks))
	for i, t := range raw.Tasks {
		tasks = append(tasks, &store.Task{
			ID:                 uuid.NewString(),
			PlanID:             plan.ID,
			Ordinal:            i,
			WorkType:           t.WorkType,
			Parameters:         t.Parameters,
			MaxDurationSeconds: t.MaxDurationSeconds,
			MaxMemoryMB:        t.MaxMemoryMB,
			Status:             store.TaskPendingApproval,
			CreatedAt:          now,
			ServicesTouched:    t.ServicesTouched,
			IdempotencyKey:     uuid.NewString(),
		})
	}

	p.logger.Info("plan produced", map[string]interface{}{
		"request_id": requestID, "plan_id": plan.ID, "task_count": len(tasks), "risk": risk,
	})
	return plan, tasks, nil
}

func buildPlanningPrompt(summaries []string) string {
	prompt := "You are an infrastructure planning assistant. Produce a JSON plan with a \"summary\" string and a \"tasks\" array. " +
		"Each task has work_type, parameters, services_touched, max_duration_seconds, max_memory_mb. " +
		"Only use work_type values from this catalogue:\n"
	for _, s := range summaries {
		prompt += "- " + s + "\n"
	}
	return prompt
}
