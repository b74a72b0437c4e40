package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/homelabops/orchestrator/internal/store"
)

func TestClassifyRiskLowForSingleTaskSingleService(t *testing.T) {
	tasks := []DraftTask{{WorkType: "run_playbook", Services: []string{"svc-a"}}}
	assert.Equal(t, store.RiskLow, ClassifyRisk(tasks, DefaultRiskConfig()))
}

func TestClassifyRiskMediumForTaskCount(t *testing.T) {
	tasks := []DraftTask{
		{WorkType: "run_playbook", Services: []string{"svc-a"}},
		{WorkType: "run_playbook", Services: []string{"svc-b"}},
	}
	assert.Equal(t, store.RiskMedium, ClassifyRisk(tasks, DefaultRiskConfig()))
}

func TestClassifyRiskMediumForHighMemory(t *testing.T) {
	tasks := []DraftTask{{WorkType: "run_playbook", MaxMemoryMB: 8192}}
	assert.Equal(t, store.RiskMedium, ClassifyRisk(tasks, DefaultRiskConfig()))
}

func TestClassifyRiskHighForDestructiveWorkType(t *testing.T) {
	tasks := []DraftTask{{WorkType: "deploy_service", Services: []string{"svc-a"}}}
	assert.Equal(t, store.RiskHigh, ClassifyRisk(tasks, DefaultRiskConfig()))
}

func TestClassifyRiskHighForManyServices(t *testing.T) {
	tasks := []DraftTask{{WorkType: "run_playbook", Services: []string{"a", "b", "c", "d"}}}
	assert.Equal(t, store.RiskHigh, ClassifyRisk(tasks, DefaultRiskConfig()))
}

func TestClassifyRiskHighForManyTasks(t *testing.T) {
	tasks := make([]DraftTask, 5)
	for i := range tasks {
		tasks[i] = DraftTask{WorkType: "run_playbook"}
	}
	assert.Equal(t, store.RiskHigh, ClassifyRisk(tasks, DefaultRiskConfig()))
}

func TestAutoWireResolvesDottedPath(t *testing.T) {
	outputs := StepOutput{"path": "/etc/config.yaml", "nested": map[string]interface{}{"id": "x1"}}
	v, ok := autoWire(outputs, "nested.id")
	assert.True(t, ok)
	assert.Equal(t, "x1", v)
}

func TestAutoWireFailsOnUnknownSegment(t *testing.T) {
	outputs := StepOutput{"path": "/etc/config.yaml"}
	_, ok := autoWire(outputs, "missing")
	assert.False(t, ok)
}

func TestResolveBindsStructuralReferenceWithoutLLM(t *testing.T) {
	r := NewResolver(nil, "")
	params := map[string]interface{}{
		"config_path": "${steps.render_config.output.path}",
		"literal":     "unchanged",
	}
	outputs := map[string]StepOutput{
		"render_config": {"path": "/etc/app.yaml"},
	}
	resolved, err := r.Resolve(nil, params, outputs)
	assert.NoError(t, err)
	assert.Equal(t, "/etc/app.yaml", resolved["config_path"])
	assert.Equal(t, "unchanged", resolved["literal"])
}

func TestCatalogTracksWorkTypesAndRemovesOnAgentRemoval(t *testing.T) {
	cat := NewCatalog()
	cat.Upsert(&AgentCapabilities{
		AgentID: "agent-1",
		Capabilities: []Capability{
			{WorkType: "run_playbook", Description: "Runs an Ansible playbook. Returns a result."},
		},
	})
	assert.True(t, cat.KnownWorkTypes()["run_playbook"])

	cat.Remove("agent-1")
	assert.False(t, cat.KnownWorkTypes()["run_playbook"])
}

func TestCapabilitySummaryFallsBackToFirstSentence(t *testing.T) {
	c := Capability{Description: "Runs an Ansible playbook. Has many options."}
	assert.Equal(t, "Runs an Ansible playbook.", c.GetSummary())
}
