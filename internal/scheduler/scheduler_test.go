package scheduler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/homelabops/orchestrator/internal/store"
)

func TestShouldPauseBelowThreshold(t *testing.T) {
	s := &Scheduler{capacityThreshold: DefaultCapacityThreshold}
	assert.True(t, s.ShouldPause(AgentCapacity{DeclaredCapacity: 10, ActiveTaskCount: 9}))
	assert.False(t, s.ShouldPause(AgentCapacity{DeclaredCapacity: 10, ActiveTaskCount: 5}))
}

func TestShouldPauseZeroCapacityIsAlwaysPaused(t *testing.T) {
	s := &Scheduler{capacityThreshold: DefaultCapacityThreshold}
	assert.True(t, s.ShouldPause(AgentCapacity{DeclaredCapacity: 0, ActiveTaskCount: 0}))
}

func TestFreeFractionNeverNegative(t *testing.T) {
	cap := AgentCapacity{DeclaredCapacity: 2, ActiveTaskCount: 5}
	assert.Equal(t, 0.0, cap.FreeFraction())
}

type fakeDispatcher struct {
	calls []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, task *store.Task, agentID string) error {
	f.calls = append(f.calls, task.ID)
	return nil
}

func TestDispatchPayloadMarshalsCleanly(t *testing.T) {
	// dispatchPayload is the PauseEntry.DispatchPayload shape; confirm it
	// round-trips through the marshal path Scheduler.dispatchOne uses.
	p := dispatchPayload{TaskID: "t1", AgentID: "a1", WorkType: "run_playbook", Parameters: map[string]interface{}{"x": 1.0}}
	raw, err := json.Marshal(p)
	assert.NoError(t, err)
	var back dispatchPayload
	assert.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "t1", back.TaskID)
	assert.Equal(t, p, back)
}
