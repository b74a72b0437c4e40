package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelabops/orchestrator/internal/store"
	"github.com/homelabops/orchestrator/internal/telemetry"
)

func sampleArtifact(taskID string) *Artifact {
	return &Artifact{
		TaskID:          taskID,
		DispatchSnapshot: &store.Task{ID: taskID, Status: store.TaskSuccess},
		ExecutionResult: map[string]interface{}{"ok": true},
		ResourcesUsed:   map[string]interface{}{"duration_seconds": 1.5},
		Status:          store.TaskSuccess,
		Timestamp:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRecordWritesArtifactOnce(t *testing.T) {
	w, err := NewWriter(t.TempDir(), telemetry.NewNop())
	require.NoError(t, err)

	written, err := w.Record(context.Background(), sampleArtifact("task-1"))
	require.NoError(t, err)
	assert.True(t, written)

	got, err := w.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, store.TaskSuccess, got.Status)
}

func TestRecordIsIdempotentOnIdenticalContent(t *testing.T) {
	w, err := NewWriter(t.TempDir(), telemetry.NewNop())
	require.NoError(t, err)

	_, err = w.Record(context.Background(), sampleArtifact("task-1"))
	require.NoError(t, err)

	written, err := w.Record(context.Background(), sampleArtifact("task-1"))
	require.NoError(t, err)
	assert.False(t, written, "second identical write must be a no-op per I4")
}

func TestRecordFailsLoudlyOnContentMismatch(t *testing.T) {
	w, err := NewWriter(t.TempDir(), telemetry.NewNop())
	require.NoError(t, err)

	_, err = w.Record(context.Background(), sampleArtifact("task-1"))
	require.NoError(t, err)

	other := sampleArtifact("task-1")
	other.ExecutionResult = map[string]interface{}{"ok": false}

	_, err = w.Record(context.Background(), other)
	require.Error(t, err)
	var mismatch *ErrContentMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestGetMissingArtifactErrors(t *testing.T) {
	w, err := NewWriter(t.TempDir(), telemetry.NewNop())
	require.NoError(t, err)

	_, err = w.Get("does-not-exist")
	assert.Error(t, err)
}
