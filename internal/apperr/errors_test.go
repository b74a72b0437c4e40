package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/homelabops/orchestrator/internal/codec"
)

func TestIsRetryableMatchesWireRegistry(t *testing.T) {
	assert.True(t, IsRetryable(codec.ErrTimeout))
	assert.True(t, IsRetryable(codec.ErrAgentUnavailable))
	assert.True(t, IsRetryable(codec.ErrResourceLimit))
	assert.False(t, IsRetryable(codec.ErrInvalidMessage))
	assert.False(t, IsRetryable(codec.ErrUnsupportedProtoVersion))
}

func TestIsProtocolError(t *testing.T) {
	assert.True(t, IsProtocolError(codec.ErrInvalidMessage))
	assert.True(t, IsProtocolError(codec.ErrUnsupportedProtoVersion))
	assert.False(t, IsProtocolError(codec.ErrTimeout))
}

func TestOrchestratorErrorWrapsAndUnwraps(t *testing.T) {
	err := New("orchestrator.Approve", "store", "plan-1", ErrPlanNotFound)
	assert.ErrorIs(t, err, ErrPlanNotFound)
	assert.Contains(t, err.Error(), "plan-1")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrPlanNotFound))
	assert.False(t, IsNotFound(errors.New("some other error")))
}
