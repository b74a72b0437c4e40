// Package apperr provides the orchestrator's application-level error
// shape, grounded in the teacher's core/errors.go FrameworkError: an
// Op/Kind/ID-carrying wrapper usable with errors.Is/As, plus the wire
// error-code registry from spec §6 reused for user-facing classification.
package apperr

import (
	"errors"
	"fmt"

	"github.com/homelabops/orchestrator/internal/codec"
)

var (
	ErrRequestNotFound  = errors.New("request not found")
	ErrPlanNotFound     = errors.New("plan not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrStatusConflict   = errors.New("status conflict")
	ErrPlanNotApprovable = errors.New("plan is not in a state that can be approved")
	ErrUnknownWorkType  = errors.New("unknown work_type")
	ErrOversizedPayload = errors.New("payload exceeds size limit")
	ErrInvalidRequest   = errors.New("invalid request")
)

// OrchestratorError carries operation context around a sentinel or wire
// error, mirroring the teacher's FrameworkError{Op,Kind,ID,Err}.
type OrchestratorError struct {
	Op  string
	Kind string
	ID  string
	Err error
}

func (e *OrchestratorError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

func New(op, kind, id string, err error) *OrchestratorError {
	return &OrchestratorError{Op: op, Kind: kind, ID: id, Err: err}
}

// IsRetryable classifies a wire ErrorCode per spec §6: 5001/5002/5005 are
// retryable, everything else fails immediately.
func IsRetryable(code codec.ErrorCode) bool { return code.Retryable() }

// IsProtocolError reports whether code indicates a malformed or
// version-mismatched message rather than a runtime failure.
func IsProtocolError(code codec.ErrorCode) bool {
	return code == codec.ErrInvalidMessage || code == codec.ErrUnsupportedProtoVersion
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) || errors.Is(err, ErrPlanNotFound) || errors.Is(err, ErrTaskNotFound)
}
