// Package codec implements the wire envelope exchanged between the
// orchestrator and remote worker agents (spec component C1).
package codec

import "time"

// ProtocolVersion is the only wire version this build understands.
const ProtocolVersion = "1.0"

// MessageType is the closed set of envelope kinds.
type MessageType string

const (
	TypeWorkRequest MessageType = "work_request"
	TypeWorkStatus  MessageType = "work_status"
	TypeWorkResult  MessageType = "work_result"
	TypeError       MessageType = "error"
)

// MaxInlinePayloadBytes is the size rule from spec §4.1: any payload field
// whose UTF-8 length exceeds this must be chunked across multiple
// work_status messages carrying an output_chunk tag.
const MaxInlinePayloadBytes = 256 * 1024

// Envelope is the bit-exact wire structure from spec §6.
type Envelope struct {
	ProtocolVersion string                 `json:"protocol_version"`
	MessageID       string                 `json:"message_id"`
	FromAgent       string                 `json:"from_agent"`
	ToAgent         string                 `json:"to_agent"`
	Timestamp       time.Time              `json:"timestamp"`
	TraceID         string                 `json:"trace_id"`
	RequestID       string                 `json:"request_id"`
	Type            MessageType            `json:"type"`
	Payload         map[string]interface{} `json:"payload"`
	Extensions      map[string]interface{} `json:"extensions"`
}

// WorkRequestPayload is the typed payload for a work_request envelope.
type WorkRequestPayload struct {
	TaskID     string                 `json:"task_id"`
	WorkType   string                 `json:"work_type"`
	Parameters map[string]interface{} `json:"parameters"`
	Hints      TaskHints              `json:"hints"`
}

// TaskHints carries scheduling hints for a dispatched task.
type TaskHints struct {
	MaxDurationSeconds int `json:"max_duration_seconds,omitempty"`
	MaxMemoryMB        int `json:"max_memory_mb,omitempty"`
}

// WorkStatusStatus is the closed set of statuses a work_status may report.
type WorkStatusStatus string

const (
	WorkStatusRunning       WorkStatusStatus = "running"
	WorkStatusStepCompleted WorkStatusStatus = "step_completed"
	WorkStatusPaused        WorkStatusStatus = "paused"
)

// WorkStatusPayload is the typed payload for a work_status envelope.
type WorkStatusPayload struct {
	TaskID          string           `json:"task_id"`
	Status          WorkStatusStatus `json:"status"`
	ProgressPercent float64          `json:"progress_percent"`
	Step            *StepProgress    `json:"step,omitempty"`
}

// StepProgress describes the step a work_status update refers to.
type StepProgress struct {
	Number      int         `json:"number"`
	Name        string      `json:"name"`
	Output      string      `json:"output,omitempty"`
	OutputChunk *ChunkRange `json:"output_chunk,omitempty"`
}

// ChunkRange identifies a byte range of a larger chunked output, per the
// size rule in spec §4.1: "bytes X-Y of Z".
type ChunkRange struct {
	From  int64 `json:"from"`
	To    int64 `json:"to"`
	Total int64 `json:"total"`
}

// WorkResultStatus is the closed set of terminal statuses a work_result may report.
type WorkResultStatus string

const (
	WorkResultSuccess WorkResultStatus = "success"
	WorkResultFailed  WorkResultStatus = "failed"
)

// WorkResultPayload is the typed payload for a work_result envelope.
type WorkResultPayload struct {
	TaskID         string         `json:"task_id"`
	Status         WorkResultStatus `json:"status"`
	ExitCode       int            `json:"exit_code"`
	Output         string         `json:"output"`
	ResourcesUsed  ResourcesUsed  `json:"resources_used"`
}

// ResourcesUsed records what a task actually consumed.
type ResourcesUsed struct {
	DurationSeconds float64 `json:"duration_seconds"`
	GPUVRAMMb       int     `json:"gpu_vram_mb,omitempty"`
	CPUTimeMs       int64   `json:"cpu_time_ms"`
}

// ErrorPayload is the typed payload for an error envelope.
type ErrorPayload struct {
	ErrorCode    ErrorCode              `json:"error_code"`
	ErrorMessage string                 `json:"error_message"`
	ErrorContext map[string]interface{} `json:"error_context,omitempty"`
}

// ErrorCode is the registry from spec §6 (5001..5999).
type ErrorCode int

const (
	ErrTimeout                  ErrorCode = 5001
	ErrAgentUnavailable         ErrorCode = 5002
	ErrInvalidMessage           ErrorCode = 5003
	ErrAuthFailed               ErrorCode = 5004
	ErrResourceLimit            ErrorCode = 5005
	ErrUnsupportedWorkType      ErrorCode = 5006
	ErrUnsupportedProtoVersion  ErrorCode = 5007
)

// Retryable reports whether the retry policy in spec §4.8 applies to this code.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrTimeout, ErrAgentUnavailable, ErrResourceLimit:
		return true
	default:
		return false
	}
}
