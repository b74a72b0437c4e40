package codec

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a failure to decode a wire envelope, carrying the
// error code from the spec §6 registry so callers can reply with a typed
// error envelope.
type DecodeError struct {
	Code    ErrorCode
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error %d: %s", e.Code, e.Message)
}

// allowedFields mirrors the envelope's JSON tags; anything else present in
// the wire bytes is an unknown top-level field and must be rejected per
// spec §4.1.
var allowedFields = map[string]struct{}{
	"protocol_version": {},
	"message_id":        {},
	"from_agent":        {},
	"to_agent":          {},
	"timestamp":         {},
	"trace_id":          {},
	"request_id":        {},
	"type":              {},
	"payload":           {},
	"extensions":        {},
}

// Encode serializes an envelope to its canonical wire form. Field ordering
// is fixed by the struct definition, so two encodes of the same logical
// envelope always produce byte-identical output — the round-trip property
// required by spec §8.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, &DecodeError{Code: ErrInvalidMessage, Message: "nil envelope"}
	}
	if env.ProtocolVersion == "" {
		env.ProtocolVersion = ProtocolVersion
	}
	return json.Marshal(env)
}

// Decode parses wire bytes into an envelope, enforcing the unknown-field
// and protocol-version rules from spec §4.1.
func Decode(data []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Code: ErrInvalidMessage, Message: err.Error()}
	}

	for key := range raw {
		if _, ok := allowedFields[key]; !ok {
			return nil, &DecodeError{
				Code:    ErrInvalidMessage,
				Message: fmt.Sprintf("unknown top-level field %q", key),
			}
		}
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Code: ErrInvalidMessage, Message: err.Error()}
	}

	if env.ProtocolVersion != ProtocolVersion {
		return nil, &DecodeError{
			Code:    ErrUnsupportedProtoVersion,
			Message: fmt.Sprintf("unsupported protocol version %q", env.ProtocolVersion),
		}
	}

	if env.Type != TypeWorkRequest && env.Type != TypeWorkStatus &&
		env.Type != TypeWorkResult && env.Type != TypeError {
		return nil, &DecodeError{
			Code:    ErrInvalidMessage,
			Message: fmt.Sprintf("unknown message type %q", env.Type),
		}
	}

	return &env, nil
}

// DecodePayload re-marshals an envelope's loosely-typed payload map into a
// concrete payload struct (WorkRequestPayload, WorkStatusPayload, ...).
func DecodePayload(env *Envelope, out interface{}) error {
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return &DecodeError{Code: ErrInvalidMessage, Message: err.Error()}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{Code: ErrInvalidMessage, Message: err.Error()}
	}
	return nil
}

// EncodePayload converts a concrete payload struct into the envelope's
// loosely-typed payload map.
func EncodePayload(in interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChunkOutput splits an oversized output string into a sequence of
// output_chunk step-progress values, per the size rule in spec §4.1.
func ChunkOutput(taskID, stepName string, stepNumber int, output string) []WorkStatusPayload {
	total := int64(len(output))
	if total <= MaxInlinePayloadBytes {
		return []WorkStatusPayload{{
			TaskID: taskID,
			Status: WorkStatusStepCompleted,
			Step: &StepProgress{
				Number: stepNumber,
				Name:   stepName,
				Output: output,
			},
		}}
	}

	var chunks []WorkStatusPayload
	for from := int64(0); from < total; from += MaxInlinePayloadBytes {
		to := from + MaxInlinePayloadBytes
		if to > total {
			to = total
		}
		chunks = append(chunks, WorkStatusPayload{
			TaskID: taskID,
			Status: WorkStatusStepCompleted,
			Step: &StepProgress{
				Number: stepNumber,
				Name:   stepName,
				OutputChunk: &ChunkRange{
					From:  from,
					To:    to,
					Total: total,
				},
				Output: output[from:to],
			},
		})
	}
	return chunks
}

// ReassembleChunks reconstructs the original output from an ordered
// sequence of output_chunk work_status payloads, keyed by offset so
// out-of-order delivery within the sequence still reassembles correctly.
func ReassembleChunks(chunks []WorkStatusPayload) (string, error) {
	if len(chunks) == 0 {
		return "", nil
	}
	total := chunks[0].Step.OutputChunk.Total
	buf := make([]byte, total)
	var filled int64
	for _, c := range chunks {
		if c.Step == nil || c.Step.OutputChunk == nil {
			return "", fmt.Errorf("chunk missing output_chunk range")
		}
		r := c.Step.OutputChunk
		if r.Total != total {
			return "", fmt.Errorf("inconsistent total across chunks: %d != %d", r.Total, total)
		}
		copy(buf[r.From:r.To], c.Step.Output)
		filled += r.To - r.From
	}
	if filled != total {
		return "", fmt.Errorf("incomplete reassembly: got %d of %d bytes", filled, total)
	}
	return string(buf), nil
}
