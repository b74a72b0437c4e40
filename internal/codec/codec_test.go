package codec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEnvelope() *Envelope {
	return &Envelope{
		ProtocolVersion: ProtocolVersion,
		MessageID:       uuid.NewString(),
		FromAgent:       "orchestrator",
		ToAgent:         "ansible-runner",
		Timestamp:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		TraceID:         uuid.NewString(),
		RequestID:       uuid.NewString(),
		Type:            TypeWorkRequest,
		Payload: map[string]interface{}{
			"task_id":   "t-1",
			"work_type": "run_playbook",
		},
		Extensions: map[string]interface{}{},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := sampleEnvelope()

	data, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, decoded.MessageID)
	assert.Equal(t, env.Type, decoded.Type)
	assert.Equal(t, env.Payload["task_id"], decoded.Payload["task_id"])

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, data, again, "decode(encode(e)) must round-trip byte-stable")
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	data := []byte(`{"protocol_version":"1.0","message_id":"m1","type":"work_request","payload":{},"bogus_field":true}`)
	_, err := Decode(data)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, ErrInvalidMessage, decErr.Code)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	env := sampleEnvelope()
	env.ProtocolVersion = "2.0"
	data, err := Encode(env)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, ErrUnsupportedProtoVersion, decErr.Code)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	data := []byte(`{"protocol_version":"1.0","message_id":"m1","type":"bogus","payload":{}}`)
	_, err := Decode(data)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, ErrInvalidMessage, decErr.Code)
}

func TestChunkOutputRoundTrip(t *testing.T) {
	big := make([]byte, MaxInlinePayloadBytes*2+17)
	for i := range big {
		big[i] = byte('a' + i%26)
	}

	chunks := ChunkOutput("t-1", "render_config", 2, string(big))
	assert.Len(t, chunks, 3)

	reassembled, err := ReassembleChunks(chunks)
	require.NoError(t, err)
	assert.Equal(t, string(big), reassembled)
}

func TestChunkOutputSmallPayloadIsSingleChunk(t *testing.T) {
	chunks := ChunkOutput("t-1", "pull_image", 1, "ok")
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].Step.OutputChunk)
	assert.Equal(t, "ok", chunks[0].Step.Output)
}

func TestErrorCodeRetryable(t *testing.T) {
	assert.True(t, ErrTimeout.Retryable())
	assert.True(t, ErrAgentUnavailable.Retryable())
	assert.True(t, ErrResourceLimit.Retryable())
	assert.False(t, ErrInvalidMessage.Retryable())
	assert.False(t, ErrAuthFailed.Retryable())
	assert.False(t, ErrUnsupportedWorkType.Retryable())
	assert.False(t, ErrUnsupportedProtoVersion.Retryable())
}
