package emitter

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/emotion-sensor/internal/config"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

type sent struct {
	topic   string
	qos     byte
	payload []byte
}

func testEmitter(t *testing.T, format string) (*MQTTEmitter, *[]sent) {
	t.Helper()
	cfg, err := config.Parse([]byte(`
instance_id: kiosk-1
model:
  path: models/emotion.onnx
mqtt:
  payload_format: ` + format + `
`))
	require.NoError(t, err)

	e := NewMQTTEmitter(cfg)
	var out []sent
	e.send = func(topic string, qos byte, payload []byte) error {
		out = append(out, sent{topic, qos, payload})
		return nil
	}
	return e, &out
}

func snapshot() types.Snapshot {
	return types.Snapshot{
		Results: []types.EmotionScore{{Label: types.LabelHappy, Confidence: 0.81}},
		Seq:     42,
		Faces:   1,
		TraceID: "trace-42",
		At:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// TestOnResultsJSON validates the results topic receives the snapshot as JSON.
func TestOnResultsJSON(t *testing.T) {
	e, out := testEmitter(t, "json")

	e.OnResults(snapshot())

	require.Len(t, *out, 1)
	msg := (*out)[0]
	assert.Equal(t, "emotion/results/kiosk-1", msg.topic)
	assert.Equal(t, byte(0), msg.qos)

	var decoded ResultsMessage
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "kiosk-1", decoded.InstanceID)
	assert.Equal(t, uint64(42), decoded.Seq)
	require.Len(t, decoded.Results, 1)
	assert.Equal(t, types.LabelHappy, decoded.Results[0].Label)

	assert.Equal(t, uint64(1), e.Stats().Published["emotion/results/kiosk-1"])
	t.Logf("✅ JSON payload: %s", msg.payload)
}

// TestOnResultsMsgpack validates the msgpack payload format.
func TestOnResultsMsgpack(t *testing.T) {
	e, out := testEmitter(t, "msgpack")

	e.OnResults(snapshot())

	require.Len(t, *out, 1)
	var decoded ResultsMessage
	require.NoError(t, msgpack.Unmarshal((*out)[0].payload, &decoded))
	assert.Equal(t, "trace-42", decoded.TraceID)
	assert.InDelta(t, 0.81, decoded.Results[0].Confidence, 1e-6)
}

// TestEmptyResultsEncodeAsArray validates a cleared list is sent as [] not null.
func TestEmptyResultsEncodeAsArray(t *testing.T) {
	e, out := testEmitter(t, "json")

	e.OnResults(types.Snapshot{Results: []types.EmotionScore{}})

	require.Len(t, *out, 1)
	assert.Contains(t, string((*out)[0].payload), `"results":[]`)
}

// TestOnErrorUsesErrorsTopic validates error messages go to the errors topic with its QoS.
func TestOnErrorUsesErrorsTopic(t *testing.T) {
	e, out := testEmitter(t, "json")

	e.OnError("Face detection failed: boom")

	require.Len(t, *out, 1)
	assert.Equal(t, "emotion/errors/kiosk-1", (*out)[0].topic)
	assert.Equal(t, byte(1), (*out)[0].qos)

	var decoded ErrorMessage
	require.NoError(t, json.Unmarshal((*out)[0].payload, &decoded))
	assert.Equal(t, "Face detection failed: boom", decoded.Error)
}

// TestSendFailureCounted validates failed publishes are counted and not retried.
func TestSendFailureCounted(t *testing.T) {
	e, _ := testEmitter(t, "json")
	e.send = func(string, byte, []byte) error { return errors.New("broker down") }

	e.OnResults(snapshot())
	e.OnError("x")

	stats := e.Stats()
	assert.Equal(t, uint64(2), stats.Errors)
	assert.Empty(t, stats.Published)
}

// TestNotConnected validates the real sender refuses to publish before Connect.
func TestNotConnected(t *testing.T) {
	e := NewMQTTEmitter(&config.Config{InstanceID: "x"})
	assert.Error(t, e.publishMQTT("t", 0, nil))
	assert.NoError(t, e.Disconnect())
}

func TestEncodeUnknownFormat(t *testing.T) {
	_, err := Encode("xml", ErrorMessage{})
	assert.Error(t, err)
}
