package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	UserID   string `json:"userId"`
	Quantity int    `json:"quantity"`
}

func TestCodec_EnvelopeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	msg := NewCommand("m-1", "inventory.grant-items", "corr-1", samplePayload{UserID: "u", Quantity: 3})
	msg.Timestamp = ts

	data, err := Marshal(msg)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "m-1", decoded.ID)
	assert.Equal(t, "inventory.grant-items", decoded.Type)
	assert.True(t, ts.Equal(decoded.Timestamp))
	assert.Equal(t, "corr-1", CorrelationID(decoded))
	assert.Equal(t, KindCommand, Kind(decoded))

	raw, ok := decoded.Payload.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"userId":"u","quantity":3}`, string(raw))
}

func TestCodec_RawPayloadPassThrough(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	out, err := MarshalPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	out, err = MarshalPayload(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestCodec_RejectsMalformed(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"id":"x"}`))
	assert.Error(t, err)
}
