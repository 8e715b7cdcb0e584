package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"kind":"notification","payload":{"id":7,"title":"Prazo"},"timestamp":"2026-03-01T10:00:00Z"}`))
	require.NoError(t, err)

	assert.Equal(t, KindNotification, frame.Kind)
	assert.JSONEq(t, `{"id":7,"title":"Prazo"}`, string(frame.Data()))
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), frame.Time())
}

func TestParseFrame_Malformed(t *testing.T) {
	_, err := ParseFrame([]byte(`{not json`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingKind)

	_, err = ParseFrame([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrMissingKind)
}

func TestFrame_DataFallsBackToWholeFrame(t *testing.T) {
	raw := []byte(`{"kind":"system_message","message":"Manutenção às 22h","messageKind":"warning"}`)
	frame, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(frame.Data()))

	frame, err = ParseFrame([]byte(`{"kind":"pong","payload":null}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"pong","payload":null}`, string(frame.Data()))
}

func TestFrame_TimeInvalid(t *testing.T) {
	frame := &Frame{Kind: KindPong, Timestamp: "yesterday"}
	assert.True(t, frame.Time().IsZero())
}

func TestClientFrames(t *testing.T) {
	data, err := NewPingFrame().ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"ping"}`, string(data))

	data, err = NewNotificationReadFrame(42).ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"notification_read","notificationId":42}`, string(data))
}

func TestNewServerFrame(t *testing.T) {
	frame, err := NewServerFrame(KindTaskUpdate, map[string]string{"title": "Protocolar petição"})
	require.NoError(t, err)

	assert.Equal(t, KindTaskUpdate, frame.Kind)
	assert.False(t, frame.Time().IsZero())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "Protocolar petição", payload["title"])

	_, err = NewServerFrame(KindTaskUpdate, make(chan int))
	assert.Error(t, err)
}
