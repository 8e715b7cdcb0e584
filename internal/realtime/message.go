package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frame kinds exchanged with the backend
const (
	KindNotification     = "notification"      // server: new notification for the user
	KindTaskUpdate       = "task_update"       // server: task changed
	KindProcessUpdate    = "process_update"    // server: process (lawsuit) changed
	KindSystemMessage    = "system_message"    // server: free-form system text
	KindPong             = "pong"              // server: heartbeat acknowledgement
	KindPing             = "ping"              // client: heartbeat
	KindNotificationRead = "notification_read" // client: read acknowledgement
)

// wellKnownKinds are re-published on the event bus after listener dispatch.
var wellKnownKinds = map[string]bool{
	KindNotification:  true,
	KindTaskUpdate:    true,
	KindProcessUpdate: true,
	KindSystemMessage: true,
	KindPong:          true,
}

var ErrMissingKind = errors.New("frame has no kind")

// Frame is one discrete structured message on the realtime channel.
type Frame struct {
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
	Message        string          `json:"message,omitempty"`
	MessageKind    string          `json:"messageKind,omitempty"`
	NotificationID *int64          `json:"notificationId,omitempty"`

	raw []byte // original bytes, handed to listeners when there is no payload
}

// ParseFrame decodes an inbound frame. Frames without a kind are rejected.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if f.Kind == "" {
		return nil, ErrMissingKind
	}
	f.raw = append([]byte(nil), data...)
	return &f, nil
}

// Data returns the payload, or the whole frame when no payload was sent.
func (f *Frame) Data() json.RawMessage {
	if len(f.Payload) > 0 && !bytes.Equal(bytes.TrimSpace(f.Payload), []byte("null")) {
		return f.Payload
	}
	if f.raw != nil {
		return f.raw
	}
	data, _ := json.Marshal(f)
	return data
}

// Time parses the frame timestamp; zero when absent or unparseable.
func (f *Frame) Time() time.Time {
	if f.Timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, f.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ToJSON marshals the frame for the wire
func (f Frame) ToJSON() ([]byte, error) {
	return json.Marshal(f)
}

// NewPingFrame builds the heartbeat frame {"kind":"ping"}
func NewPingFrame() Frame {
	return Frame{Kind: KindPing}
}

// NewNotificationReadFrame builds the read acknowledgement for a backend notification id
func NewNotificationReadFrame(notificationID int64) Frame {
	return Frame{Kind: KindNotificationRead, NotificationID: &notificationID}
}

// NewServerFrame builds a server-side frame stamped with the current time.
func NewServerFrame(kind string, payload any) (Frame, error) {
	f := Frame{Kind: kind, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		f.Payload = data
	}
	return f, nil
}
