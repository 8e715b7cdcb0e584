package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"casedesk/internal/events"
)

// Listener receives the payload of a frame (or the whole frame when it has
// no payload). A returned error is logged; it never stops dispatch.
type Listener func(data json.RawMessage) error

// ListenerID identifies a registration for Off.
type ListenerID uint64

type registeredListener struct {
	id       ListenerID
	listener Listener
}

// Dispatcher turns inbound wire frames into routed listener calls and bus events.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    ListenerID
	listeners map[string][]registeredListener
	bus       events.Publisher
	logger    *slog.Logger
}

func NewDispatcher(bus events.Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		listeners: make(map[string][]registeredListener),
		bus:       bus,
		logger:    logger,
	}
}

// On registers l for frames of exactly kind.
func (d *Dispatcher) On(kind string, l Listener) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.listeners[kind] = append(d.listeners[kind], registeredListener{id: d.nextID, listener: l})
	return d.nextID
}

// Off removes a registration. Unknown ids are ignored.
func (d *Dispatcher) Off(kind string, id ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.listeners[kind]
	for i, rl := range list {
		if rl.id != id {
			continue
		}
		next := make([]registeredListener, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(d.listeners, kind)
		} else {
			d.listeners[kind] = next
		}
		return
	}
}

// ListenerCount returns the number of listeners registered for kind.
func (d *Dispatcher) ListenerCount(kind string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[kind])
}

// Dispatch parses raw and routes it. Malformed frames are logged and dropped.
func (d *Dispatcher) Dispatch(raw []byte) {
	frame, err := ParseFrame(raw)
	if err != nil {
		reason := "invalid_json"
		if errors.Is(err, ErrMissingKind) {
			reason = "missing_kind"
		}
		framesDropped.WithLabelValues(reason).Inc()
		d.logger.Warn("frame_dropped",
			"reason", reason,
			"size", len(raw),
			"error", err.Error(),
		)
		return
	}
	d.DispatchFrame(frame)
}

// DispatchFrame invokes listeners for the frame kind in registration order,
// then re-publishes well-known kinds on the bus.
func (d *Dispatcher) DispatchFrame(frame *Frame) {
	framesReceived.WithLabelValues(frame.Kind).Inc()

	d.mu.RLock()
	targets := append([]registeredListener(nil), d.listeners[frame.Kind]...)
	d.mu.RUnlock()

	data := frame.Data()
	for _, rl := range targets {
		if err := d.invoke(rl, data); err != nil {
			listenerFailures.WithLabelValues(frame.Kind).Inc()
			d.logger.Error("listener_failed",
				"kind", frame.Kind,
				"listener_id", rl.id,
				"error", err.Error(),
			)
		}
	}

	if d.bus != nil && wellKnownKinds[frame.Kind] {
		ts := frame.Time()
		if ts.IsZero() {
			ts = time.Now()
		}
		d.bus.Publish(events.Event{Kind: frame.Kind, Data: data, Timestamp: ts})
	}
}

func (d *Dispatcher) invoke(rl registeredListener, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return rl.listener(data)
}
