package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event kinds published outside of the wire kinds re-broadcast by the dispatcher.
const (
	KindNotificationsChanged = "notifications_changed"
	KindTimelineChanged      = "timeline_changed"
	KindConnectionState      = "connection_state"
)

// Event is a loosely-typed process-wide event. Data carries the frame
// payload for wire kinds and a small JSON document for local kinds.
type Event struct {
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type Handler func(Event)

// Publisher is the side of the bus stores and managers depend on.
type Publisher interface {
	Publish(Event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an explicit publish/subscribe hub. Handlers run synchronously on
// the publishing goroutine in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	byKind map[string][]subscription
	all    []subscription // wildcard subscribers
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		byKind: make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers h for kind and returns a func that removes it.
// The returned func is safe to call more than once.
func (b *Bus) Subscribe(kind string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.byKind[kind] = append(b.byKind[kind], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byKind[kind] = removeSubscription(b.byKind[kind], id)
		if len(b.byKind[kind]) == 0 {
			delete(b.byKind, kind)
		}
	}
}

// SubscribeAll registers h for every event kind.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeSubscription(b.all, id)
	}
}

// Publish delivers e to kind subscribers first, then wildcard subscribers.
// A panicking handler is logged and skipped.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.byKind[e.Kind])+len(b.all))
	targets = append(targets, b.byKind[e.Kind]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, e)
	}
}

func (b *Bus) deliver(sub subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event_handler_panic",
				"kind", e.Kind,
				"subscription_id", sub.id,
				"panic", r,
			)
		}
	}()
	sub.handler(e)
}

// SubscriberCount reports how many handlers receive kind, wildcards included.
func (b *Bus) SubscriberCount(kind string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byKind[kind]) + len(b.all)
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	for i, sub := range subs {
		if sub.id == id {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}
