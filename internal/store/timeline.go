package store

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"casedesk/internal/clock"
	"casedesk/internal/events"
)

type EventType string

const (
	EventProcess   EventType = "process"
	EventTask      EventType = "task"
	EventDelivery  EventType = "delivery"
	EventComment   EventType = "comment"
	EventSystem    EventType = "system"
	EventFinancial EventType = "financial"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusInfo    Status = "info"
)

// ParseStatus defaults unknown values to info.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusSuccess, StatusWarning, StatusError:
		return Status(s)
	default:
		return StatusInfo
	}
}

// TimelineEvent is one entry of the case audit trail.
type TimelineEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	User          string            `json:"user"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        Status            `json:"status"`
	ProcessNumber string            `json:"processNumber,omitempty"`
	Attachments   []string          `json:"attachments,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TimelineStore is append-only and kept sorted newest first.
type TimelineStore struct {
	mu      sync.RWMutex
	items   []TimelineEvent
	entropy io.Reader

	bus    events.Publisher
	clock  clock.Clock
	logger *slog.Logger
}

func NewTimelineStore(bus events.Publisher, opts ...Option) *TimelineStore {
	o := buildOptions(opts)
	return &TimelineStore{
		entropy: ulid.Monotonic(rand.Reader, 0),
		bus:     bus,
		clock:   o.clock,
		logger:  o.logger,
	}
}

// Append assigns an id, stamps the current time when the candidate has no
// timestamp, and re-sorts the collection descending by timestamp. Events
// with equal timestamps keep insertion order.
func (s *TimelineStore) Append(candidate TimelineEvent) TimelineEvent {
	now := s.clock.Now()

	s.mu.Lock()
	e := candidate
	e.ID = ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Status == "" {
		e.Status = StatusInfo
	}
	e.Attachments = append([]string(nil), candidate.Attachments...)
	e.Metadata = cloneMetadata(candidate.Metadata)

	s.items = append(s.items, e)
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].Timestamp.After(s.items[j].Timestamp)
	})
	total := len(s.items)
	s.mu.Unlock()

	s.logger.Debug("timeline_event_appended",
		"id", e.ID,
		"type", e.Type,
		"process_number", e.ProcessNumber,
	)
	s.publish(total)
	return e
}

// List returns a copy of all events, newest first.
func (s *TimelineStore) List() []TimelineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TimelineEvent(nil), s.items...)
}

// ByProcess returns the events tied to a process number.
func (s *TimelineStore) ByProcess(processNumber string) []TimelineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TimelineEvent
	for _, e := range s.items {
		if e.ProcessNumber == processNumber {
			out = append(out, e)
		}
	}
	return out
}

func (s *TimelineStore) ByType(t EventType) []TimelineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TimelineEvent
	for _, e := range s.items {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *TimelineStore) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
	s.publish(0)
}

func (s *TimelineStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *TimelineStore) publish(total int) {
	if s.bus == nil {
		return
	}
	data, _ := json.Marshal(map[string]int{"total": total})
	s.bus.Publish(events.Event{
		Kind:      events.KindTimelineChanged,
		Data:      data,
		Timestamp: s.clock.Now(),
	})
}
