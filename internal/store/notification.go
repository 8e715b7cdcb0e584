package store

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"casedesk/internal/clock"
	"casedesk/internal/events"
)

// Severity is the visual kind of a notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity maps free-form kinds onto a Severity, defaulting to info.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeveritySuccess, SeverityWarning, SeverityError:
		return Severity(s)
	default:
		return SeverityInfo
	}
}

type Category string

const (
	CategoryTask     Category = "task"
	CategoryProcess  Category = "process"
	CategorySystem   Category = "system"
	CategoryDeadline Category = "deadline"
	CategoryPayment  Category = "payment"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryTask, CategoryProcess, CategorySystem, CategoryDeadline, CategoryPayment:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Notification is one entry in the user's notification center.
type Notification struct {
	ID        string            `json:"id"`
	RemoteID  int64             `json:"remoteId,omitempty"` // backend id, 0 for local records
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Severity  Severity          `json:"type"`
	Category  Category          `json:"category"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
	Priority  Priority          `json:"priority"`
	Link      string            `json:"link,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Option configures a store.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.Real(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NotificationStore is the in-memory source of truth for notifications,
// newest first. The unread count is recomputed on every mutation.
type NotificationStore struct {
	mu          sync.RWMutex
	items       []Notification
	unreadCount int

	bus    events.Publisher
	clock  clock.Clock
	logger *slog.Logger
}

func NewNotificationStore(bus events.Publisher, opts ...Option) *NotificationStore {
	o := buildOptions(opts)
	return &NotificationStore{
		bus:    bus,
		clock:  o.clock,
		logger: o.logger,
	}
}

// Add assigns an id and creation time, marks the candidate unread and
// prepends it. The stored record is returned.
func (s *NotificationStore) Add(candidate Notification) Notification {
	s.mu.Lock()
	n := candidate
	n.ID = uuid.NewString()
	n.CreatedAt = s.clock.Now()
	n.Read = false
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	n.Metadata = cloneMetadata(candidate.Metadata)

	s.items = append([]Notification{n}, s.items...)
	s.recountLocked()
	unread, total := s.unreadCount, len(s.items)
	s.mu.Unlock()

	s.logger.Debug("notification_added",
		"id", n.ID,
		"remote_id", n.RemoteID,
		"category", n.Category,
		"unread", unread,
	)
	s.publish(unread, total)
	return n
}

// MarkAsRead flips the read flag of id. Returns false for unknown ids.
func (s *NotificationStore) MarkAsRead(id string) (Notification, bool) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return Notification{}, false
	}
	s.items[idx].Read = true
	n := s.items[idx]
	s.recountLocked()
	unread, total := s.unreadCount, len(s.items)
	s.mu.Unlock()

	s.publish(unread, total)
	return n, true
}

// MarkAllAsRead marks every record read and returns the records that were
// unread before the call.
func (s *NotificationStore) MarkAllAsRead() []Notification {
	s.mu.Lock()
	var flipped []Notification
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			flipped = append(flipped, s.items[i])
		}
	}
	s.recountLocked()
	unread, total := s.unreadCount, len(s.items)
	s.mu.Unlock()

	s.publish(unread, total)
	return flipped
}

// Remove deletes id. Returns false for unknown ids.
func (s *NotificationStore) Remove(id string) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	s.recountLocked()
	unread, total := s.unreadCount, len(s.items)
	s.mu.Unlock()

	s.publish(unread, total)
	return true
}

func (s *NotificationStore) ClearAll() {
	s.mu.Lock()
	s.items = nil
	s.recountLocked()
	s.mu.Unlock()

	s.publish(0, 0)
}

// List returns a copy of all records, newest first.
func (s *NotificationStore) List() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(Notification) bool { return true })
}

func (s *NotificationStore) Get(id string) (Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return Notification{}, false
	}
	return s.items[idx], true
}

// FindByRemoteID looks up a record by its backend id.
func (s *NotificationStore) FindByRemoteID(remoteID int64) (Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.items {
		if n.RemoteID != 0 && n.RemoteID == remoteID {
			return n, true
		}
	}
	return Notification{}, false
}

func (s *NotificationStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadCount
}

func (s *NotificationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *NotificationStore) ByCategory(c Category) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(n Notification) bool { return n.Category == c })
}

func (s *NotificationStore) Unread() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(n Notification) bool { return !n.Read })
}

func (s *NotificationStore) filterLocked(keep func(Notification) bool) []Notification {
	out := make([]Notification, 0, len(s.items))
	for _, n := range s.items {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func (s *NotificationStore) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *NotificationStore) recountLocked() {
	count := 0
	for _, n := range s.items {
		if !n.Read {
			count++
		}
	}
	s.unreadCount = count
}

func (s *NotificationStore) publish(unread, total int) {
	if s.bus == nil {
		return
	}
	data, _ := json.Marshal(map[string]int{"unread": unread, "total": total})
	s.bus.Publish(events.Event{
		Kind:      events.KindNotificationsChanged,
		Data:      data,
		Timestamp: s.clock.Now(),
	})
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
