package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"casedesk/internal/backend"
)

var ErrNotFound = errors.New("notification not found")

// Notification is the relay's durable record of a pushed notification.
type Notification struct {
	ID        int64             `gorm:"primaryKey;autoIncrement"`
	UserID    int64             `gorm:"not null;index"`
	Title     string            `gorm:"not null"`
	Message   string
	Type      string            `gorm:"not null;default:info"`
	Category  string            `gorm:"not null;default:system"`
	Priority  string            `gorm:"not null;default:medium"`
	Link      string
	Metadata  map[string]string `gorm:"serializer:json"`
	Read      bool              `gorm:"not null;default:false;index"`
	CreatedAt time.Time
}

func (Notification) TableName() string {
	return "relay_notifications"
}

func (n Notification) ToDTO() backend.NotificationDTO {
	return backend.NotificationDTO{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Category:  n.Category,
		Priority:  n.Priority,
		Link:      n.Link,
		Metadata:  n.Metadata,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

type ListQuery struct {
	Page       int
	Limit      int
	UnreadOnly bool
}

func (q ListQuery) offset() int {
	return (q.Page - 1) * q.Limit
}

// Outbox stores notifications pushed through the relay.
type Outbox interface {
	Create(ctx context.Context, n *Notification) error
	List(ctx context.Context, userID int64, q ListQuery) ([]Notification, int64, error)
	MarkRead(ctx context.Context, userID, id int64) error
}

// MemoryOutbox keeps notifications in process memory.
type MemoryOutbox struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]*Notification
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{items: make(map[int64]*Notification)}
}

func (o *MemoryOutbox) Create(_ context.Context, n *Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	n.ID = o.nextID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	stored := *n
	o.items[n.ID] = &stored
	return nil
}

// List returns one page, newest first.
func (o *MemoryOutbox) List(_ context.Context, userID int64, q ListQuery) ([]Notification, int64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var matched []Notification
	for _, n := range o.items {
		if n.UserID != userID || (q.UnreadOnly && n.Read) {
			continue
		}
		matched = append(matched, *n)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := min(q.offset(), len(matched))
	end := min(start+q.Limit, len(matched))
	return matched[start:end], total, nil
}

func (o *MemoryOutbox) MarkRead(_ context.Context, userID, id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, ok := o.items[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}
