package backend

import (
	"encoding/json"
	"time"
)

// NotificationDTO is the backend's view of a notification. It is also the
// payload of "notification" frames.
type NotificationDTO struct {
	ID        int64             `json:"id"`
	UserID    int64             `json:"user_id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Type      string            `json:"type"`     // info, success, warning, error
	Category  string            `json:"category"` // task, process, system, deadline, payment
	Priority  string            `json:"priority"` // low, medium, high
	Link      string            `json:"link,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"created_at"`
}

// NotificationPage is the paginated envelope of the notifications listing.
type NotificationPage struct {
	Items   []NotificationDTO `json:"items"`
	Total   int64             `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
}

// HasMore reports whether another page follows this one.
func (p NotificationPage) HasMore() bool {
	return int64(p.Page*p.PerPage) < p.Total
}

// EventPayload is the payload of task_update and process_update frames.
type EventPayload struct {
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	User          string            `json:"user,omitempty"`
	Status        string            `json:"status,omitempty"` // success, warning, error, info
	ProcessNumber string            `json:"processNumber,omitempty"`
	Timestamp     time.Time         `json:"timestamp,omitzero"`
	Attachments   []string          `json:"attachments,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type PushNotificationRequest struct {
	Title    string            `json:"title" binding:"required"`
	Message  string            `json:"message"`
	Type     string            `json:"type"`
	Category string            `json:"category"`
	Priority string            `json:"priority"`
	Link     string            `json:"link,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PushEventRequest asks the relay to push a non-notification frame.
type PushEventRequest struct {
	Kind        string          `json:"kind" binding:"required,oneof=task_update process_update system_message"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Message     string          `json:"message,omitempty"`
	MessageKind string          `json:"messageKind,omitempty"`
}

type ListOptions struct {
	Page       int
	Limit      int
	UnreadOnly bool
}
