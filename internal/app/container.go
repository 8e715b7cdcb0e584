// Package app wires the realtime pipeline into one explicitly constructed
// container: bus, dispatcher, connection manager and the two stores.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"casedesk/internal/backend"
	"casedesk/internal/clock"
	"casedesk/internal/config"
	"casedesk/internal/events"
	"casedesk/internal/realtime"
	"casedesk/internal/store"
)

const hydratePageSize = 50

// Deps are the collaborators the container does not build itself. Zero
// values fall back to the production implementations.
type Deps struct {
	Dialer realtime.Dialer
	Clock  clock.Clock
	Logger *slog.Logger
	Token  string
}

type App struct {
	Bus           *events.Bus
	Dispatcher    *realtime.Dispatcher
	Connection    *realtime.ConnectionManager
	Notifications *store.NotificationStore
	Timeline      *store.TimelineStore
	Backend       *backend.Client

	logger    *slog.Logger
	listeners map[string]realtime.ListenerID
}

// New builds the container and registers the store listeners.
func New(cfg *config.Config, deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}

	bus := events.NewBus(logger)
	dispatcher := realtime.NewDispatcher(bus, logger.With("component", "dispatcher"))

	connOpts := realtime.OptionsFromConfig(cfg)
	connOpts.Token = deps.Token
	connOpts.Dialer = deps.Dialer
	connOpts.Clock = clk
	connOpts.Bus = bus
	connOpts.Logger = logger.With("component", "connection")

	client := backend.NewClient(cfg.APIURL)
	client.SetToken(deps.Token)

	a := &App{
		Bus:           bus,
		Dispatcher:    dispatcher,
		Connection:    realtime.NewConnectionManager(dispatcher, connOpts),
		Notifications: store.NewNotificationStore(bus, store.WithClock(clk), store.WithLogger(logger)),
		Timeline:      store.NewTimelineStore(bus, store.WithClock(clk), store.WithLogger(logger)),
		Backend:       client,
		logger:        logger,
		listeners:     make(map[string]realtime.ListenerID),
	}
	a.registerListeners()
	return a
}

func (a *App) registerListeners() {
	a.listeners[realtime.KindNotification] = a.Dispatcher.On(realtime.KindNotification, a.onNotification)
	a.listeners[realtime.KindSystemMessage] = a.Dispatcher.On(realtime.KindSystemMessage, a.onSystemMessage)
	a.listeners[realtime.KindTaskUpdate] = a.Dispatcher.On(realtime.KindTaskUpdate, a.timelineListener(store.EventTask))
	a.listeners[realtime.KindProcessUpdate] = a.Dispatcher.On(realtime.KindProcessUpdate, a.timelineListener(store.EventProcess))
	a.listeners[realtime.KindPong] = a.Dispatcher.On(realtime.KindPong, func(json.RawMessage) error {
		a.logger.Debug("pong_received")
		return nil
	})
}

// Start opens the realtime channel for userID.
func (a *App) Start(ctx context.Context, userID int64) error {
	if err := a.Connection.Connect(ctx, userID); err != nil {
		return fmt.Errorf("failed to start realtime channel: %w", err)
	}
	return nil
}

// Shutdown closes the channel and detaches the store listeners. The stores
// keep their contents.
func (a *App) Shutdown() {
	a.Connection.Disconnect()
	for kind, id := range a.listeners {
		a.Dispatcher.Off(kind, id)
	}
	clear(a.listeners)
	a.logger.Info("app_shutdown")
}

// MarkAsRead marks a notification read and acknowledges it to the backend
// when it came from a push. Returns false for unknown ids.
func (a *App) MarkAsRead(id string) bool {
	n, ok := a.Notifications.MarkAsRead(id)
	if !ok {
		return false
	}
	a.acknowledge(n)
	return true
}

// MarkAllAsRead marks everything read and returns how many records changed.
func (a *App) MarkAllAsRead() int {
	flipped := a.Notifications.MarkAllAsRead()
	for _, n := range flipped {
		a.acknowledge(n)
	}
	return len(flipped)
}

// Ping sends an explicit heartbeat.
func (a *App) Ping() error {
	if !a.Connection.Send(realtime.NewPingFrame()) {
		return realtime.ErrNotConnected
	}
	return nil
}

// Hydrate loads the user's unread backend notifications into the store,
// skipping ones already present. Returns the number added.
func (a *App) Hydrate(ctx context.Context, userID int64) (int, error) {
	added := 0
	for page := 1; ; page++ {
		result, err := a.Backend.ListNotifications(ctx, userID, backend.ListOptions{
			Page:       page,
			Limit:      hydratePageSize,
			UnreadOnly: true,
		})
		if err != nil {
			return added, fmt.Errorf("hydrate page %d: %w", page, err)
		}
		// backend pages are newest first; the store prepends
		for i := len(result.Items) - 1; i >= 0; i-- {
			if a.addRemote(result.Items[i]) {
				added++
			}
		}
		if !result.HasMore() || len(result.Items) == 0 {
			break
		}
	}
	a.logger.Info("notifications_hydrated", "user_id", userID, "added", added)
	return added, nil
}

func (a *App) acknowledge(n store.Notification) {
	if n.RemoteID == 0 {
		return
	}
	a.Connection.Send(realtime.NewNotificationReadFrame(n.RemoteID))
}

func (a *App) onNotification(data json.RawMessage) error {
	var dto backend.NotificationDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return fmt.Errorf("failed to decode notification: %w", err)
	}
	a.addRemote(dto)
	return nil
}

// addRemote stores a backend notification unless its id is already known.
func (a *App) addRemote(dto backend.NotificationDTO) bool {
	if dto.ID != 0 {
		if _, exists := a.Notifications.FindByRemoteID(dto.ID); exists {
			return false
		}
	}
	category := store.Category(dto.Category)
	if !category.Valid() {
		category = store.CategorySystem
	}
	a.Notifications.Add(store.Notification{
		RemoteID: dto.ID,
		Title:    dto.Title,
		Message:  dto.Message,
		Severity: store.ParseSeverity(dto.Type),
		Category: category,
		Priority: parsePriority(dto.Priority),
		Link:     dto.Link,
		Metadata: dto.Metadata,
	})
	return true
}

type systemMessage struct {
	Title       string `json:"title"`
	Message     string `json:"message"`
	MessageKind string `json:"messageKind"`
}

func (a *App) onSystemMessage(data json.RawMessage) error {
	var msg systemMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode system message: %w", err)
	}
	if msg.Title == "" {
		msg.Title = "System message"
	}
	severity := store.ParseSeverity(msg.MessageKind)
	priority := store.PriorityMedium
	if severity == store.SeverityError {
		priority = store.PriorityHigh
	}
	a.Notifications.Add(store.Notification{
		Title:    msg.Title,
		Message:  msg.Message,
		Severity: severity,
		Category: store.CategorySystem,
		Priority: priority,
	})
	return nil
}

func (a *App) timelineListener(eventType store.EventType) realtime.Listener {
	return func(data json.RawMessage) error {
		var payload backend.EventPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("failed to decode %s update: %w", eventType, err)
		}
		a.Timeline.Append(store.TimelineEvent{
			Type:          eventType,
			Title:         payload.Title,
			Description:   payload.Description,
			User:          payload.User,
			Timestamp:     payload.Timestamp,
			Status:        store.ParseStatus(payload.Status),
			ProcessNumber: payload.ProcessNumber,
			Attachments:   payload.Attachments,
			Metadata:      payload.Metadata,
		})
		return nil
	}
}

func parsePriority(p string) store.Priority {
	switch store.Priority(p) {
	case store.PriorityLow, store.PriorityHigh:
		return store.Priority(p)
	default:
		return store.PriorityMedium
	}
}
