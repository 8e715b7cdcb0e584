package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"casedesk/internal/clock"
	"casedesk/internal/config"
	"casedesk/internal/events"
)

var (
	ErrConnectInProgress = errors.New("a connection attempt is already in flight")
	ErrConnectSuperseded = errors.New("connection attempt superseded by disconnect")
	ErrNotConnected      = errors.New("not connected")
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "idle"
	}
}

type Options struct {
	BaseURL              string // ws://host:port
	PathTemplate         string // "/ws/{id}"
	Token                string // sent as ?token= when set
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	Dialer Dialer
	Clock  clock.Clock
	Bus    events.Publisher // optional, receives connection_state events
	Logger *slog.Logger
}

// OptionsFromConfig maps the env configuration onto connection options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:              cfg.WSBaseURL,
		PathTemplate:         cfg.WSPathTemplate,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.ReconnectMaxAttempts,
	}
}

func (o *Options) setDefaults() {
	if o.PathTemplate == "" {
		o.PathTemplate = "/ws/{id}"
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = 30 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = NewWebsocketDialer(nil)
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// heartbeat is an owned ticker goroutine; stop is idempotent.
type heartbeat struct {
	ticker *clock.Ticker
	done   chan struct{}
	once   sync.Once
}

func (h *heartbeat) stop() {
	h.once.Do(func() {
		h.ticker.Stop()
		close(h.done)
	})
}

// ConnectionManager owns at most one socket, for one user at a time.
//
// Every socket, read loop and reconnect timer is tagged with the generation
// that created it. Connect and Disconnect bump the generation, so callbacks
// from a superseded socket or timer find a mismatch and do nothing.
type ConnectionManager struct {
	opts       Options
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu             sync.Mutex
	state          State
	userID         int64
	socket         Socket
	generation     uint64
	attempts       int
	backoff        *backoff.ExponentialBackOff
	heartbeat      *heartbeat
	reconnectTimer *clock.Timer
	pendingStates  []State // published after mu is released
}

func NewConnectionManager(dispatcher *Dispatcher, opts Options) *ConnectionManager {
	opts.setDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.ReconnectBaseDelay
	b.MaxInterval = opts.ReconnectMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // attempts are bounded by MaxReconnectAttempts instead
	b.Reset()

	return &ConnectionManager{
		opts:       opts,
		dispatcher: dispatcher,
		logger:     opts.Logger,
		backoff:    b,
	}
}

// Connect opens the channel for userID. It returns immediately when already
// connected for the same user and tears down a connection for another user
// first. Transport errors are returned to the caller.
func (m *ConnectionManager) Connect(ctx context.Context, userID int64) error {
	m.mu.Lock()
	if m.state == StateConnecting {
		m.unlock()
		return ErrConnectInProgress
	}
	if m.state == StateConnected && m.userID == userID {
		m.unlock()
		return nil
	}
	if m.socket != nil {
		m.logger.Info("connection_switching_user",
			"from_user_id", m.userID,
			"to_user_id", userID,
		)
		m.teardownLocked(websocket.CloseNormalClosure, "switching user")
	}
	m.cancelReconnectLocked()
	m.generation++
	gen := m.generation
	m.userID = userID
	m.setStateLocked(StateConnecting)
	m.unlock()

	endpoint := m.Endpoint(userID)
	socket, err := m.opts.Dialer.Dial(ctx, endpoint)

	m.mu.Lock()
	defer m.unlock()

	if gen != m.generation {
		if err == nil {
			socket.Close(websocket.CloseNormalClosure, "superseded")
		}
		return ErrConnectSuperseded
	}
	if err != nil {
		m.userID = 0
		m.setStateLocked(StateIdle)
		m.logger.Error("connect_failed",
			"user_id", userID,
			"endpoint", endpoint,
			"error", err.Error(),
		)
		return fmt.Errorf("connect user %d: %w", userID, err)
	}

	m.openLocked(socket, gen)
	m.logger.Info("connected", "user_id", userID, "endpoint", endpoint)
	return nil
}

// Disconnect cancels any pending reconnect, stops the heartbeat and closes
// the socket with a normal closure. Safe to call when idle.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	defer m.unlock()

	m.generation++
	m.cancelReconnectLocked()
	hadSocket := m.socket != nil
	m.teardownLocked(websocket.CloseNormalClosure, "client disconnect")
	if hadSocket {
		m.logger.Info("disconnected", "user_id", m.userID)
	}
	m.userID = 0
	m.attempts = 0
	m.setStateLocked(StateIdle)
}

// Send writes frame when the channel is open. Otherwise the frame is dropped
// with a warning and counted; Send never fails loudly.
func (m *ConnectionManager) Send(frame Frame) bool {
	m.mu.Lock()
	socket := m.socket
	open := m.state == StateConnected && socket != nil
	m.mu.Unlock()

	if !open {
		sendDropped.WithLabelValues(frame.Kind).Inc()
		m.logger.Warn("send_dropped", "kind", frame.Kind, "reason", "not_connected")
		return false
	}

	data, err := frame.ToJSON()
	if err != nil {
		sendDropped.WithLabelValues(frame.Kind).Inc()
		m.logger.Error("send_encode_failed", "kind", frame.Kind, "error", err.Error())
		return false
	}
	if err := socket.WriteMessage(data); err != nil {
		sendDropped.WithLabelValues(frame.Kind).Inc()
		m.logger.Warn("send_failed", "kind", frame.Kind, "error", err.Error())
		return false
	}
	return true
}

func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) UserID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Attempts returns the number of automatic reconnects scheduled since the
// last successful open.
func (m *ConnectionManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Endpoint builds the per-user socket URL from the path template.
func (m *ConnectionManager) Endpoint(userID int64) string {
	path := strings.ReplaceAll(m.opts.PathTemplate, "{id}", strconv.FormatInt(userID, 10))
	raw := strings.TrimRight(m.opts.BaseURL, "/") + path
	if m.opts.Token == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("token", m.opts.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

// openLocked installs a freshly dialed socket.
func (m *ConnectionManager) openLocked(socket Socket, gen uint64) {
	m.socket = socket
	m.attempts = 0
	m.backoff.Reset()
	m.setStateLocked(StateConnected)
	m.startHeartbeatLocked()
	go m.readLoop(socket, gen)
}

func (m *ConnectionManager) readLoop(socket Socket, gen uint64) {
	for {
		data, err := socket.ReadMessage()
		if err != nil {
			m.handleClosure(socket, gen, err)
			return
		}

		m.mu.Lock()
		current := gen == m.generation
		m.mu.Unlock()
		if !current {
			return
		}

		// dispatch runs outside the lock so listeners may call Send
		m.dispatcher.Dispatch(data)
	}
}

func (m *ConnectionManager) handleClosure(socket Socket, gen uint64, err error) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.generation {
		return // deliberate teardown or superseded socket
	}

	code := closeCode(err)
	m.stopHeartbeatLocked()
	m.socket = nil
	socket.Close(websocket.CloseNormalClosure, "")
	m.setStateLocked(StateIdle)

	if code == websocket.CloseNormalClosure {
		m.logger.Info("connection_closed", "user_id", m.userID, "code", code)
		m.userID = 0
		return
	}

	m.logger.Warn("connection_lost",
		"user_id", m.userID,
		"code", code,
		"error", err.Error(),
	)
	m.scheduleReconnectLocked(gen)
}

func (m *ConnectionManager) scheduleReconnectLocked(gen uint64) {
	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.logger.Error("reconnect_exhausted",
			"user_id", m.userID,
			"attempts", m.attempts,
		)
		return
	}

	m.attempts++
	delay := m.backoff.NextBackOff()
	reconnectAttempts.Inc()
	m.logger.Info("reconnect_scheduled",
		"user_id", m.userID,
		"attempt", m.attempts,
		"delay", delay.String(),
	)
	m.reconnectTimer = m.opts.Clock.AfterFunc(delay, func() { m.reconnect(gen) })
}

// reconnect is the timer callback. Failures are logged and rescheduled,
// never surfaced.
func (m *ConnectionManager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != StateIdle {
		m.unlock()
		return
	}
	m.reconnectTimer = nil
	m.generation++
	newGen := m.generation
	userID := m.userID
	attempt := m.attempts
	m.setStateLocked(StateConnecting)
	m.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), HandshakeTimeout)
	defer cancel()
	socket, err := m.opts.Dialer.Dial(ctx, m.Endpoint(userID))

	m.mu.Lock()
	defer m.unlock()

	if newGen != m.generation {
		if err == nil {
			socket.Close(websocket.CloseNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		m.logger.Warn("reconnect_failed",
			"user_id", userID,
			"attempt", attempt,
			"error", err.Error(),
		)
		m.setStateLocked(StateIdle)
		m.scheduleReconnectLocked(newGen)
		return
	}

	m.openLocked(socket, newGen)
	m.logger.Info("reconnected", "user_id", userID, "attempt", attempt)
}

func (m *ConnectionManager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	hb := &heartbeat{
		ticker: m.opts.Clock.NewTicker(m.opts.HeartbeatInterval),
		done:   make(chan struct{}),
	}
	m.heartbeat = hb

	go func() {
		for {
			select {
			case <-hb.ticker.C:
				m.Send(NewPingFrame())
			case <-hb.done:
				return
			}
		}
	}()
}

func (m *ConnectionManager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.stop()
		m.heartbeat = nil
	}
}

func (m *ConnectionManager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *ConnectionManager) teardownLocked(code int, reason string) {
	m.stopHeartbeatLocked()
	if m.socket != nil {
		if err := m.socket.Close(code, reason); err != nil {
			m.logger.Debug("socket_close_error", "error", err.Error())
		}
		m.socket = nil
	}
}

func (m *ConnectionManager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	connectionState.Set(float64(s))
	m.pendingStates = append(m.pendingStates, s)
}

// unlock releases mu and then publishes state transitions recorded while it
// was held, so bus handlers can call back into the manager.
func (m *ConnectionManager) unlock() {
	pending := m.pendingStates
	m.pendingStates = nil
	userID := m.userID
	attempts := m.attempts
	m.mu.Unlock()

	if m.opts.Bus == nil {
		return
	}
	for _, s := range pending {
		data, _ := json.Marshal(map[string]any{
			"state":    s.String(),
			"user_id":  userID,
			"attempts": attempts,
		})
		m.opts.Bus.Publish(events.Event{
			Kind:      events.KindConnectionState,
			Data:      data,
			Timestamp: m.opts.Clock.Now(),
		})
	}
}
