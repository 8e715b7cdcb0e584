package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casedesk/internal/clock"
	"casedesk/internal/events"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type fakeSocket struct {
	url      string
	incoming chan []byte
	readErr  chan error
	closed   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	writes    [][]byte
	closeCode int
}

func newFakeSocket(url string) *fakeSocket {
	return &fakeSocket{
		url:      url,
		incoming: make(chan []byte, 8),
		readErr:  make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.incoming:
		return data, nil
	case err := <-s.readErr:
		return nil, err
	case <-s.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	select {
	case <-s.closed:
		return errors.New("write on closed socket")
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeCode = code
		s.mu.Unlock()
		close(s.closed)
	})
	return nil
}

// drop simulates the server side going away with err.
func (s *fakeSocket) drop(err error) { s.readErr <- err }

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, string(w))
	}
	return out
}

func (s *fakeSocket) countWrites(want string) int {
	n := 0
	for _, w := range s.written() {
		if w == want {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu       sync.Mutex
	sockets  []*fakeSocket
	urls     []string
	failures int

	block   chan struct{} // when set, Dial waits for it to close
	dialing chan struct{} // signalled when a blocked Dial starts
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	block := d.block
	d.urls = append(d.urls, url)
	d.mu.Unlock()

	if block != nil {
		d.dialing <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	s := newFakeSocket(url)
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

func (d *fakeDialer) socket(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sockets[i]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) socketCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

type harness struct {
	manager    *ConnectionManager
	dispatcher *Dispatcher
	dialer     *fakeDialer
	clock      *clock.FakeClock
	bus        *events.Bus
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	bus := events.NewBus(nil)
	h := &harness{
		dialer: &fakeDialer{},
		clock:  clock.Fake(epoch),
		bus:    bus,
	}
	h.dispatcher = NewDispatcher(bus, nil)
	opts := Options{
		BaseURL:              "ws://backend.test",
		PathTemplate:         "/ws/{id}",
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		Dialer:               h.dialer,
		Clock:                h.clock,
		Bus:                  bus,
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.manager = NewConnectionManager(h.dispatcher, opts)
	t.Cleanup(h.manager.Disconnect)
	return h
}

func (h *harness) waitForTimer(t *testing.T) time.Duration {
	t.Helper()
	require.Eventually(t, func() bool { return h.clock.PendingTimers() == 1 }, waitFor, tick)
	delay, ok := h.clock.NextDeadline()
	require.True(t, ok)
	return delay
}

func TestConnect_OpensEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.manager.Connect(context.Background(), 7))

	assert.Equal(t, StateConnected, h.manager.State())
	assert.Equal(t, int64(7), h.manager.UserID())
	assert.Equal(t, "ws://backend.test/ws/7", h.dialer.socket(0).url)
}

func TestConnect_TokenQueryParameter(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.PathTemplate = "/api/ws/notifications/{id}"
		o.Token = "abc.def"
	})
	assert.Equal(t, "ws://backend.test/api/ws/notifications/3?token=abc.def", h.manager.Endpoint(3))
}

func TestConnect_IdempotentForSameUser(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, 7))
	require.NoError(t, h.manager.Connect(ctx, 7))

	assert.Equal(t, 1, h.dialer.dialCount())
	assert.False(t, h.dialer.socket(0).isClosed())
}

func TestConnect_SwitchingUserClosesPrevious(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, 1))
	require.NoError(t, h.manager.Connect(ctx, 2))

	first := h.dialer.socket(0)
	assert.True(t, first.isClosed())
	assert.Equal(t, websocket.CloseNormalClosure, first.closeCode)
	assert.Equal(t, "ws://backend.test/ws/2", h.dialer.socket(1).url)
	assert.Equal(t, int64(2), h.manager.UserID())

	// the old socket's closure must not trigger a reconnect
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.clock.PendingTimers())
}

func TestConnect_InProgress(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.block = make(chan struct{})
	h.dialer.dialing = make(chan struct{}, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- h.manager.Connect(context.Background(), 7) }()
	<-h.dialer.dialing

	assert.Equal(t, StateConnecting, h.manager.State())
	assert.ErrorIs(t, h.manager.Connect(context.Background(), 7), ErrConnectInProgress)

	close(h.dialer.block)
	require.NoError(t, <-errCh)
	assert.Equal(t, StateConnected, h.manager.State())
}

func TestConnect_SupersededByDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.block = make(chan struct{})
	h.dialer.dialing = make(chan struct{}, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- h.manager.Connect(context.Background(), 7) }()
	<-h.dialer.dialing

	h.manager.Disconnect()
	close(h.dialer.block)

	assert.ErrorIs(t, <-errCh, ErrConnectSuperseded)
	assert.Equal(t, StateIdle, h.manager.State())
	assert.True(t, h.dialer.socket(0).isClosed())
}

func TestConnect_DialErrorIsReturned(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.failNext(1)

	err := h.manager.Connect(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, StateIdle, h.manager.State())
	assert.Equal(t, 0, h.clock.PendingTimers(), "explicit connect failures are not retried")
}

func TestHeartbeat_SendsPingEveryInterval(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.manager.Connect(context.Background(), 7))
	socket := h.dialer.socket(0)
	ping := `{"kind":"ping"}`

	h.clock.Advance(29 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, socket.countWrites(ping))

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return socket.countWrites(ping) == 1 }, waitFor, tick)

	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return socket.countWrites(ping) == 2 }, waitFor, tick)
}

func TestHeartbeat_StopsOnDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.manager.Connect(context.Background(), 7))

	h.manager.Disconnect()
	assert.Equal(t, 0, h.clock.PendingCount())
}

func TestInboundFramesAreDispatched(t *testing.T) {
	h := newHarness(t, nil)
	got := make(chan string, 1)
	h.dispatcher.On(KindPong, func(data json.RawMessage) error {
		got <- string(data)
		return nil
	})

	require.NoError(t, h.manager.Connect(context.Background(), 7))
	h.dialer.socket(0).incoming <- []byte(`{"kind":"pong"}`)

	select {
	case data := <-got:
		assert.JSONEq(t, `{"kind":"pong"}`, data)
	case <-time.After(waitFor):
		t.Fatal("pong was not dispatched")
	}
}

func TestDisconnectThenConnect_NoReconnectScheduled(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, 7))
	h.manager.Disconnect()
	require.NoError(t, h.manager.Connect(ctx, 7))

	first := h.dialer.socket(0)
	assert.True(t, first.isClosed())
	assert.Equal(t, websocket.CloseNormalClosure, first.closeCode)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.clock.PendingTimers())
	assert.Equal(t, 2, h.dialer.dialCount())
	assert.Equal(t, StateConnected, h.manager.State())
}

func TestNormalClosureDoesNotReconnect(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.manager.Connect(context.Background(), 7))

	h.dialer.socket(0).drop(&websocket.CloseError{Code: websocket.CloseNormalClosure})

	require.Eventually(t, func() bool { return h.manager.State() == StateIdle }, waitFor, tick)
	assert.Equal(t, 0, h.clock.PendingTimers())
	assert.Equal(t, 0, h.manager.Attempts())
}

func TestAbnormalClosureReconnects(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.manager.Connect(context.Background(), 7))

	h.dialer.socket(0).drop(io.ErrUnexpectedEOF)

	assert.Equal(t, time.Second, h.waitForTimer(t))
	assert.Equal(t, 1, h.manager.Attempts())

	h.clock.Advance(time.Second)

	assert.Equal(t, StateConnected, h.manager.State())
	assert.Equal(t, 2, h.dialer.socketCount())
	assert.Equal(t, "ws://backend.test/ws/7", h.dialer.socket(1).url)
	assert.Equal(t, 0, h.manager.Attempts(), "successful open resets the counter")
}

func TestReconnectBackoffSequence(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.manager.Connect(context.Background(), 7))
	h.dialer.failNext(100)

	h.dialer.socket(0).drop(&websocket.CloseError{Code: websocket.CloseGoingAway})

	expected := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}
	for i, want := range expected {
		delay := h.waitForTimer(t)
		assert.Equal(t, want, delay, "attempt %d", i+1)
		assert.Equal(t, i+1, h.manager.Attempts())
		h.clock.Advance(delay)
	}

	// sixth unexpected closure: attempts exhausted
	assert.Equal(t, 0, h.clock.PendingTimers())
	assert.Equal(t, 6, h.dialer.dialCount())
	assert.Equal(t, StateIdle, h.manager.State())

	h.clock.Advance(time.Hour)
	assert.Equal(t, 6, h.dialer.dialCount())
}

func TestReconnectBackoffCapped(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxReconnectAttempts = 8 })
	require.NoError(t, h.manager.Connect(context.Background(), 7))
	h.dialer.failNext(100)

	h.dialer.socket(0).drop(io.EOF)

	var delays []time.Duration
	for i := 0; i < 8; i++ {
		delay := h.waitForTimer(t)
		delays = append(delays, delay)
		h.clock.Advance(delay)
	}

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, delays)
}

func TestExplicitConnectBeforeReconnectTimer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.manager.Connect(ctx, 7))

	h.dialer.socket(0).drop(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	h.waitForTimer(t)
	require.Equal(t, 1, h.manager.Attempts())

	require.NoError(t, h.manager.Connect(ctx, 7))
	assert.Equal(t, 0, h.manager.Attempts())
	assert.Equal(t, 0, h.clock.PendingTimers())

	h.clock.Advance(time.Minute)

	assert.Equal(t, 2, h.dialer.dialCount(), "stale timer must not open a duplicate connection")
	assert.False(t, h.dialer.socket(1).isClosed())
	assert.Equal(t, StateConnected, h.manager.State())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.manager.Connect(context.Background(), 7))

	h.dialer.socket(0).drop(io.EOF)
	h.waitForTimer(t)

	h.manager.Disconnect()
	h.clock.Advance(time.Minute)

	assert.Equal(t, 1, h.dialer.dialCount())
	assert.Equal(t, StateIdle, h.manager.State())
}

func TestSend(t *testing.T) {
	h := newHarness(t, nil)

	assert.False(t, h.manager.Send(NewPingFrame()), "send while idle is dropped")

	require.NoError(t, h.manager.Connect(context.Background(), 7))
	assert.True(t, h.manager.Send(NewNotificationReadFrame(42)))
	assert.Equal(t, []string{`{"kind":"notification_read","notificationId":42}`}, h.dialer.socket(0).written())

	h.manager.Disconnect()
	assert.False(t, h.manager.Send(NewPingFrame()))
}

func TestConnectionStateEvents(t *testing.T) {
	h := newHarness(t, nil)

	var mu sync.Mutex
	var states []string
	h.bus.Subscribe(events.KindConnectionState, func(e events.Event) {
		var data struct {
			State string `json:"state"`
		}
		require.NoError(t, json.Unmarshal(e.Data, &data))
		mu.Lock()
		states = append(states, data.State)
		mu.Unlock()
	})

	require.NoError(t, h.manager.Connect(context.Background(), 7))
	h.manager.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"connecting", "connected", "idle"}, states)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}
