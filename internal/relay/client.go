package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"casedesk/internal/realtime"
)

const ( // ping pong keeps the socket alive through proxies
	WriteWait      = 10 * time.Second    // max time to write a message to the peer
	PongWait       = 60 * time.Second    // no pong within this window = dead peer
	PingPeriod     = (PongWait * 9) / 10 // must be shorter than PongWait
	MaxMessageSize = 4096                // client frames are tiny (ping, notification_read)
	SendBuffer     = 64
)

// Client is one user socket on the relay.
type Client struct {
	ID     string
	UserID int64

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
	closeMsg  []byte // close frame written by the write pump
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, SendBuffer),
		limiter: hub.newLimiter(),
		done:    make(chan struct{}),
	}
}

// Serve registers the client and runs both pumps until the socket closes.
func (c *Client) Serve() {
	c.hub.Register(c)
	go c.writePump()
	c.readPump()
	c.hub.Unregister(c)
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.done)
	})
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	logger := c.hub.logger.With("client_id", c.ID, "user_id", c.UserID)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("client_read_error", "error", err.Error())
			} else {
				logger.Info("client_disconnected")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(PongWait))

		if !c.limiter.Allow() {
			inboundRateLimited.Inc()
			logger.Warn("rate_limit_exceeded")
			continue
		}

		frame, err := realtime.ParseFrame(data)
		if err != nil {
			logger.Warn("invalid_frame_received", "error", err.Error())
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame *realtime.Frame) {
	logger := c.hub.logger.With("client_id", c.ID, "user_id", c.UserID)

	switch frame.Kind {
	case realtime.KindPing:
		pong, _ := realtime.NewServerFrame(realtime.KindPong, nil)
		data, _ := pong.ToJSON()
		c.hub.Deliver(c.UserID, realtime.KindPong, data)
	case realtime.KindNotificationRead:
		if frame.NotificationID == nil {
			logger.Warn("notification_read_without_id")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := c.hub.outbox.MarkRead(ctx, c.UserID, *frame.NotificationID)
		switch {
		case errors.Is(err, ErrNotFound):
			logger.Warn("notification_read_unknown", "notification_id", *frame.NotificationID)
		case err != nil:
			logger.Error("notification_read_failed",
				"notification_id", *frame.NotificationID,
				"error", err.Error(),
			)
		default:
			logger.Debug("notification_read", "notification_id", *frame.NotificationID)
		}
	default:
		logger.Warn("unsupported_client_frame", "kind", frame.Kind)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(WriteWait))
			return
		}
	}
}
