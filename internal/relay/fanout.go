package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const userChannelPrefix = "casedesk:user:"

// Delivery is the deliver side of the hub.
type Delivery interface {
	Deliver(userID int64, kind string, data []byte) bool
}

// RedisFanout routes frames to the relay instance holding the user's
// socket. With a nil client it delivers to the local hub directly.
type RedisFanout struct {
	client *redis.Client
	local  Delivery
	logger *slog.Logger
}

type fanoutEnvelope struct {
	Kind  string          `json:"kind"`
	Frame json.RawMessage `json:"frame"`
}

func NewRedisFanout(client *redis.Client, local Delivery, logger *slog.Logger) *RedisFanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFanout{client: client, local: local, logger: logger}
}

// ConnectRedis parses a redis:// URL and verifies the server answers.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func userChannel(userID int64) string {
	return userChannelPrefix + strconv.FormatInt(userID, 10)
}

// Publish sends frame towards userID's socket.
func (f *RedisFanout) Publish(ctx context.Context, userID int64, kind string, frame []byte) error {
	if f.client == nil {
		// single instance mode
		f.local.Deliver(userID, kind, frame)
		return nil
	}
	payload, err := json.Marshal(fanoutEnvelope{Kind: kind, Frame: frame})
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, userChannel(userID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", userChannel(userID), err)
	}
	return nil
}

// Run subscribes to every user channel and delivers to the local hub until
// ctx is cancelled. It returns immediately in single instance mode.
func (f *RedisFanout) Run(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	pubsub := f.client.PSubscribe(ctx, userChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	f.logger.Info("fanout_subscribed", "pattern", userChannelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("fanout_stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.handle(msg)
		}
	}
}

func (f *RedisFanout) handle(msg *redis.Message) {
	userID, err := strconv.ParseInt(strings.TrimPrefix(msg.Channel, userChannelPrefix), 10, 64)
	if err != nil {
		f.logger.Warn("fanout_bad_channel", "channel", msg.Channel)
		return
	}
	var env fanoutEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		f.logger.Warn("fanout_bad_payload", "channel", msg.Channel, "error", err.Error())
		return
	}
	f.local.Deliver(userID, env.Kind, env.Frame)
}
