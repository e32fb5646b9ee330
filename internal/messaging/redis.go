package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Chloe7243/Errandhub/internal/domain"
)

const DefaultChannel = "errandhub:thread"

// Connect initializes a Redis client from URL or host:port input.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisBroker shares chat messages between API replicas over Redis pub/sub,
// one channel per errand thread.
type RedisBroker struct {
	Client  *redis.Client
	Channel string
	Logger  *slog.Logger
}

func (b RedisBroker) prefix() string {
	if b.Channel == "" {
		return DefaultChannel
	}
	return b.Channel
}

// ChannelFor names the pub/sub channel of a thread.
func (b RedisBroker) ChannelFor(threadID string) string {
	return b.prefix() + ":" + threadID
}

func (b RedisBroker) Publish(ctx context.Context, m domain.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := b.Client.Publish(ctx, b.ChannelFor(m.ThreadID), data).Err(); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Run relays every thread channel into hub until ctx is done.
func (b RedisBroker) Run(ctx context.Context, hub *Hub) error {
	sub := b.Client.PSubscribe(ctx, b.prefix()+":*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.prefix(), err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			m, err := decode(msg.Payload)
			if err != nil {
				b.logger().Warn("dropping chat message", "channel", msg.Channel, "err", err)
				continue
			}
			hub.deliver(m)
		}
	}
}

func (b RedisBroker) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func decode(payload string) (domain.Message, error) {
	var m domain.Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return m, fmt.Errorf("decode message: %w", err)
	}
	if m.ThreadID == "" || m.ID == "" {
		return m, fmt.Errorf("decode message: missing id or thread")
	}
	return m, nil
}
