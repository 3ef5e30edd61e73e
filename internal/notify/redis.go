package notify

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisChannel implements Channel over Redis pub/sub.
type RedisChannel struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisChannel(client *redis.Client, logger *slog.Logger) *RedisChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisChannel{client: client, logger: logger}
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *redisSubscription) Unsubscribe() {
	s.cancel()
	_ = s.pubsub.Close()
}

// Subscribe opens a pub/sub subscription and pumps payloads to onEvent.
// The confirmation round-trip happens in a goroutine so a dead Redis never
// blocks the caller.
func (c *RedisChannel) Subscribe(topic string, onEvent func(payload []byte), onStatus func(SubscriptionStatus)) Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := c.client.Subscribe(ctx, topic)
	sub := &redisSubscription{pubsub: pubsub, cancel: cancel}

	go func() {
		// Receive blocks until the server acks the SUBSCRIBE.
		if _, err := pubsub.Receive(ctx); err != nil {
			c.logger.Warn("subscribe failed", "topic", topic, "error", err)
			onStatus(StatusError)
			return
		}
		onStatus(StatusSubscribed)

		for msg := range pubsub.Channel() {
			onEvent([]byte(msg.Payload))
		}
		// Channel closes when the subscription is torn down or the
		// connection drops for good.
		onStatus(StatusClosed)
	}()

	return sub
}

func (c *RedisChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.client.Publish(ctx, topic, payload).Err()
}
