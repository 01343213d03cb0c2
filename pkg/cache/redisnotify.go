package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisNotifier carries invalidations over Redis PUBLISH/SUBSCRIBE
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier creates a notifier on client
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Publish sends the key on the invalidation channel
func (n *RedisNotifier) Publish(ctx context.Context, key string) error {
	payload, err := encodeMessage(key)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Listen subscribes and blocks until ctx is cancelled or the subscription closes
func (n *RedisNotifier) Listen(ctx context.Context, handle func(ctx context.Context, payload []byte)) error {
	sub := n.client.Subscribe(ctx, Channel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			handle(ctx, []byte(msg.Payload))
		}
	}
}
