package keys

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/keywarden/keywarden/internal/observability"
)

// DefaultInvalidationChannel is the pub/sub channel carrying eviction
// messages between instances.
const DefaultInvalidationChannel = "api-key-invalidate"

// Bus broadcasts cache invalidation messages to every running instance.
type Bus interface {
	// Publish broadcasts an invalidation for the given key.
	Publish(ctx context.Context, key string) error

	// Subscribe registers a handler for invalidation messages. The
	// handler runs on a background goroutine until ctx is canceled.
	Subscribe(ctx context.Context, handler func(key string)) error
}

// invalidationMessage is the wire payload on the invalidation channel.
type invalidationMessage struct {
	Key string `json:"key"`
}

// redisBus implements Bus on Redis pub/sub.
type redisBus struct {
	client  *redis.Client
	channel string
	logger  observability.Logger
}

// NewRedisBus creates a Redis-backed invalidation bus. An empty channel
// name selects DefaultInvalidationChannel.
func NewRedisBus(client *redis.Client, channel string, logger observability.Logger) Bus {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &redisBus{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// Publish broadcasts an invalidation for the given key.
func (b *redisBus) Publish(ctx context.Context, key string) error {
	payload, err := json.Marshal(invalidationMessage{Key: key})
	if err != nil {
		return fmt.Errorf("marshal invalidation message: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}

	b.logger.Debug("invalidation published",
		observability.String("key", key),
		observability.String("channel", b.channel))
	return nil
}

// Subscribe registers a handler for invalidation messages.
func (b *redisBus) Subscribe(ctx context.Context, handler func(key string)) error {
	sub := b.client.Subscribe(ctx, b.channel)

	// Confirm the subscription before returning so that callers never
	// miss messages published after Subscribe succeeds.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m invalidationMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					b.logger.Warn("malformed invalidation message",
						observability.String("payload", msg.Payload),
						observability.Error(err))
					continue
				}
				if m.Key == "" {
					continue
				}
				handler(m.Key)
			case <-ctx.Done():
				return
			}
		}
	}()

	b.logger.Info("subscribed to invalidation channel",
		observability.String("channel", b.channel))
	return nil
}

// Ensure redisBus implements Bus.
var _ Bus = (*redisBus)(nil)
