package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TypedPubSub publishes and receives JSON-encoded messages of type T.
type TypedPubSub[T any] struct {
	client goredis.UniversalClient
	logger *logrus.Logger
}

func NewTypedPubSub[T any](client goredis.UniversalClient, logger *logrus.Logger) *TypedPubSub[T] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TypedPubSub[T]{client: client, logger: logger}
}

func (p *TypedPubSub[T]) Publish(ctx context.Context, channel string, msg T) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal pubsub payload: %w", err)
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Subscribe blocks delivering messages to handler until ctx is done or handler
// returns false.
func (p *TypedPubSub[T]) Subscribe(ctx context.Context, channel string, handler func(T) bool) error {
	sub := p.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var payload T
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				p.logger.WithError(err).WithField("channel", channel).Warn("Dropping undecodable pubsub message")
				continue
			}
			if !handler(payload) {
				return nil
			}
		}
	}
}
