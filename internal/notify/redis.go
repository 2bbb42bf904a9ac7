package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Channel carries notification events between publishers and dispatchers.
type Channel interface {
	PublishNotification(ctx context.Context, payload []byte) error
	SubscribeNotifications(ctx context.Context) (<-chan []byte, error)
}

// RedisPublisher publishes events as JSON on the notifications channel.
type RedisPublisher struct {
	ch Channel
}

func NewRedisPublisher(ch Channel) *RedisPublisher {
	return &RedisPublisher{ch: ch}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return p.ch.PublishNotification(ctx, data)
}
