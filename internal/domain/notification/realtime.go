package notification

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RealtimePublisher fans stored notifications out to connected clients.
type RealtimePublisher interface {
	Publish(ctx context.Context, userID string, event *Event) error
}

// ChannelPrefix is the Redis pub/sub channel prefix; subscribers listen on ChannelPrefix+userID.
const ChannelPrefix = "notifications:"

// RedisPublisher publishes notification events over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a Redis-backed publisher. A nil client disables publishing.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID string, event *Event) error {
	if p == nil || p.client == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type": "notification:new",
		"data": event,
	})
	if err != nil {
		return err
	}

	return p.client.Publish(ctx, ChannelPrefix+userID, payload).Err()
}
