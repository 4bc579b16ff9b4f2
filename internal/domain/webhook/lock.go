package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const lockKeyPrefix = "webhook:lock:"

// DeliveryLock keeps two workers from handling the same event id at once.
type DeliveryLock interface {
	// Acquire returns ErrDeliveryInFlight when the lock is held elsewhere.
	Acquire(ctx context.Context, eventID string, ttl time.Duration) (release func(), err error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SET NX lock with TTL.
type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) Acquire(ctx context.Context, eventID string, ttl time.Duration) (func(), error) {
	key := lockKeyPrefix + eventID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire delivery lock: %w", err)
	}
	if !ok {
		return nil, ErrDeliveryInFlight
	}

	return func() {
		// request ctx may already be canceled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to release delivery lock")
		}
	}, nil
}

// NoopLock is used when Redis is not configured.
type NoopLock struct{}

func (NoopLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}
