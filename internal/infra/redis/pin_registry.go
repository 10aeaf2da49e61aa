package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PinRegistry reserves join codes across instances. The TTL bounds how long a
// code stays taken if its session never finishes cleanly.
type PinRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPinRegistry(client *redis.Client, ttl time.Duration) *PinRegistry {
	return &PinRegistry{client: client, ttl: ttl}
}

func (r *PinRegistry) Reserve(ctx context.Context, pin, sessionID string) (bool, error) {
	return r.client.SetNX(ctx, pinKey(pin), sessionID, r.ttl).Result()
}

func (r *PinRegistry) Release(ctx context.Context, pin string) error {
	return r.client.Del(ctx, pinKey(pin)).Err()
}

func pinKey(pin string) string {
	return "quiz:pin:" + pin
}
