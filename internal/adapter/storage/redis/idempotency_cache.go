package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache using Redis.
// It maps a purchase idempotency key to the id of the order it created.
type IdempotencyCache struct {
	client *goredis.Client
	prefix string
}

// NewIdempotencyCache creates a new Redis-backed idempotency cache.
func NewIdempotencyCache(client *goredis.Client) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		prefix: "idempotency:",
	}
}

// Get returns the cached order id, or uuid.Nil if the key does not exist.
func (c *IdempotencyCache) Get(ctx context.Context, key string) (uuid.UUID, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("redis idempotency get: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("redis idempotency value %q: %w", val, err)
	}
	return id, nil
}

// Set stores the order id under key with TTL.
func (c *IdempotencyCache) Set(ctx context.Context, key string, orderID uuid.UUID, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, orderID.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}
