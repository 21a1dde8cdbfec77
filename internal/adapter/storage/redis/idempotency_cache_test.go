package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyCache_SetAndGet(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	key := "purchase:buyer-1:pi_001"
	orderID := uuid.New()

	got, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got)

	require.NoError(t, cache.Set(ctx, key, orderID, 24*time.Hour))

	got, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, orderID, got)
	assert.Equal(t, 24*time.Hour, s.TTL("idempotency:"+key))
}

func TestIdempotencyCache_Expired(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", uuid.New(), time.Second))
	s.FastForward(2 * time.Second)

	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got)
}

func TestIdempotencyCache_CorruptValue(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client)

	require.NoError(t, s.Set("idempotency:k", "not-a-uuid"))

	_, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
}
