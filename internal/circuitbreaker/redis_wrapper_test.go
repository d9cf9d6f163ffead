package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "test-cache", zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx).Err())
	require.NoError(t, wrapper.Set(ctx, "emb:key", "value", time.Minute).Err())

	got := wrapper.Get(ctx, "emb:key")
	require.NoError(t, got.Err())
	assert.Equal(t, "value", got.Val())

	missing := wrapper.Get(ctx, "emb:missing")
	assert.Equal(t, redis.Nil, missing.Err())
	assert.False(t, wrapper.IsCircuitBreakerOpen())
}

func TestRedisWrapper_OpensWhenServerDown(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:        s.Addr(),
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "test-cache-down", zaptest.NewLogger(t))
	ctx := context.Background()
	s.Close()

	for i := 0; i < int(RedisSettings().FailureThreshold); i++ {
		assert.Error(t, wrapper.Get(ctx, "emb:key").Err())
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())
	assert.ErrorIs(t, wrapper.Get(ctx, "emb:key").Err(), ErrCircuitBreakerOpen)
}
