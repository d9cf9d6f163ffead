package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper guards the embeddings cache client. A cache miss (redis.Nil)
// is a normal answer and never trips the breaker.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
}

// NewRedisWrapper wraps client; service labels the breaker metrics
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWrapper{
		client:  client,
		cb:      New("redis", service, RedisSettings(), logger),
		service: service,
	}
}

// guarded runs one command through the breaker. When the breaker refuses the
// call, a blank command carrying the refusal is returned instead.
func guarded[C redis.Cmder](ctx context.Context, rw *RedisWrapper, run func() C, blank func() C) C {
	var cmd C
	ran := false
	err := rw.cb.Execute(ctx, func() error {
		cmd, ran = run(), true
		if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		return nil
	})
	DefaultRegistry.Record("redis", rw.service, rw.cb.State(), err == nil)
	if ran {
		return cmd
	}
	cmd = blank()
	cmd.SetErr(err)
	return cmd
}

func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	return guarded(ctx, rw,
		func() *redis.StatusCmd { return rw.client.Ping(ctx) },
		func() *redis.StatusCmd { return redis.NewStatusCmd(ctx) })
}

func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	return guarded(ctx, rw,
		func() *redis.StringCmd { return rw.client.Get(ctx, key) },
		func() *redis.StringCmd { return redis.NewStringCmd(ctx) })
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	return guarded(ctx, rw,
		func() *redis.StatusCmd { return rw.client.Set(ctx, key, value, ttl) },
		func() *redis.StatusCmd { return redis.NewStatusCmd(ctx) })
}

func (rw *RedisWrapper) Close() error { return rw.client.Close() }

func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
