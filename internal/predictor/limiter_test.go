package predictor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estio/agentcore/internal/db"
)

var noon = time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC)

func newRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLimiter(rdb), mr
}

func newSQLLimiter(t *testing.T) *SQLLimiter {
	t.Helper()
	ctx := context.Background()
	client, err := db.Open(ctx, db.Config{Driver: "sqlite3", DSN: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Migrate(ctx, 8))
	return NewSQLLimiter(client)
}

func TestRedisLimiter(t *testing.T) {
	l, mr := newRedisLimiter(t)
	ctx := context.Background()
	limits := Limits{Max: 2, Cooldown: 2 * time.Minute}

	d, err := l.Reserve(ctx, "conv-1", noon, limits)
	require.NoError(t, err)
	assert.Equal(t, Allowed, d)

	d, err = l.Reserve(ctx, "conv-1", noon, limits)
	require.NoError(t, err)
	assert.Equal(t, CoolingDown, d)

	mr.FastForward(2*time.Minute + time.Second)
	d, err = l.Reserve(ctx, "conv-1", noon, limits)
	require.NoError(t, err)
	assert.Equal(t, Allowed, d)

	mr.FastForward(3 * time.Minute)
	d, err = l.Reserve(ctx, "conv-1", noon, limits)
	require.NoError(t, err)
	assert.Equal(t, CapReached, d)

	count, err := mr.Get(redisKeyPrefix + "conv-1:2026-09-14")
	require.NoError(t, err)
	assert.Equal(t, "2", count)

	// the next UTC day has a fresh counter
	d, err = l.Reserve(ctx, "conv-1", noon.Add(24*time.Hour), limits)
	require.NoError(t, err)
	assert.Equal(t, Allowed, d)
}

func TestRedisLimiterRelease(t *testing.T) {
	l, mr := newRedisLimiter(t)
	ctx := context.Background()
	limits := Limits{Max: 1, Cooldown: time.Hour}

	d, err := l.Reserve(ctx, "conv-1", noon, limits)
	require.NoError(t, err)
	require.Equal(t, Allowed, d)
	require.NoError(t, l.Release(ctx, "conv-1", noon))

	assert.False(t, mr.Exists(redisKeyPrefix+"cooldown:conv-1"))
	d, err = l.Reserve(ctx, "conv-1", noon, limits)
	require.NoError(t, err)
	assert.Equal(t, Allowed, d)
}

func TestSQLLimiter(t *testing.T) {
	l := newSQLLimiter(t)
	ctx := context.Background()
	limits := Limits{Max: 2, Cooldown: 2 * time.Minute}

	steps := []struct {
		at   time.Duration
		want Decision
	}{
		{0, Allowed},
		{time.Minute, CoolingDown},
		{3 * time.Minute, Allowed},
		{10 * time.Minute, CapReached},
	}
	for _, s := range steps {
		d, err := l.Reserve(ctx, "conv-1", noon.Add(s.at), limits)
		require.NoError(t, err)
		assert.Equal(t, s.want, d, "at +%s", s.at)
	}

	require.NoError(t, l.Release(ctx, "conv-1", noon))
	d, err := l.Reserve(ctx, "conv-1", noon.Add(11*time.Minute), limits)
	require.NoError(t, err)
	assert.Equal(t, Allowed, d)
}

func TestMemoryLimiter(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()
	limits := Limits{Max: 1, Cooldown: 2 * time.Minute}

	d, _ := l.Reserve(ctx, "conv-1", noon, limits)
	assert.Equal(t, Allowed, d)
	d, _ = l.Reserve(ctx, "conv-1", noon.Add(5*time.Minute), limits)
	assert.Equal(t, CapReached, d)

	require.NoError(t, l.Release(ctx, "conv-1", noon))
	d, _ = l.Reserve(ctx, "conv-1", noon.Add(time.Second), limits)
	assert.Equal(t, Allowed, d)

	// zero limits disable both checks
	for i := 0; i < 5; i++ {
		d, _ = l.Reserve(ctx, "conv-2", noon, Limits{})
		assert.Equal(t, Allowed, d)
	}
}

func TestLimitersNeverExceedCapUnderConcurrency(t *testing.T) {
	redisLimiter, _ := newRedisLimiter(t)
	for name, l := range map[string]Limiter{
		"redis":  redisLimiter,
		"memory": NewMemoryLimiter(),
		"sql":    newSQLLimiter(t),
	} {
		t.Run(name, func(t *testing.T) {
			var allowed atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.Reserve(context.Background(), "busy", noon, Limits{Max: 5})
					if err == nil && d == Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(5), allowed.Load())
		})
	}
}

func TestNewLimiter(t *testing.T) {
	l, err := NewLimiter("memory", nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &MemoryLimiter{}, l)

	_, err = NewLimiter("redis", nil, nil, nil)
	assert.Error(t, err)

	_, err = NewLimiter("sql", nil, nil, nil)
	assert.Error(t, err)

	_, err = NewLimiter("etcd", nil, nil, nil)
	assert.ErrorContains(t, err, "unknown limiter")
}
