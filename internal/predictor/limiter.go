package predictor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/db"
)

// Decision is the outcome of a draft slot reservation
type Decision string

const (
	Allowed     Decision = "allowed"
	CapReached  Decision = "cap_reached"
	CoolingDown Decision = "cooling_down"
)

// Limits bound drafting per conversation. Max <= 0 disables the daily cap,
// Cooldown <= 0 disables the cooldown.
type Limits struct {
	Max      int
	Cooldown time.Duration
}

// Limiter reserves draft slots. Reserve is an atomic check-and-increment so
// concurrent triggers for one conversation never exceed the cap. Days are UTC
// calendar days.
type Limiter interface {
	Reserve(ctx context.Context, conversationID string, now time.Time, limits Limits) (Decision, error)
	// Release returns the slot taken by the latest Reserve on now's day
	Release(ctx context.Context, conversationID string, now time.Time) error
}

// NewLimiter builds the limiter named by kind: redis, sql or memory
func NewLimiter(kind string, rdb *redis.Client, client *db.Client, logger *zap.Logger) (Limiter, error) {
	switch strings.ToLower(kind) {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis limiter requires a redis client")
		}
		return NewRedisLimiter(rdb), nil
	case "sql":
		if client == nil {
			return nil, fmt.Errorf("sql limiter requires a database client")
		}
		return NewSQLLimiter(client), nil
	case "", "memory":
		if logger != nil {
			logger.Warn("Using in-process draft limiter; caps are not shared across replicas")
		}
		return NewMemoryLimiter(), nil
	default:
		return nil, fmt.Errorf("unknown limiter %q", kind)
	}
}

const redisKeyPrefix = "agentcore:drafts:"

// reserveScript returns 0 allowed, 1 cap reached, 2 cooling down
var reserveScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if max > 0 and count >= max then
	return 1
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 2
end
redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
local cooldown = tonumber(ARGV[3])
if cooldown > 0 then
	redis.call('SET', KEYS[2], '1', 'PX', cooldown)
end
return 0
`)

var releaseScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count > 0 then
	redis.call('DECR', KEYS[1])
end
redis.call('DEL', KEYS[2])
return 0
`)

// RedisLimiter keeps a per-day counter and a cooldown key per conversation
type RedisLimiter struct {
	rdb *redis.Client
	// counters outlive their day so a late release still finds them
	counterTTL time.Duration
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, counterTTL: 48 * time.Hour}
}

func (l *RedisLimiter) keys(conversationID string, now time.Time) []string {
	return []string{
		redisKeyPrefix + conversationID + ":" + db.DraftDay(now),
		redisKeyPrefix + "cooldown:" + conversationID,
	}
}

func (l *RedisLimiter) Reserve(ctx context.Context, conversationID string, now time.Time, limits Limits) (Decision, error) {
	res, err := reserveScript.Run(ctx, l.rdb, l.keys(conversationID, now),
		limits.Max, int64(l.counterTTL/time.Second), limits.Cooldown.Milliseconds(),
	).Int()
	if err != nil {
		return "", fmt.Errorf("reserve draft slot: %w", err)
	}
	switch res {
	case 0:
		return Allowed, nil
	case 1:
		return CapReached, nil
	default:
		return CoolingDown, nil
	}
}

func (l *RedisLimiter) Release(ctx context.Context, conversationID string, now time.Time) error {
	if err := releaseScript.Run(ctx, l.rdb, l.keys(conversationID, now)).Err(); err != nil {
		return fmt.Errorf("release draft slot: %w", err)
	}
	return nil
}

// SQLLimiter stores counters in the draft_counters table
type SQLLimiter struct {
	client *db.Client
}

func NewSQLLimiter(client *db.Client) *SQLLimiter {
	return &SQLLimiter{client: client}
}

func (l *SQLLimiter) Reserve(ctx context.Context, conversationID string, now time.Time, limits Limits) (Decision, error) {
	out, err := l.client.ReserveDraftSlot(ctx, conversationID, now, limits.Max, limits.Cooldown)
	if err != nil {
		return "", err
	}
	switch out {
	case db.SlotCapReached:
		return CapReached, nil
	case db.SlotCoolingDown:
		return CoolingDown, nil
	default:
		return Allowed, nil
	}
}

func (l *SQLLimiter) Release(ctx context.Context, conversationID string, now time.Time) error {
	return l.client.ReleaseDraftSlot(ctx, conversationID, now)
}

type slotState struct {
	day   string
	count int
	last  time.Time
	prev  time.Time
}

// MemoryLimiter is a single-process limiter for tests and local runs
type MemoryLimiter struct {
	mu    sync.Mutex
	state map[string]*slotState
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{state: make(map[string]*slotState)}
}

func (l *MemoryLimiter) Reserve(_ context.Context, conversationID string, now time.Time, limits Limits) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := db.DraftDay(now)
	st, ok := l.state[conversationID]
	if !ok {
		st = &slotState{day: day}
		l.state[conversationID] = st
	}
	if st.day != day {
		st.day, st.count = day, 0
	}
	if limits.Max > 0 && st.count >= limits.Max {
		return CapReached, nil
	}
	if limits.Cooldown > 0 && !st.last.IsZero() && now.Sub(st.last) < limits.Cooldown {
		return CoolingDown, nil
	}
	st.count++
	st.prev, st.last = st.last, now
	return Allowed, nil
}

func (l *MemoryLimiter) Release(_ context.Context, conversationID string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.state[conversationID]
	if !ok || st.day != db.DraftDay(now) {
		return nil
	}
	if st.count > 0 {
		st.count--
	}
	st.last = st.prev
	return nil
}
