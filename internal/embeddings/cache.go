package embeddings

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/circuitbreaker"
)

// Cache stores vectors by key; misses and backend errors both report false
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration)
}

// LocalLRU is an in-process LRU with per-entry TTL
type LocalLRU struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[string]*list.Element
	now   func() time.Time
}

type lruEntry struct {
	key string
	vec []float32
	exp time.Time
}

func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocalLRU{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
		now:   time.Now,
	}
}

func (l *LocalLRU) Get(_ context.Context, key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(lruEntry)
	if !ent.exp.After(l.now()) {
		l.order.Remove(el)
		delete(l.items, key)
		return nil, false
	}
	l.order.MoveToFront(el)
	return ent.vec, true
}

func (l *LocalLRU) Set(_ context.Context, key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ent := lruEntry{key: key, vec: v, exp: l.now().Add(ttl)}
	if el, ok := l.items[key]; ok {
		el.Value = ent
		l.order.MoveToFront(el)
		return
	}
	l.items[key] = l.order.PushFront(ent)
	if l.order.Len() > l.cap {
		if last := l.order.Back(); last != nil {
			delete(l.items, last.Value.(lruEntry).key)
			l.order.Remove(last)
		}
	}
}

// Len reports the number of live and not-yet-evicted entries
func (l *LocalLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// RedisCache shares vectors across processes through a breaker-wrapped client
type RedisCache struct {
	cli *circuitbreaker.RedisWrapper
}

// NewRedisCache wraps client and pings it once
func NewRedisCache(ctx context.Context, client *redis.Client, logger *zap.Logger) (*RedisCache, error) {
	wrapper := circuitbreaker.NewRedisWrapper(client, "embedding-cache", logger)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := wrapper.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{cli: wrapper}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := r.cli.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return decodeVector(b)
}

func (r *RedisCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	_ = r.cli.Set(ctx, key, encodeVector(v), ttl).Err()
}

// little-endian float32 packing
func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}

// MakeKey derives the cache key for a model/text pair
func MakeKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "|" + text))
	return "agentcore:emb:" + hex.EncodeToString(h[:16])
}
