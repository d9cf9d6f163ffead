package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/config"
	ometrics "github.com/estio/agentcore/internal/metrics"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Service provides embedding generation with two cache tiers: an in-process
// LRU in front of an optional shared cache.
type Service struct {
	cfg      Config
	provider Provider
	shared   Cache
	lru      *LocalLRU
	chunker  *Chunker
	logger   *zap.Logger
}

var _ Embedder = (*Service)(nil)

func NewService(cfg Config, provider Provider, shared Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.withDefaults()
	s := &Service{
		cfg:      c,
		provider: provider,
		shared:   shared,
		lru:      NewLocalLRU(c.MaxLRU),
		logger:   logger,
	}
	if c.Chunking.Enabled {
		s.chunker = NewChunker(c.Chunking)
	}
	return s
}

// NewFromConfig picks the provider named in cfg and, when enabled, a Redis
// shared cache on redisClient. An unreachable Redis only disables the cache.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig, redisClient *redis.Client, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var provider Provider
	switch cfg.Provider {
	case "", "http":
		provider = NewHTTPProvider(cfg.BaseURL, cfg.APIKey, cfg.Timeout, logger)
	case "openai":
		provider = NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Dimensions, nil, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	var shared Cache
	if cfg.EnableRedis && redisClient != nil {
		rc, err := NewRedisCache(ctx, redisClient, logger)
		if err != nil {
			logger.Warn("Embedding Redis cache unavailable, continuing with LRU only", zap.Error(err))
		} else {
			shared = rc
		}
	}
	return NewService(ConfigFrom(cfg), provider, shared, logger), nil
}

// Model returns the embedding model in use
func (s *Service) Model() string { return s.cfg.Model }

// Embed returns the vector for one text. Blank input returns an empty vector
// without a provider call.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return []float32{}, nil
	}
	key := MakeKey(s.cfg.Model, text)
	if v, ok := s.cached(ctx, key); ok {
		return v, nil
	}

	var (
		vec []float32
		err error
	)
	if chunks := s.split(text); chunks != nil {
		var parts [][]float32
		parts, err = s.call(ctx, chunks)
		if err == nil {
			vec = meanPool(parts)
		}
	} else {
		var out [][]float32
		out, err = s.call(ctx, []string{text})
		if err == nil {
			vec = out[0]
		}
	}
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, vec)
	return vec, nil
}

// EmbedBatch embeds texts in order. Cached and blank entries skip the
// provider; the rest go out in batches of at most MaxBatch.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	results := make([][]float32, len(texts))
	var (
		pending    []string
		pendingIdx []int
	)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = []float32{}
			continue
		}
		if v, ok := s.cached(ctx, MakeKey(s.cfg.Model, text)); ok {
			results[i] = v
			continue
		}
		if s.split(text) != nil {
			v, err := s.Embed(ctx, text)
			if err != nil {
				return nil, err
			}
			results[i] = v
			continue
		}
		pending = append(pending, text)
		pendingIdx = append(pendingIdx, i)
	}

	for start := 0; start < len(pending); start += s.cfg.MaxBatch {
		end := min(start+s.cfg.MaxBatch, len(pending))
		out, err := s.call(ctx, pending[start:end])
		if err != nil {
			return nil, err
		}
		for j, vec := range out {
			text := pending[start+j]
			results[pendingIdx[start+j]] = vec
			s.store(ctx, MakeKey(s.cfg.Model, text), vec)
		}
	}
	return results, nil
}

func (s *Service) split(text string) []string {
	if s.chunker == nil {
		return nil
	}
	return s.chunker.Split(text)
}

func (s *Service) cached(ctx context.Context, key string) ([]float32, bool) {
	if v, ok := s.lru.Get(ctx, key); ok {
		ometrics.RecordEmbeddingMetrics(s.cfg.Model, "lru_hit", 0)
		return v, true
	}
	if s.shared != nil {
		if v, ok := s.shared.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, s.cfg.LRUTTL)
			ometrics.RecordEmbeddingMetrics(s.cfg.Model, "cache_hit", 0)
			return v, true
		}
	}
	return nil, false
}

func (s *Service) store(ctx context.Context, key string, vec []float32) {
	s.lru.Set(ctx, key, vec, s.cfg.LRUTTL)
	if s.shared != nil {
		s.shared.Set(ctx, key, vec, s.cfg.CacheTTL)
	}
}

func (s *Service) call(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	out, err := s.provider.Embed(ctx, texts, s.cfg.Model)
	if err != nil {
		ometrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		s.logger.Warn("Embedding request failed",
			zap.String("provider", s.provider.Name()),
			zap.Int("texts", len(texts)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("embed: %w", err)
	}
	if s.cfg.Dimensions > 0 {
		for _, v := range out {
			if len(v) != s.cfg.Dimensions {
				ometrics.RecordEmbeddingMetrics(s.cfg.Model, "bad_dimensions", time.Since(start).Seconds())
				return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), s.cfg.Dimensions)
			}
		}
	}
	ometrics.RecordEmbeddingMetrics(s.cfg.Model, "ok", time.Since(start).Seconds())
	return out, nil
}
