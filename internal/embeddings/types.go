package embeddings

import (
	"context"
	"time"

	"github.com/estio/agentcore/internal/config"
)

// Embedder is what the rest of the core depends on. A blank text yields an
// empty vector without calling the provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider performs the remote embedding call for a batch of non-blank texts
type Provider interface {
	Name() string
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Config controls the embedding service behavior
type Config struct {
	Model string
	// Dimensions is the expected vector length; 0 disables the check
	Dimensions int
	// CacheTTL sets TTL for shared (Redis) cache entries
	CacheTTL time.Duration
	// LRUTTL sets TTL for in-process entries
	LRUTTL time.Duration
	// MaxLRU controls in-process LRU size
	MaxLRU int
	// MaxBatch caps texts per provider call
	MaxBatch int
	// Chunking splits long texts and mean-pools the chunk vectors
	Chunking ChunkingConfig
}

// ConfigFrom maps the loaded configuration section
func ConfigFrom(c config.EmbeddingsConfig) Config {
	return Config{
		Model:      c.Model,
		Dimensions: c.Dimensions,
		CacheTTL:   c.CacheTTL,
		MaxLRU:     c.LRUCapacity,
		MaxBatch:   c.MaxBatch,
		Chunking:   DefaultChunkingConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "text-embedding-004"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.LRUTTL == 0 {
		c.LRUTTL = 30 * time.Minute
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 100
	}
	if c.Chunking.Enabled && c.Chunking.MaxTokens == 0 {
		c.Chunking = DefaultChunkingConfig()
	}
	return c
}
