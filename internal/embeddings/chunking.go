package embeddings

import "strings"

// ChunkingConfig controls splitting of texts longer than the model window
type ChunkingConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxTokens     int  `yaml:"max_tokens"`
	OverlapTokens int  `yaml:"overlap_tokens"`
}

func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Enabled:       true,
		MaxTokens:     1800,
		OverlapTokens: 200,
	}
}

// Chunker splits on whitespace; one word is counted as one token
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

func NewChunker(cfg ChunkingConfig) *Chunker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1800
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.MaxTokens {
		cfg.OverlapTokens = cfg.MaxTokens / 2
	}
	return &Chunker{maxTokens: cfg.MaxTokens, overlapTokens: cfg.OverlapTokens}
}

// Split returns overlapping windows of text, or nil when it already fits
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) <= c.maxTokens {
		return nil
	}
	step := c.maxTokens - c.overlapTokens
	if step <= 0 {
		step = 1
	}
	var chunks []string
	for i := 0; i < len(words); i += step {
		end := min(i+c.maxTokens, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// meanPool averages chunk vectors into one, weighting chunks equally
func meanPool(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range out {
			if i < len(v) {
				out[i] += v[i]
			}
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}
