package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/embeddings"
	"github.com/estio/agentcore/internal/metrics"
)

const (
	// DefaultSearchLimit is used when Search is called with k <= 0
	DefaultSearchLimit = 3
	// MinSearchScore is the exclusive cosine threshold for a match
	MinSearchScore = 0.3
)

// Match is one tool_search hit
type Match struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Score       float64        `json:"score"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type indexed struct {
	desc Descriptor
	vec  []float32
}

// Index ranks deferred tools by semantic similarity to a query. Descriptions
// are embedded once when the index is built.
type Index struct {
	embedder embeddings.Embedder
	entries  []indexed
	logger   *zap.Logger
}

// BuildIndex embeds every deferred tool's description in one batch. Tools
// whose embedding comes back empty are left out of the index.
func BuildIndex(ctx context.Context, reg *Registry, embedder embeddings.Embedder, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	deferred := reg.Deferred()
	ix := &Index{embedder: embedder, logger: logger}
	if len(deferred) == 0 {
		return ix, nil
	}

	texts := make([]string, len(deferred))
	for i, d := range deferred {
		texts[i] = d.Description
		if strings.TrimSpace(texts[i]) == "" {
			texts[i] = d.Name
		}
	}
	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed deferred tools: %w", err)
	}
	for i, d := range deferred {
		if i >= len(vecs) || len(vecs[i]) == 0 {
			logger.Warn("Deferred tool not indexed", zap.String("tool", d.Name))
			continue
		}
		ix.entries = append(ix.entries, indexed{desc: d, vec: vecs[i]})
	}
	logger.Info("Tool search index built",
		zap.Int("deferred", len(deferred)),
		zap.Int("indexed", len(ix.entries)),
	)
	return ix, nil
}

// Len reports how many tools are searchable
func (ix *Index) Len() int { return len(ix.entries) }

// Search returns up to k deferred tools scoring above MinSearchScore,
// best first
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if k <= 0 {
		k = DefaultSearchLimit
	}
	qv, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		metrics.ToolSearches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embed tool query: %w", err)
	}
	if len(qv) == 0 {
		metrics.ToolSearches.WithLabelValues("empty").Inc()
		return []Match{}, nil
	}

	matches := make([]Match, 0, len(ix.entries))
	for _, e := range ix.entries {
		score := embeddings.Cosine(qv, e.vec)
		if score <= MinSearchScore {
			continue
		}
		m := Match{Name: e.desc.Name, Description: e.desc.Description, Score: score}
		if e.desc.Schema.Kind != "" {
			m.Parameters = e.desc.Schema.JSONSchema()
		}
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Name < matches[j].Name
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}

	status := "hit"
	if len(matches) == 0 {
		status = "miss"
	}
	metrics.ToolSearches.WithLabelValues(status).Inc()
	return matches, nil
}

// SearchFunc adapts the index to the tool_search meta tool
func (ix *Index) SearchFunc() MetaFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		k := 0
		switch v := args["limit"].(type) {
		case float64:
			k = int(v)
		case int:
			k = v
		}
		return ix.Search(ctx, query, k)
	}
}
