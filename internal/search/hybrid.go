package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/embeddings"
	"github.com/estio/agentcore/internal/metrics"
)

// Hybrid combines the structured and semantic passes of a Repository
type Hybrid struct {
	repo     Repository
	embedder embeddings.Embedder
	logger   *zap.Logger
}

func NewHybrid(repo Repository, embedder embeddings.Embedder, logger *zap.Logger) *Hybrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hybrid{repo: repo, embedder: embedder, logger: logger}
}

// Search returns up to p.Limit listings. Each pass fetches twice the limit.
// The semantic pass runs only for a non-blank query. A failed pass leaves the
// other one to answer; an error is returned only when no pass succeeds.
func (h *Hybrid) Search(ctx context.Context, p Params) ([]Result, error) {
	start := time.Now()
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if p.Status == "" {
		p.Status = "active"
	}
	wantSemantic := strings.TrimSpace(p.Query) != ""

	structured, structErr := h.repo.Structured(ctx, p, 2*limit)
	if structErr != nil {
		if !wantSemantic {
			metrics.RecordStage("hybrid_search", "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("structured search: %w", structErr)
		}
		metrics.RecordFallback("hybrid_search", "structured_error")
		h.logger.Warn("Structured pass failed, trying semantic results only",
			zap.String("location_id", p.LocationID),
			zap.Error(structErr),
		)
		structured = nil
	}

	mode := "structured_only"
	var semantic []Scored
	if wantSemantic {
		var err error
		semantic, err = h.semantic(ctx, p, 2*limit)
		switch {
		case err != nil && structErr != nil:
			metrics.RecordStage("hybrid_search", "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("hybrid search: structured: %w; semantic: %v", structErr, err)
		case err != nil:
			mode = "degraded"
			reason := "error"
			if errors.Is(err, ErrUnavailable) {
				reason = "unavailable"
			}
			metrics.RecordFallback("hybrid_search", reason)
			h.logger.Warn("Semantic pass failed, using structured results only",
				zap.String("location_id", p.LocationID),
				zap.Error(err),
			)
			semantic = nil
		case structErr != nil:
			mode = "semantic_only"
		default:
			mode = "hybrid"
		}
	}
	metrics.HybridSearches.WithLabelValues(mode).Inc()

	results := Fuse(structured, semantic, limit)
	metrics.RecordStage("hybrid_search", "success", time.Since(start).Seconds())
	h.logger.Debug("Hybrid search",
		zap.String("mode", mode),
		zap.Int("structured", len(structured)),
		zap.Int("semantic", len(semantic)),
		zap.Int("results", len(results)),
	)
	return results, nil
}

func (h *Hybrid) semantic(ctx context.Context, p Params, limit int) ([]Scored, error) {
	if h.embedder == nil {
		return nil, ErrUnavailable
	}
	vec, err := h.embedder.Embed(ctx, p.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrUnavailable, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrUnavailable)
	}
	return h.repo.Semantic(ctx, p, vec, limit)
}

type fused struct {
	property   Property
	score      float64
	reasons    []string
	similarity float64
}

// Fuse merges the two ranked lists. Rank r (0-based) in a pass adds
// 1/(RRFK+r); ties are broken by property ID.
func Fuse(structured []Property, semantic []Scored, limit int) []Result {
	byID := make(map[string]*fused, len(structured)+len(semantic))
	add := func(p Property, rank int, reason string, sim float64) {
		f, ok := byID[p.ID]
		if !ok {
			f = &fused{property: p}
			byID[p.ID] = f
		}
		f.score += 1.0 / float64(RRFK+rank)
		if !contains(f.reasons, reason) {
			f.reasons = append(f.reasons, reason)
		}
		if sim != 0 {
			f.similarity = sim
		}
	}
	for i, p := range structured {
		add(p, i, ReasonCriteria, 0)
	}
	for i, s := range semantic {
		add(s.Property, i, ReasonDescription, s.Similarity)
	}

	all := make([]*fused, 0, len(byID))
	for _, f := range byID {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].property.ID < all[j].property.ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	out := make([]Result, len(all))
	for i, f := range all {
		out[i] = Result{Property: f.property, Score: f.score, Reasons: f.reasons, Similarity: f.similarity}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// PropertyText is the text a listing is embedded from
func PropertyText(p Property) string {
	kind := p.PropertyType
	if kind == "" {
		kind = "Property"
	}
	where := p.District
	if where == "" {
		where = p.City
	}
	price := "N/A"
	if p.Price > 0 {
		price = fmt.Sprintf("€%.0f", p.Price)
	}
	parts := []string{
		p.Title,
		p.Description,
		strings.TrimSpace(fmt.Sprintf("%s in %s", kind, where)),
		fmt.Sprintf("%d bedrooms, %d bathrooms", p.Bedrooms, p.Bathrooms),
		fmt.Sprintf("%g sqm", p.AreaSqm),
		"Price: " + price,
		p.Features,
	}
	kept := parts[:0]
	for _, s := range parts {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ". ")
}

// IndexProperty embeds a listing and stores its vector
func (h *Hybrid) IndexProperty(ctx context.Context, p Property) error {
	if h.embedder == nil {
		return ErrUnavailable
	}
	vec, err := h.embedder.Embed(ctx, PropertyText(p))
	if err != nil {
		return fmt.Errorf("embed property %s: %w", p.ID, err)
	}
	if len(vec) == 0 {
		return fmt.Errorf("embed property %s: empty vector", p.ID)
	}
	if err := h.repo.SetEmbedding(ctx, p.ID, vec); err != nil {
		return fmt.Errorf("store property embedding %s: %w", p.ID, err)
	}
	return nil
}
