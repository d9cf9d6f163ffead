package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/estio/agentcore/internal/embeddings"
)

// MemoryRepository keeps listings in process
type MemoryRepository struct {
	mu      sync.RWMutex
	props   map[string]Property
	vectors map[string][]float32
}

func NewMemoryRepository(props ...Property) *MemoryRepository {
	r := &MemoryRepository{props: map[string]Property{}, vectors: map[string][]float32{}}
	for _, p := range props {
		r.Put(p)
	}
	return r
}

func (r *MemoryRepository) Put(p Property) {
	if p.Status == "" {
		p.Status = "active"
	}
	r.mu.Lock()
	r.props[p.ID] = p
	r.mu.Unlock()
}

func (r *MemoryRepository) Structured(_ context.Context, p Params, limit int) ([]Property, error) {
	r.mu.RLock()
	var out []Property
	for _, prop := range r.props {
		if matches(prop, p) {
			out = append(out, prop)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Semantic(_ context.Context, p Params, query []float32, limit int) ([]Scored, error) {
	r.mu.RLock()
	var out []Scored
	for id, vec := range r.vectors {
		prop, ok := r.props[id]
		if !ok || prop.LocationID != p.LocationID || !strings.EqualFold(prop.Status, p.Status) {
			continue
		}
		if p.MaxPrice > 0 && prop.Price > p.MaxPrice {
			continue
		}
		if excluded(prop.ID, p.ExcludeIDs) {
			continue
		}
		out = append(out, Scored{Property: prop, Similarity: embeddings.Cosine(query, vec)})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Property.ID < out[j].Property.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) SetEmbedding(_ context.Context, propertyID string, vec []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vectors[propertyID] = vec
	return nil
}

func matches(prop Property, p Params) bool {
	if prop.LocationID != p.LocationID || !strings.EqualFold(prop.Status, p.Status) {
		return false
	}
	if d := strings.ToLower(strings.TrimSpace(p.District)); d != "" &&
		!strings.Contains(strings.ToLower(prop.District), d) &&
		!strings.Contains(strings.ToLower(prop.City), d) {
		return false
	}
	if p.MinPrice > 0 && prop.Price < p.MinPrice {
		return false
	}
	if p.MaxPrice > 0 && prop.Price > p.MaxPrice {
		return false
	}
	if p.Bedrooms > 0 && prop.Bedrooms < p.Bedrooms {
		return false
	}
	if t := strings.ToLower(strings.TrimSpace(p.PropertyType)); t != "" &&
		!strings.Contains(strings.ToLower(prop.PropertyType), t) {
		return false
	}
	if p.DealType != "" && !strings.EqualFold(prop.DealType, p.DealType) {
		return false
	}
	return !excluded(prop.ID, p.ExcludeIDs)
}

func excluded(id string, ids []string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
