package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/estio/agentcore/internal/embeddings"
)

// MemoryRepository keeps insights in process. It backs tests and
// single-node deployments without a vector database.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows []Insight
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Insert(_ context.Context, in Insight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, in)
	return nil
}

func (r *MemoryRepository) Nearest(_ context.Context, contactID string, query []float32, limit int, now time.Time) ([]ScoredInsight, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var hits []ScoredInsight
	for _, in := range r.rows {
		if in.ContactID != contactID || len(in.Embedding) == 0 || !isLive(in, now) {
			continue
		}
		hits = append(hits, ScoredInsight{Insight: in, Similarity: embeddings.Cosine(query, in.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []ScoredInsight{}
	}
	return hits, nil
}

func (r *MemoryRepository) Top(_ context.Context, contactID string, limit int) ([]Insight, error) {
	r.mu.RLock()
	var out []Insight
	for _, in := range r.rows {
		if in.ContactID == contactID {
			out = append(out, in)
		}
	}
	r.mu.RUnlock()
	sortByImportance(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByImportance(rows []Insight) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Importance != rows[j].Importance {
			return rows[i].Importance > rows[j].Importance
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
}
