package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/estio/agentcore/internal/vectordb"
)

// QdrantRepository keeps insights as points in one Qdrant collection,
// filtered by contact_id payload.
type QdrantRepository struct {
	client     *vectordb.Client
	collection string
	pageSize   int
}

func NewQdrantRepository(client *vectordb.Client, collection string) *QdrantRepository {
	if collection == "" {
		collection = "contact_insights"
	}
	return &QdrantRepository{client: client, collection: collection, pageSize: 256}
}

// Init creates the collection when missing
func (r *QdrantRepository) Init(ctx context.Context, dims int) error {
	return r.client.EnsureCollection(ctx, r.collection, dims)
}

func (r *QdrantRepository) Collection() string { return r.collection }

func (r *QdrantRepository) Insert(ctx context.Context, in Insight) error {
	if len(in.Embedding) == 0 {
		return fmt.Errorf("insert insight: %w: no embedding", ErrUnavailable)
	}
	payload := map[string]any{
		"contact_id": in.ContactID,
		"text":       in.Text,
		"category":   string(in.Category),
		"importance": in.Importance,
		"source":     in.Source,
		"created_at": float64(in.CreatedAt.Unix()),
	}
	if in.ExpiresAt != nil {
		payload["expires_at"] = float64(in.ExpiresAt.Unix())
	}
	_, err := r.client.Upsert(ctx, r.collection, []vectordb.UpsertItem{{
		ID:      in.ID,
		Vector:  in.Embedding,
		Payload: payload,
	}})
	if err != nil {
		return fmt.Errorf("insert insight: %w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *QdrantRepository) Nearest(ctx context.Context, contactID string, query []float32, limit int, now time.Time) ([]ScoredInsight, error) {
	filter := &vectordb.Filter{Must: []vectordb.Condition{
		vectordb.MatchValue("contact_id", contactID),
		vectordb.Nested(vectordb.Filter{Should: []vectordb.Condition{
			vectordb.Empty("expires_at"),
			vectordb.GreaterThan("expires_at", float64(now.Unix())),
		}}),
	}}
	points, err := r.client.Search(ctx, r.collection, query, limit, 0, filter)
	if err != nil {
		return nil, fmt.Errorf("nearest insights: %w: %v", ErrUnavailable, err)
	}
	out := make([]ScoredInsight, 0, len(points))
	for _, p := range points {
		out = append(out, ScoredInsight{Insight: fromPayload(p), Similarity: p.Score})
	}
	return out, nil
}

// Top pages through every point of the contact; Qdrant scroll has no
// payload ordering without an index, so ranking happens here.
func (r *QdrantRepository) Top(ctx context.Context, contactID string, limit int) ([]Insight, error) {
	filter := &vectordb.Filter{Must: []vectordb.Condition{vectordb.MatchValue("contact_id", contactID)}}
	var out []Insight
	var offset any
	for {
		points, next, err := r.client.ScrollPage(ctx, r.collection, filter, r.pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			out = append(out, fromPayload(p))
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}
	sortByImportance(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func fromPayload(p vectordb.Point) Insight {
	in := Insight{ID: p.ID}
	in.ContactID, _ = p.Payload["contact_id"].(string)
	in.Text, _ = p.Payload["text"].(string)
	if c, ok := p.Payload["category"].(string); ok {
		in.Category = Category(c)
	}
	in.Source, _ = p.Payload["source"].(string)
	if v, ok := p.Payload["importance"].(float64); ok {
		in.Importance = int(v)
	}
	if v, ok := p.Payload["created_at"].(float64); ok {
		in.CreatedAt = time.Unix(int64(v), 0).UTC()
	}
	if v, ok := p.Payload["expires_at"].(float64); ok {
		t := time.Unix(int64(v), 0).UTC()
		in.ExpiresAt = &t
	}
	return in
}
