// Package memory stores durable, embedded facts about contacts ("insights")
// and retrieves the ones relevant to an incoming message.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/embeddings"
	"github.com/estio/agentcore/internal/metrics"
)

type Category string

const (
	CategoryPreference   Category = "preference"
	CategoryObjection    Category = "objection"
	CategoryTimeline     Category = "timeline"
	CategoryMotivation   Category = "motivation"
	CategoryRelationship Category = "relationship"
)

const (
	DefaultImportance = 5
	DefaultSource     = "agent_extracted"
	DefaultLimit      = 5
	allInsightsLimit  = 20
)

var (
	ErrInvalidCategory = errors.New("invalid insight category")
	// ErrUnavailable means the backing store cannot serve vector queries
	ErrUnavailable = errors.New("memory store unavailable")
)

// ParseCategory validates a category name
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryPreference, CategoryObjection, CategoryTimeline, CategoryMotivation, CategoryRelationship:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// Insight is an immutable memory row
type Insight struct {
	ID         string     `json:"id" db:"id"`
	ContactID  string     `json:"contact_id" db:"contact_id"`
	Text       string     `json:"text" db:"text"`
	Category   Category   `json:"category" db:"category"`
	Importance int        `json:"importance" db:"importance"`
	Source     string     `json:"source" db:"source"`
	Embedding  []float32  `json:"-" db:"-"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// ScoredInsight is a retrieval hit; Similarity is 1 - cosine distance
type ScoredInsight struct {
	Insight
	Similarity float64 `json:"similarity" db:"similarity"`
}

// InsightInput is what skills and tools provide when they learn something
type InsightInput struct {
	ContactID  string
	Text       string
	Category   Category
	Importance int
	Source     string
	ExpiresAt  *time.Time
}

// Repository persists insights and answers vector queries
type Repository interface {
	Insert(ctx context.Context, in Insight) error
	// Nearest returns live insights for contactID ordered by similarity desc
	Nearest(ctx context.Context, contactID string, query []float32, limit int, now time.Time) ([]ScoredInsight, error)
	// Top returns insights for contactID by importance desc, then newest
	Top(ctx context.Context, contactID string, limit int) ([]Insight, error)
}

// Store is the memory facade used by skills and the orchestrator
type Store struct {
	repo     Repository
	embedder embeddings.Embedder
	logger   *zap.Logger
	now      func() time.Time
}

func NewStore(repo Repository, embedder embeddings.Embedder, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, embedder: embedder, logger: logger, now: time.Now}
}

// StoreInsight embeds and persists one insight. Blank text is a no-op.
func (s *Store) StoreInsight(ctx context.Context, in InsightInput) (*Insight, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, nil
	}
	if in.ContactID == "" {
		return nil, errors.New("store insight: contact id is required")
	}
	category, err := ParseCategory(string(in.Category))
	if err != nil {
		return nil, err
	}

	insight := Insight{
		ID:         uuid.NewString(),
		ContactID:  in.ContactID,
		Text:       text,
		Category:   category,
		Importance: clampImportance(in.Importance),
		Source:     in.Source,
		ExpiresAt:  in.ExpiresAt,
		CreatedAt:  s.now().UTC(),
	}
	if insight.Source == "" {
		insight.Source = DefaultSource
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		// the row is still useful to GetAllInsights
		s.logger.Warn("Insight embedding failed, storing without vector",
			zap.String("contact_id", in.ContactID),
			zap.Error(err),
		)
		metrics.RecordFallback("memory_store", "embedding_error")
	} else {
		insight.Embedding = vec
	}

	if err := s.repo.Insert(ctx, insight); err != nil {
		return nil, fmt.Errorf("store insight: %w", err)
	}
	return &insight, nil
}

// RetrieveContext returns up to limit live insights for contactID most
// similar to query. Embedding or store failures yield an empty list.
func (s *Store) RetrieveContext(ctx context.Context, contactID, query string, limit int) []ScoredInsight {
	if limit <= 0 {
		limit = DefaultLimit
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil || len(vec) == 0 {
		if err != nil {
			s.logger.Warn("Query embedding failed, returning no memories",
				zap.String("contact_id", contactID),
				zap.Error(err),
			)
			metrics.RecordFallback("memory_retrieve", "embedding_error")
		}
		return []ScoredInsight{}
	}
	hits, err := s.repo.Nearest(ctx, contactID, vec, limit, s.now().UTC())
	if err != nil {
		s.logger.Warn("Memory retrieval failed",
			zap.String("contact_id", contactID),
			zap.Error(err),
		)
		metrics.RecordFallback("memory_retrieve", "store_error")
		return []ScoredInsight{}
	}
	return hits
}

// GetAllInsights returns the 20 most important insights for contactID
func (s *Store) GetAllInsights(ctx context.Context, contactID string) ([]Insight, error) {
	out, err := s.repo.Top(ctx, contactID, allInsightsLimit)
	if err != nil {
		return nil, fmt.Errorf("get insights: %w", err)
	}
	return out, nil
}

// FormatContext renders hits as prompt lines ("- [preference] Prefers sea view")
func FormatContext(hits []ScoredInsight) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "- [%s] %s\n", h.Category, h.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func clampImportance(v int) int {
	switch {
	case v == 0:
		return DefaultImportance
	case v < 1:
		return 1
	case v > 10:
		return 10
	}
	return v
}

func isLive(in Insight, now time.Time) bool {
	return in.ExpiresAt == nil || in.ExpiresAt.After(now)
}
