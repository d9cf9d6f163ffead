package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/estio/agentcore/internal/circuitbreaker"
	"github.com/estio/agentcore/internal/db"
)

// PostgresRepository stores insights in contact_insights with a pgvector
// embedding column.
type PostgresRepository struct {
	db *circuitbreaker.DatabaseWrapper
}

func NewPostgresRepository(client *db.Client) *PostgresRepository {
	return &PostgresRepository{db: client.Wrapper()}
}

func (r *PostgresRepository) Insert(ctx context.Context, in Insight) error {
	var embedding any
	if len(in.Embedding) > 0 {
		embedding = db.VectorLiteral(in.Embedding)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contact_insights
			(id, contact_id, text, category, importance, source, embedding, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8, $9)`,
		in.ID, in.ContactID, in.Text, string(in.Category), in.Importance, in.Source,
		embedding, in.ExpiresAt, in.CreatedAt,
	)
	return classify("insert insight", err)
}

func (r *PostgresRepository) Nearest(ctx context.Context, contactID string, query []float32, limit int, now time.Time) ([]ScoredInsight, error) {
	vec := db.VectorLiteral(query)
	rows := []ScoredInsight{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, contact_id, text, category, importance, source, expires_at, created_at,
			1 - (embedding <=> $2::vector) AS similarity
		FROM contact_insights
		WHERE contact_id = $1
			AND embedding IS NOT NULL
			AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY embedding <=> $2::vector
		LIMIT $4`,
		contactID, vec, now, limit,
	)
	if err != nil {
		return nil, classify("nearest insights", err)
	}
	return rows, nil
}

func (r *PostgresRepository) Top(ctx context.Context, contactID string, limit int) ([]Insight, error) {
	rows := []Insight{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, contact_id, text, category, importance, source, expires_at, created_at
		FROM contact_insights
		WHERE contact_id = $1
		ORDER BY importance DESC, created_at DESC
		LIMIT $2`,
		contactID, limit,
	)
	if err != nil {
		return nil, classify("top insights", err)
	}
	return rows, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if db.IsVectorUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
