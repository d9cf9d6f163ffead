package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/estio/agentcore/internal/circuitbreaker"
	"github.com/estio/agentcore/internal/db"
)

const propertyColumns = `id, location_id, title, description, district, city, property_type,
	deal_type, status, price, bedrooms, bathrooms, area_sqm, features, updated_at`

// SQLRepository queries the properties table. The semantic pass needs the
// pgvector embedding column and reports ErrUnavailable on other drivers.
type SQLRepository struct {
	db *circuitbreaker.DatabaseWrapper
}

func NewSQLRepository(client *db.Client) *SQLRepository {
	return &SQLRepository{db: client.Wrapper()}
}

func (r *SQLRepository) vectorCapable() bool { return r.db.DriverName() == "postgres" }

// Upsert writes a listing (used by the CRM sync and tests)
func (r *SQLRepository) Upsert(ctx context.Context, p Property) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = "active"
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO properties (`+propertyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			district = excluded.district,
			city = excluded.city,
			property_type = excluded.property_type,
			deal_type = excluded.deal_type,
			status = excluded.status,
			price = excluded.price,
			bedrooms = excluded.bedrooms,
			bathrooms = excluded.bathrooms,
			area_sqm = excluded.area_sqm,
			features = excluded.features,
			updated_at = excluded.updated_at`),
		p.ID, p.LocationID, p.Title, p.Description, p.District, p.City, p.PropertyType,
		p.DealType, p.Status, p.Price, p.Bedrooms, p.Bathrooms, p.AreaSqm, p.Features, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert property: %w", err)
	}
	return nil
}

func (r *SQLRepository) Structured(ctx context.Context, p Params, limit int) ([]Property, error) {
	where, args := structuredFilter(p)
	args = append(args, limit)
	rows := []Property{}
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+propertyColumns+`
		FROM properties
		WHERE `+where+`
		ORDER BY updated_at DESC, id
		LIMIT ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("structured query: %w", err)
	}
	return rows, nil
}

type scoredRow struct {
	Property
	Similarity float64 `db:"similarity"`
}

func (r *SQLRepository) Semantic(ctx context.Context, p Params, query []float32, limit int) ([]Scored, error) {
	if !r.vectorCapable() {
		return nil, fmt.Errorf("%w: driver %s has no vector support", ErrUnavailable, r.db.DriverName())
	}
	vec := db.VectorLiteral(query)
	conds := []string{"location_id = ?", "LOWER(status) = LOWER(?)", "embedding IS NOT NULL"}
	args := []any{vec, p.LocationID, p.Status}
	if p.MaxPrice > 0 {
		conds = append(conds, "price <= ?")
		args = append(args, p.MaxPrice)
	}
	if len(p.ExcludeIDs) > 0 {
		conds = append(conds, "id NOT IN ("+placeholders(len(p.ExcludeIDs))+")")
		for _, id := range p.ExcludeIDs {
			args = append(args, id)
		}
	}
	args = append(args, vec, limit)

	rows := []scoredRow{}
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+propertyColumns+`, 1 - (embedding <=> ?::vector) AS similarity
		FROM properties
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY embedding <=> ?::vector
		LIMIT ?`), args...)
	if err != nil {
		if db.IsVectorUnavailable(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("semantic query: %w", err)
	}
	out := make([]Scored, len(rows))
	for i, row := range rows {
		out[i] = Scored{Property: row.Property, Similarity: row.Similarity}
	}
	return out, nil
}

func (r *SQLRepository) SetEmbedding(ctx context.Context, propertyID string, vec []float32) error {
	if !r.vectorCapable() {
		return ErrUnavailable
	}
	_, err := r.db.ExecContext(ctx, `UPDATE properties SET embedding = $1::vector WHERE id = $2`,
		db.VectorLiteral(vec), propertyID)
	if err != nil {
		if db.IsVectorUnavailable(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("set property embedding: %w", err)
	}
	return nil
}

func structuredFilter(p Params) (string, []any) {
	conds := []string{"location_id = ?", "LOWER(status) = LOWER(?)"}
	args := []any{p.LocationID, p.Status}
	if d := strings.TrimSpace(p.District); d != "" {
		like := "%" + strings.ToLower(d) + "%"
		conds = append(conds, "(LOWER(district) LIKE ? OR LOWER(city) LIKE ?)")
		args = append(args, like, like)
	}
	if p.MinPrice > 0 {
		conds = append(conds, "price >= ?")
		args = append(args, p.MinPrice)
	}
	if p.MaxPrice > 0 {
		conds = append(conds, "price <= ?")
		args = append(args, p.MaxPrice)
	}
	if p.Bedrooms > 0 {
		conds = append(conds, "bedrooms >= ?")
		args = append(args, p.Bedrooms)
	}
	if t := strings.TrimSpace(p.PropertyType); t != "" {
		conds = append(conds, "LOWER(property_type) LIKE ?")
		args = append(args, "%"+strings.ToLower(t)+"%")
	}
	if p.DealType != "" {
		conds = append(conds, "LOWER(deal_type) = LOWER(?)")
		args = append(args, p.DealType)
	}
	if len(p.ExcludeIDs) > 0 {
		conds = append(conds, "id NOT IN ("+placeholders(len(p.ExcludeIDs))+")")
		for _, id := range p.ExcludeIDs {
			args = append(args, id)
		}
	}
	return strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
