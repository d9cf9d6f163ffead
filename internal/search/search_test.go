package search

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estio/agentcore/internal/db"
	"github.com/estio/agentcore/internal/embeddings/embeddingstest"
)

type recordingRepo struct {
	structured     []Property
	structuredErr  error
	semantic       []Scored
	semanticErr    error
	limits         []int
	semanticCalled bool
	stored         map[string][]float32
}

func (r *recordingRepo) Structured(_ context.Context, _ Params, limit int) ([]Property, error) {
	r.limits = append(r.limits, limit)
	return r.structured, r.structuredErr
}

func (r *recordingRepo) Semantic(_ context.Context, _ Params, _ []float32, limit int) ([]Scored, error) {
	r.semanticCalled = true
	r.limits = append(r.limits, limit)
	return r.semantic, r.semanticErr
}

func (r *recordingRepo) SetEmbedding(_ context.Context, id string, vec []float32) error {
	if r.stored == nil {
		r.stored = map[string][]float32{}
	}
	r.stored[id] = vec
	return nil
}

func prop(id string) Property { return Property{ID: id, LocationID: "loc", Status: "active"} }

func TestFuseRanksItemsFoundByBothPassesFirst(t *testing.T) {
	structured := []Property{prop("A"), prop("B"), prop("C")}
	semantic := []Scored{{Property: prop("C"), Similarity: 0.9}, {Property: prop("D"), Similarity: 0.8}}

	got := Fuse(structured, semantic, 10)
	require.Len(t, got, 4)

	ids := []string{got[0].Property.ID, got[1].Property.ID, got[2].Property.ID, got[3].Property.ID}
	assert.Equal(t, []string{"C", "A", "B", "D"}, ids)
	assert.InDelta(t, 1.0/62+1.0/60, got[0].Score, 1e-12)
	assert.Equal(t, []string{ReasonCriteria, ReasonDescription}, got[0].Reasons)
	assert.InDelta(t, 0.9, got[0].Similarity, 1e-12)
	assert.Equal(t, []string{ReasonCriteria}, got[1].Reasons)
	assert.Zero(t, got[1].Similarity)
	assert.InDelta(t, got[2].Score, got[3].Score, 1e-12)
}

func TestSearchDefaultsAndPassSizes(t *testing.T) {
	repo := &recordingRepo{structured: []Property{prop("A")}}
	h := NewHybrid(repo, embeddingstest.New(16), zaptest.NewLogger(t))

	res, err := h.Search(context.Background(), Params{LocationID: "loc", Query: "sea view villa"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, []int{10, 10}, repo.limits)

	repo.limits = nil
	repo.semanticCalled = false
	_, err = h.Search(context.Background(), Params{LocationID: "loc", Query: "  ", Limit: 3})
	require.NoError(t, err)
	assert.False(t, repo.semanticCalled)
	assert.Equal(t, []int{6}, repo.limits)
}

func TestSearchDegradesToStructured(t *testing.T) {
	repo := &recordingRepo{
		structured:  []Property{prop("A"), prop("B")},
		semanticErr: errors.New("column embedding missing: " + ErrUnavailable.Error()),
	}
	h := NewHybrid(repo, embeddingstest.New(16), zaptest.NewLogger(t))
	res, err := h.Search(context.Background(), Params{LocationID: "loc", Query: "quiet street"})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, []string{ReasonCriteria}, r.Reasons)
	}

	emb := embeddingstest.New(16)
	emb.Err = errors.New("quota exceeded")
	repo = &recordingRepo{structured: []Property{prop("A")}}
	res, err = NewHybrid(repo, emb, zaptest.NewLogger(t)).Search(context.Background(), Params{LocationID: "loc", Query: "garden"})
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.False(t, repo.semanticCalled)
}

func TestSearchDegradesToSemantic(t *testing.T) {
	repo := &recordingRepo{
		structuredErr: errors.New("listings query: connection reset"),
		semantic:      []Scored{{Property: prop("C"), Similarity: 0.8}},
	}
	h := NewHybrid(repo, embeddingstest.New(16), zaptest.NewLogger(t))
	res, err := h.Search(context.Background(), Params{LocationID: "loc", Query: "sea view"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "C", res[0].Property.ID)
	assert.Equal(t, []string{ReasonDescription}, res[0].Reasons)
	assert.True(t, repo.semanticCalled)
}

func TestSearchFailsWhenNoPassCanRun(t *testing.T) {
	repo := &recordingRepo{structuredErr: errors.New("connection reset")}
	h := NewHybrid(repo, embeddingstest.New(16), zaptest.NewLogger(t))

	_, err := h.Search(context.Background(), Params{LocationID: "loc"})
	assert.ErrorContains(t, err, "connection reset")
	assert.False(t, repo.semanticCalled)

	repo.semanticErr = ErrUnavailable
	_, err = h.Search(context.Background(), Params{LocationID: "loc", Query: "garden"})
	assert.ErrorContains(t, err, "connection reset")
	assert.True(t, repo.semanticCalled)
}

func TestMemoryRepositoryHybrid(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	repo := NewMemoryRepository(
		Property{ID: "p1", LocationID: "loc", Title: "Sea view villa", District: "Paphos", Price: 450000, Bedrooms: 3, UpdatedAt: now},
		Property{ID: "p2", LocationID: "loc", Title: "Town flat", District: "Limassol", Price: 250000, Bedrooms: 2, UpdatedAt: now.Add(time.Hour)},
		Property{ID: "p3", LocationID: "loc", Title: "Hill house", District: "Paphos", Price: 900000, Bedrooms: 4, UpdatedAt: now.Add(2 * time.Hour)},
		Property{ID: "p4", LocationID: "other", Title: "Sea view villa", District: "Paphos", Price: 400000, UpdatedAt: now},
	)
	emb := embeddingstest.New(64)
	h := NewHybrid(repo, emb, zaptest.NewLogger(t))
	ctx := context.Background()
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		repo.mu.RLock()
		p := repo.props[id]
		repo.mu.RUnlock()
		require.NoError(t, h.IndexProperty(ctx, p))
	}

	res, err := h.Search(ctx, Params{LocationID: "loc", District: "paphos", MaxPrice: 500000, Query: "sea view villa"})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "p1", res[0].Property.ID)
	assert.Contains(t, res[0].Reasons, ReasonCriteria)
	assert.Contains(t, res[0].Reasons, ReasonDescription)
	assert.Greater(t, res[0].Similarity, 0.0)
	for _, r := range res {
		assert.NotEqual(t, "p4", r.Property.ID)
		assert.NotEqual(t, "p3", r.Property.ID)
	}

	res, err = h.Search(ctx, Params{LocationID: "loc", ExcludeIDs: []string{"p3"}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "p2", res[0].Property.ID)
}

func TestPropertyText(t *testing.T) {
	text := PropertyText(Property{
		Title:        "Sea view villa",
		Description:  "Quiet cul-de-sac",
		PropertyType: "Villa",
		District:     "Paphos",
		Bedrooms:     3,
		Bathrooms:    2,
		AreaSqm:      180,
		Price:        450000,
		Features:     "pool, garden",
	})
	assert.Equal(t, "Sea view villa. Quiet cul-de-sac. Villa in Paphos. 3 bedrooms, 2 bathrooms. 180 sqm. Price: €450000. pool, garden", text)

	bare := PropertyText(Property{City: "Limassol"})
	assert.Equal(t, "Property in Limassol. 0 bedrooms, 0 bathrooms. 0 sqm. Price: N/A", bare)
}

func openSQLite(t *testing.T) *db.Client {
	t.Helper()
	ctx := context.Background()
	client, err := db.Open(ctx, db.Config{Driver: "sqlite3", DSN: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Migrate(ctx, 8))
	return client
}

func TestSQLRepositoryOnSQLite(t *testing.T) {
	repo := NewSQLRepository(openSQLite(t))
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, Property{ID: "p1", LocationID: "loc", Title: "Villa", District: "Paphos", PropertyType: "Villa", DealType: "sale", Price: 450000, Bedrooms: 3, UpdatedAt: now}))
	require.NoError(t, repo.Upsert(ctx, Property{ID: "p2", LocationID: "loc", Title: "Flat", City: "Paphos", PropertyType: "Apartment", DealType: "rent", Price: 1200, Bedrooms: 1, UpdatedAt: now.Add(time.Hour)}))
	require.NoError(t, repo.Upsert(ctx, Property{ID: "p3", LocationID: "loc", Title: "Sold villa", District: "Paphos", Status: "sold", Price: 300000, Bedrooms: 3, UpdatedAt: now}))

	got, err := repo.Structured(ctx, Params{LocationID: "loc", Status: "ACTIVE", District: "paphos"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p2", got[0].ID)

	got, err = repo.Structured(ctx, Params{LocationID: "loc", Status: "active", Bedrooms: 2, DealType: "SALE", PropertyType: "vil"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)

	got, err = repo.Structured(ctx, Params{LocationID: "loc", Status: "active", ExcludeIDs: []string{"p1", "p2"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = repo.Semantic(ctx, Params{LocationID: "loc", Status: "active"}, []float32{1}, 10)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, repo.SetEmbedding(ctx, "p1", []float32{1}), ErrUnavailable)

	h := NewHybrid(repo, embeddingstest.New(8), zaptest.NewLogger(t))
	res, err := h.Search(ctx, Params{LocationID: "loc", Query: "villa with pool"})
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestSQLRepositorySemanticPostgres(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	client := db.NewClient(sqlx.NewDb(raw, "postgres"), db.Config{Workers: 1}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = client.Close() })
	repo := NewSQLRepository(client)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{"id", "location_id", "title", "description", "district", "city", "property_type",
		"deal_type", "status", "price", "bedrooms", "bathrooms", "area_sqm", "features", "updated_at", "similarity"}
	mock.ExpectQuery(regexp.QuoteMeta("1 - (embedding <=> $1::vector) AS similarity")).
		WithArgs("[1,0]", "loc", "active", 500000.0, "p9", "[1,0]", 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("p1", "loc", "Villa", "", "Paphos", "", "Villa", "sale", "active", 450000.0, 3, 2, 180.0, "", now, 0.87))

	hits, err := repo.Semantic(context.Background(), Params{LocationID: "loc", Status: "active", MaxPrice: 500000, ExcludeIDs: []string{"p9"}}, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].Property.ID)
	assert.InDelta(t, 0.87, hits[0].Similarity, 1e-9)

	mock.ExpectQuery("FROM properties").
		WillReturnError(&pq.Error{Code: "42703", Message: `column "embedding" does not exist`})
	_, err = repo.Semantic(context.Background(), Params{LocationID: "loc", Status: "active"}, []float32{1}, 10)
	assert.ErrorIs(t, err, ErrUnavailable)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE properties SET embedding = $1::vector")).
		WithArgs("[0.5]", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetEmbedding(context.Background(), "p1", []float32{0.5}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
