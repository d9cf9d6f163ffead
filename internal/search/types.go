// Package search finds listings by fusing a structured filter pass with a
// semantic vector pass using reciprocal rank fusion.
package search

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a semantic pass that cannot run (no vector column,
// no extension, no embedding). Search degrades to structured results.
var ErrUnavailable = errors.New("semantic search unavailable")

const (
	DefaultLimit = 5
	// RRFK is the reciprocal rank fusion constant
	RRFK = 60

	ReasonCriteria    = "Matches your criteria"
	ReasonDescription = "Matches your description"
)

// Property is the listing shape this package reads and indexes
type Property struct {
	ID           string    `json:"id" db:"id"`
	LocationID   string    `json:"location_id" db:"location_id"`
	Title        string    `json:"title" db:"title"`
	Description  string    `json:"description,omitempty" db:"description"`
	District     string    `json:"district,omitempty" db:"district"`
	City         string    `json:"city,omitempty" db:"city"`
	PropertyType string    `json:"property_type,omitempty" db:"property_type"`
	DealType     string    `json:"deal_type,omitempty" db:"deal_type"`
	Status       string    `json:"status" db:"status"`
	Price        float64   `json:"price" db:"price"`
	Bedrooms     int       `json:"bedrooms" db:"bedrooms"`
	Bathrooms    int       `json:"bathrooms" db:"bathrooms"`
	AreaSqm      float64   `json:"area_sqm" db:"area_sqm"`
	Features     string    `json:"features,omitempty" db:"features"` // comma separated
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Params are the search inputs. Zero values mean "no constraint".
type Params struct {
	LocationID   string   `json:"location_id"`
	District     string   `json:"district,omitempty"`
	MinPrice     float64  `json:"min_price,omitempty"`
	MaxPrice     float64  `json:"max_price,omitempty"`
	Bedrooms     int      `json:"bedrooms,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	DealType     string   `json:"deal_type,omitempty"` // sale or rent
	Status       string   `json:"status,omitempty"`    // defaults to active
	Query        string   `json:"query,omitempty"`
	ExcludeIDs   []string `json:"exclude_ids,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// Result is one fused hit
type Result struct {
	Property   Property `json:"property"`
	Score      float64  `json:"score"`
	Reasons    []string `json:"match_reasons"`
	Similarity float64  `json:"semantic_similarity,omitempty"`
}

// Scored is a semantic pass hit
type Scored struct {
	Property   Property
	Similarity float64
}

// Repository runs the two passes. Semantic returns an error wrapping
// ErrUnavailable when vectors cannot be queried.
type Repository interface {
	Structured(ctx context.Context, p Params, limit int) ([]Property, error)
	Semantic(ctx context.Context, p Params, query []float32, limit int) ([]Scored, error)
	SetEmbedding(ctx context.Context, propertyID string, vec []float32) error
}
