package vectordb

import (
	"encoding/json"
	"time"
)

// Config controls Qdrant client behavior
type Config struct {
	URL     string
	Timeout time.Duration
	// ExpectedDim is checked by ValidateDimensions; 0 skips the check
	ExpectedDim int
	// Distance used when creating collections (Cosine, Dot, Euclid)
	Distance string
}

// Point is one search or scroll hit
type Point struct {
	ID      string         `json:"-"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"-"`
}

// UpsertItem represents a single point to insert into Qdrant
type UpsertItem struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// UpsertResponse captures basic Qdrant upsert response
type UpsertResponse struct {
	Status string  `json:"status"`
	Time   float64 `json:"time"`
}

// Filter is a Qdrant boolean filter
type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
	Should  []Condition `json:"should,omitempty"`
}

// Condition is a field condition (match or range) or a nested filter
type Condition struct {
	Key     string  `json:"key,omitempty"`
	Match   *Match  `json:"match,omitempty"`
	Range   *Range  `json:"range,omitempty"`
	IsEmpty *IsKey  `json:"is_empty,omitempty"`
	Filter  *Filter `json:"filter,omitempty"`
}

type Match struct {
	Value any `json:"value"`
}

type Range struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

type IsKey struct {
	Key string `json:"key"`
}

// MatchValue builds an exact-match condition
func MatchValue(key string, value any) Condition {
	return Condition{Key: key, Match: &Match{Value: value}}
}

// GreaterThan builds a numeric range condition
func GreaterThan(key string, v float64) Condition {
	return Condition{Key: key, Range: &Range{GT: &v}}
}

// Empty matches points whose key is missing or null
func Empty(key string) Condition {
	return Condition{IsEmpty: &IsKey{Key: key}}
}

// Nested wraps a filter as a condition
func Nested(f Filter) Condition {
	return Condition{Filter: &f}
}

// MarshalJSON inlines nested filters, which Qdrant accepts in place of a
// field condition.
func (c Condition) MarshalJSON() ([]byte, error) {
	if c.Filter != nil {
		return json.Marshal(c.Filter)
	}
	type plain Condition
	return json.Marshal(plain(c))
}
