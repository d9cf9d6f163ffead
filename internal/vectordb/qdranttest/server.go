// Package qdranttest runs an in-memory subset of the Qdrant REST API for tests:
// collection get/create, upsert, query (cosine), scroll and filters built from
// match, range, is_empty and nested should/must clauses. Scroll pages by
// point id through offset and next_page_offset.
package qdranttest

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

type point struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type collection struct {
	size   int
	points map[string]point
	order  []string
}

// Server is a fake Qdrant
type Server struct {
	*httptest.Server
	mu          sync.Mutex
	collections map[string]*collection
	// DisableQuery makes /points/query answer 404 to exercise the legacy path
	DisableQuery bool
}

func New(t testing.TB) *Server {
	s := &Server{collections: map[string]*collection{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// CreateCollection pre-creates a collection
func (s *Server) CreateCollection(name string, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = &collection{size: size, points: map[string]point{}}
}

// Count returns the number of stored points
func (s *Server) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "collections" {
		http.NotFound(w, r)
		return
	}
	name := parts[1]

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			c, ok := s.collections[name]
			if !ok {
				http.NotFound(w, r)
				return
			}
			writeJSON(w, map[string]any{"result": map[string]any{
				"points_count": len(c.points),
				"config": map[string]any{"params": map[string]any{
					"vectors": map[string]any{"size": c.size, "distance": "Cosine"},
				}},
			}})
		case http.MethodPut:
			var body struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			s.collections[name] = &collection{size: body.Vectors.Size, points: map[string]point{}}
			writeJSON(w, map[string]any{"result": true})
		}
		return
	}

	c, ok := s.collections[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch strings.Join(parts[2:], "/") {
	case "points":
		var body struct {
			Points []point `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, p := range body.Points {
			if c.size > 0 && len(p.Vector) != c.size {
				http.Error(w, "wrong vector size", http.StatusBadRequest)
				return
			}
			if _, exists := c.points[p.ID]; !exists {
				c.order = append(c.order, p.ID)
			}
			c.points[p.ID] = p
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}, "time": 0.001})
	case "points/query", "points/search":
		if s.DisableQuery && parts[3] == "query" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Query  []float64       `json:"query"`
			Vector []float64       `json:"vector"`
			Limit  int             `json:"limit"`
			Filter json.RawMessage `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		q := body.Query
		if q == nil {
			q = body.Vector
		}
		hits := []map[string]any{}
		for _, id := range c.order {
			p := c.points[id]
			if !matches(body.Filter, p.Payload) {
				continue
			}
			hits = append(hits, map[string]any{"id": p.ID, "score": cosine(q, p.Vector), "payload": p.Payload})
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i]["score"].(float64) > hits[j]["score"].(float64) })
		if body.Limit > 0 && len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		if parts[3] == "query" {
			writeJSON(w, map[string]any{"result": map[string]any{"points": hits}})
		} else {
			writeJSON(w, map[string]any{"result": hits})
		}
	case "points/scroll":
		var body struct {
			Limit  int             `json:"limit"`
			Offset any             `json:"offset"`
			Filter json.RawMessage `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		hits := []map[string]any{}
		var next any
		started := body.Offset == nil
		for _, id := range c.order {
			if !started {
				if id != body.Offset {
					continue
				}
				started = true
			}
			p := c.points[id]
			if !matches(body.Filter, p.Payload) {
				continue
			}
			if body.Limit > 0 && len(hits) == body.Limit {
				next = p.ID
				break
			}
			hits = append(hits, map[string]any{"id": p.ID, "payload": p.Payload})
		}
		writeJSON(w, map[string]any{"result": map[string]any{"points": hits, "next_page_offset": next}})
	default:
		http.NotFound(w, r)
	}
}

type filter struct {
	Must    []json.RawMessage `json:"must"`
	MustNot []json.RawMessage `json:"must_not"`
	Should  []json.RawMessage `json:"should"`
}

type condition struct {
	Key   string `json:"key"`
	Match *struct {
		Value any `json:"value"`
	} `json:"match"`
	Range *struct {
		GT  *float64 `json:"gt"`
		GTE *float64 `json:"gte"`
		LT  *float64 `json:"lt"`
		LTE *float64 `json:"lte"`
	} `json:"range"`
	IsEmpty *struct {
		Key string `json:"key"`
	} `json:"is_empty"`
}

func matches(raw json.RawMessage, payload map[string]any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	var f filter
	if err := json.Unmarshal(raw, &f); err != nil {
		return false
	}
	for _, c := range f.Must {
		if !evalCondition(c, payload) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if evalCondition(c, payload) {
			return false
		}
	}
	if len(f.Should) > 0 {
		for _, c := range f.Should {
			if evalCondition(c, payload) {
				return true
			}
		}
		return false
	}
	return true
}

func evalCondition(raw json.RawMessage, payload map[string]any) bool {
	var c condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return false
	}
	switch {
	case c.IsEmpty != nil:
		v, ok := payload[c.IsEmpty.Key]
		return !ok || v == nil
	case c.Match != nil:
		return payload[c.Key] == c.Match.Value
	case c.Range != nil:
		v, ok := payload[c.Key].(float64)
		if !ok {
			return false
		}
		r := c.Range
		return (r.GT == nil || v > *r.GT) && (r.GTE == nil || v >= *r.GTE) &&
			(r.LT == nil || v < *r.LT) && (r.LTE == nil || v <= *r.LTE)
	default:
		return matches(raw, payload)
	}
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
