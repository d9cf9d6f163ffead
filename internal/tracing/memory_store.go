package tracing

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps traces in process. Used when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	traces map[string]Trace
	spans  map[string]Span
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{traces: make(map[string]Trace), spans: make(map[string]Span)}
}

func (m *MemoryStore) SaveTrace(_ context.Context, t Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces[t.TraceID] = t
	return nil
}

func (m *MemoryStore) UpdateTrace(_ context.Context, t Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.traces[t.TraceID]; !ok {
		return fmt.Errorf("trace %s not found", t.TraceID)
	}
	m.traces[t.TraceID] = t
	return nil
}

func (m *MemoryStore) SaveSpan(_ context.Context, s Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans[s.SpanID] = s
	return nil
}

func (m *MemoryStore) UpdateSpan(_ context.Context, s Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spans[s.SpanID]; !ok {
		return fmt.Errorf("span %s not found", s.SpanID)
	}
	m.spans[s.SpanID] = s
	return nil
}

// Trace returns a stored trace
func (m *MemoryStore) Trace(id string) (Trace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.traces[id]
	return t, ok
}

// Spans returns the spans of a trace ordered by start time
func (m *MemoryStore) Spans(traceID string) []Span {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Span
	for _, s := range m.spans {
		if s.TraceID == traceID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
