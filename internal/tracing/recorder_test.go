package tracing

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type failingStore struct{}

func (failingStore) SaveTrace(context.Context, Trace) error   { return errors.New("db down") }
func (failingStore) UpdateTrace(context.Context, Trace) error { return errors.New("db down") }
func (failingStore) SaveSpan(context.Context, Span) error     { return errors.New("db down") }
func (failingStore) UpdateSpan(context.Context, Span) error   { return errors.New("db down") }

func fixedClock(start time.Time, step time.Duration) func() time.Time {
	cur := start
	return func() time.Time {
		t := cur
		cur = cur.Add(step)
		return t
	}
}

func TestRecorderSpanTree(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, zaptest.NewLogger(t))
	rec.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10*time.Millisecond)
	ctx := context.Background()

	ctx, traceID := rec.StartTrace(ctx, TraceInput{ConversationID: "conv-1", Input: "Hi"})
	tr, ok := store.Trace(traceID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, tr.Status)

	_, classify := rec.StartSpan(ctx, traceID, SpanInput{Name: "Classify Intent", Kind: KindThought})
	skillCtx, skill := rec.StartSpan(ctx, traceID, SpanInput{Name: "Execute Skill: negotiation", Kind: KindTool})
	_, child := rec.StartSpan(skillCtx, traceID, SpanInput{Name: "tool:calculate_offer_range", Kind: KindTool, ParentSpanID: skill})

	rec.EndSpan(ctx, child, StatusSuccess, nil)
	rec.EndSpan(ctx, classify, StatusSuccess, map[string]any{"intent": "OFFER"})
	rec.EndSpan(ctx, skill, StatusError, map[string]any{"error": "boom"})
	rec.EndTrace(ctx, traceID, TraceResult{Status: StatusSuccess, Cost: 0.0123, Tokens: 1500, Model: "gemini-2.5-pro"})

	spans := store.Spans(traceID)
	require.Len(t, spans, 3)
	byName := map[string]Span{}
	for _, s := range spans {
		byName[s.Name] = s
		assert.NotEqual(t, StatusPending, s.Status)
		require.NotNil(t, s.EndedAt)
		assert.GreaterOrEqual(t, s.LatencyMs, int64(0))
	}
	assert.Equal(t, traceID, byName["Classify Intent"].ParentSpanID)
	assert.Equal(t, traceID, byName["Execute Skill: negotiation"].ParentSpanID)
	assert.Equal(t, skill, byName["tool:calculate_offer_range"].ParentSpanID)
	assert.Equal(t, StatusError, byName["Execute Skill: negotiation"].Status)
	assert.Equal(t, "OFFER", byName["Classify Intent"].Output["intent"])

	tr, _ = store.Trace(traceID)
	assert.Equal(t, StatusSuccess, tr.Status)
	assert.InDelta(t, 0.0123, tr.Cost, 1e-9)
	assert.Equal(t, 1500, tr.Tokens)
	assert.Equal(t, "gemini-2.5-pro", tr.Model)
	require.NotNil(t, tr.EndedAt)
	assert.Greater(t, tr.LatencyMs, int64(0))
}

func TestRecorderSwallowsStoreErrors(t *testing.T) {
	rec := NewRecorder(failingStore{}, zaptest.NewLogger(t))
	ctx, traceID := rec.StartTrace(context.Background(), TraceInput{ConversationID: "c"})
	_, spanID := rec.StartSpan(ctx, traceID, SpanInput{Name: "Policy Check", Kind: KindPlanning})

	assert.NotPanics(t, func() {
		rec.EndSpan(ctx, spanID, StatusSuccess, nil)
		rec.EndTrace(ctx, traceID, TraceResult{Status: StatusSuccess})
	})
}

func TestRecorderUnknownIDs(t *testing.T) {
	rec := NewRecorder(nil, zaptest.NewLogger(t))
	assert.NotPanics(t, func() {
		rec.EndSpan(context.Background(), "missing", StatusSuccess, nil)
		rec.EndTrace(context.Background(), "missing", TraceResult{Status: StatusError})
	})
}

func TestInjectTraceparentWithoutSpan(t *testing.T) {
	req := httptest.NewRequest("GET", "http://embeddings/embeddings/", nil)
	InjectTraceparent(context.Background(), req)
	assert.Empty(t, req.Header.Get("traceparent"))
}

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
