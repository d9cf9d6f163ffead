package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/metrics"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Kind string

const (
	KindTool     Kind = "tool"
	KindThought  Kind = "thought"
	KindPlanning Kind = "planning"
)

// Trace is the root record of one orchestrator run
type Trace struct {
	TraceID        string         `json:"trace_id" db:"trace_id"`
	ConversationID string         `json:"conversation_id" db:"conversation_id"`
	Status         Status         `json:"status" db:"status"`
	Input          string         `json:"input" db:"input"`
	Output         map[string]any `json:"output,omitempty" db:"-"`
	Cost           float64        `json:"cost" db:"cost"`
	Tokens         int            `json:"tokens" db:"tokens"`
	Model          string         `json:"model,omitempty" db:"model"`
	ThoughtSummary string         `json:"thought_summary,omitempty" db:"thought_summary"`
	StartedAt      time.Time      `json:"started_at" db:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty" db:"ended_at"`
	LatencyMs      int64          `json:"latency_ms" db:"latency_ms"`
}

// Span is one step inside a trace. ParentSpanID is the trace ID for top-level spans.
type Span struct {
	SpanID       string         `json:"span_id" db:"span_id"`
	TraceID      string         `json:"trace_id" db:"trace_id"`
	ParentSpanID string         `json:"parent_span_id" db:"parent_span_id"`
	Name         string         `json:"name" db:"name"`
	Kind         Kind           `json:"kind" db:"kind"`
	Status       Status         `json:"status" db:"status"`
	StartedAt    time.Time      `json:"started_at" db:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty" db:"ended_at"`
	LatencyMs    int64          `json:"latency_ms" db:"latency_ms"`
	Output       map[string]any `json:"output,omitempty" db:"-"`
}

type TraceInput struct {
	ConversationID string
	Input          string
	Model          string
}

type TraceResult struct {
	Status         Status
	Output         map[string]any
	Cost           float64
	Tokens         int
	Model          string
	ThoughtSummary string
}

type SpanInput struct {
	Name         string
	Kind         Kind
	ParentSpanID string
}

// Store persists traces and spans. Implementations must tolerate being called
// from several goroutines.
type Store interface {
	SaveTrace(ctx context.Context, t Trace) error
	UpdateTrace(ctx context.Context, t Trace) error
	SaveSpan(ctx context.Context, s Span) error
	UpdateSpan(ctx context.Context, s Span) error
}

type openSpan struct {
	span Span
	otel oteltrace.Span
}

type openTrace struct {
	trace Trace
	otel  oteltrace.Span
}

// Recorder writes the execution tree of a run to a Store and mirrors every
// node as an OpenTelemetry span. Store failures are logged and swallowed so
// tracing never breaks the pipeline.
type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	traces map[string]*openTrace
	spans  map[string]*openSpan
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Recorder{
		store:  store,
		logger: logger,
		now:    time.Now,
		traces: make(map[string]*openTrace),
		spans:  make(map[string]*openSpan),
	}
}

// StartTrace opens a pending trace; the returned context carries its otel span
func (r *Recorder) StartTrace(ctx context.Context, in TraceInput) (context.Context, string) {
	id := uuid.NewString()
	ctx, otelSpan := tracer.Start(ctx, "agent.process", oteltrace.WithAttributes(
		attribute.String("agent.trace_id", id),
		attribute.String("agent.conversation_id", in.ConversationID),
	))

	t := Trace{
		TraceID:        id,
		ConversationID: in.ConversationID,
		Status:         StatusPending,
		Input:          in.Input,
		Model:          in.Model,
		StartedAt:      r.now(),
	}
	r.mu.Lock()
	r.traces[id] = &openTrace{trace: t, otel: otelSpan}
	r.mu.Unlock()

	r.write("trace_start", func() error { return r.store.SaveTrace(ctx, t) })
	return ctx, id
}

// StartSpan opens a pending span under traceID (or under in.ParentSpanID)
func (r *Recorder) StartSpan(ctx context.Context, traceID string, in SpanInput) (context.Context, string) {
	id := uuid.NewString()
	parent := in.ParentSpanID
	if parent == "" {
		parent = traceID
	}
	ctx, otelSpan := tracer.Start(ctx, in.Name, oteltrace.WithAttributes(
		attribute.String("agent.trace_id", traceID),
		attribute.String("agent.span_id", id),
		attribute.String("agent.span_kind", string(in.Kind)),
	))

	s := Span{
		SpanID:       id,
		TraceID:      traceID,
		ParentSpanID: parent,
		Name:         in.Name,
		Kind:         in.Kind,
		Status:       StatusPending,
		StartedAt:    r.now(),
	}
	r.mu.Lock()
	r.spans[id] = &openSpan{span: s, otel: otelSpan}
	r.mu.Unlock()

	r.write("span_start", func() error { return r.store.SaveSpan(ctx, s) })
	return ctx, id
}

// EndSpan closes a span with its final status and optional output
func (r *Recorder) EndSpan(ctx context.Context, spanID string, status Status, output map[string]any) {
	r.mu.Lock()
	open, ok := r.spans[spanID]
	if ok {
		delete(r.spans, spanID)
	}
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("EndSpan for unknown span", zap.String("span_id", spanID))
		return
	}

	end := r.now()
	s := open.span
	s.Status = status
	s.EndedAt = &end
	s.LatencyMs = end.Sub(s.StartedAt).Milliseconds()
	s.Output = output

	if status == StatusError {
		open.otel.SetStatus(codes.Error, "span failed")
	}
	open.otel.End()

	r.write("span_end", func() error { return r.store.UpdateSpan(ctx, s) })
}

// EndTrace closes the trace and attaches aggregated cost, tokens and output
func (r *Recorder) EndTrace(ctx context.Context, traceID string, res TraceResult) {
	r.mu.Lock()
	open, ok := r.traces[traceID]
	if ok {
		delete(r.traces, traceID)
	}
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("EndTrace for unknown trace", zap.String("trace_id", traceID))
		return
	}

	end := r.now()
	t := open.trace
	t.Status = res.Status
	t.Output = res.Output
	t.Cost = res.Cost
	t.Tokens = res.Tokens
	if res.Model != "" {
		t.Model = res.Model
	}
	t.ThoughtSummary = res.ThoughtSummary
	t.EndedAt = &end
	t.LatencyMs = end.Sub(t.StartedAt).Milliseconds()

	open.otel.SetAttributes(
		attribute.Float64("agent.cost_usd", t.Cost),
		attribute.Int("agent.tokens", t.Tokens),
	)
	if res.Status == StatusError {
		open.otel.SetStatus(codes.Error, "trace failed")
	}
	open.otel.End()

	r.write("trace_end", func() error { return r.store.UpdateTrace(ctx, t) })
}

func (r *Recorder) write(kind string, fn func() error) {
	if err := fn(); err != nil {
		metrics.TraceWrites.WithLabelValues(kind, "error").Inc()
		r.logger.Warn("Trace store write failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	metrics.TraceWrites.WithLabelValues(kind, "success").Inc()
}
