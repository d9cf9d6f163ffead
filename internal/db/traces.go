package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/estio/agentcore/internal/tracing"
)

// ErrTraceNotFound is returned by GetTrace for unknown ids
var ErrTraceNotFound = errors.New("trace not found")

type traceRow struct {
	tracing.Trace
	OutputJSON JSONB `db:"output"`
}

type spanRow struct {
	tracing.Span
	OutputJSON JSONB `db:"output"`
}

// TraceStore persists tracing records through the client's ordered write
// queue. It satisfies tracing.Store.
type TraceStore struct {
	client *Client
}

func NewTraceStore(client *Client) *TraceStore {
	return &TraceStore{client: client}
}

func (s *TraceStore) SaveTrace(_ context.Context, t tracing.Trace) error {
	s.client.QueueWrite(WriteTypeTrace, t.TraceID, &traceRow{Trace: t, OutputJSON: JSONB(t.Output)}, nil)
	return nil
}

func (s *TraceStore) UpdateTrace(ctx context.Context, t tracing.Trace) error {
	return s.SaveTrace(ctx, t)
}

func (s *TraceStore) SaveSpan(_ context.Context, sp tracing.Span) error {
	s.client.QueueWrite(WriteTypeSpan, sp.TraceID, &spanRow{Span: sp, OutputJSON: JSONB(sp.Output)}, nil)
	return nil
}

func (s *TraceStore) UpdateSpan(ctx context.Context, sp tracing.Span) error {
	return s.SaveSpan(ctx, sp)
}

// GetTrace reads a trace back
func (s *TraceStore) GetTrace(ctx context.Context, traceID string) (*tracing.Trace, error) {
	var row traceRow
	err := s.client.db.GetContext(ctx, &row, s.client.db.Rebind(`
		SELECT trace_id, conversation_id, status, input, output, cost, tokens,
			model, thought_summary, started_at, ended_at, latency_ms
		FROM agent_traces WHERE trace_id = ?`), traceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}
	t := row.Trace
	t.Output = map[string]any(row.OutputJSON)
	return &t, nil
}

// ListSpans returns a trace's spans in start order
func (s *TraceStore) ListSpans(ctx context.Context, traceID string) ([]tracing.Span, error) {
	var rows []spanRow
	err := s.client.db.SelectContext(ctx, &rows, s.client.db.Rebind(`
		SELECT span_id, trace_id, parent_span_id, name, kind, status, output,
			started_at, ended_at, latency_ms
		FROM agent_spans WHERE trace_id = ?
		ORDER BY started_at, name`), traceID)
	if err != nil {
		return nil, fmt.Errorf("list spans: %w", err)
	}
	out := make([]tracing.Span, 0, len(rows))
	for _, r := range rows {
		sp := r.Span
		sp.Output = map[string]any(r.OutputJSON)
		out = append(out, sp)
	}
	return out, nil
}

func (c *Client) upsertTrace(ctx context.Context, r *traceRow) error {
	_, err := c.db.ExecContext(ctx, c.db.Rebind(`
		INSERT INTO agent_traces (
			trace_id, conversation_id, status, input, output, cost, tokens,
			model, thought_summary, started_at, ended_at, latency_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trace_id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			cost = excluded.cost,
			tokens = excluded.tokens,
			model = excluded.model,
			thought_summary = excluded.thought_summary,
			ended_at = excluded.ended_at,
			latency_ms = excluded.latency_ms`),
		r.TraceID, r.ConversationID, string(r.Status), r.Input, r.OutputJSON, r.Cost, r.Tokens,
		r.Model, r.ThoughtSummary, r.StartedAt, r.EndedAt, r.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("upsert trace: %w", err)
	}
	return nil
}

func (c *Client) upsertSpan(ctx context.Context, r *spanRow) error {
	_, err := c.db.ExecContext(ctx, c.db.Rebind(`
		INSERT INTO agent_spans (
			span_id, trace_id, parent_span_id, name, kind, status, output,
			started_at, ended_at, latency_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (span_id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			ended_at = excluded.ended_at,
			latency_ms = excluded.latency_ms`),
		r.SpanID, r.TraceID, r.ParentSpanID, r.Name, string(r.Kind), string(r.Status), r.OutputJSON,
		r.StartedAt, r.EndedAt, r.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("upsert span: %w", err)
	}
	return nil
}
