package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estio/agentcore/internal/tracing"
)

func openSQLite(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	client, err := Open(ctx, Config{Driver: "sqlite3", DSN: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Migrate(ctx, 8))
	return client
}

func TestDraftLifecycle(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()

	draft := &AgentExecution{
		ConversationID:   "conv-1",
		ContactID:        "contact-1",
		Intent:           "OFFER",
		SkillName:        "negotiation",
		DraftReply:       "Thanks for the offer, let me check with the owner.",
		RequiresApproval: true,
		Metadata:         JSONB{"suggested_actions": []interface{}{"review_offer_strategy"}},
	}
	require.NoError(t, client.SaveAgentExecution(ctx, draft))
	require.NotEmpty(t, draft.ID)

	got, err := client.GetAgentExecution(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, DraftStatusDraft, got.Status)
	assert.True(t, got.RequiresApproval)
	assert.Equal(t, "negotiation", got.SkillName)
	assert.Equal(t, []interface{}{"review_offer_strategy"}, got.Metadata["suggested_actions"])

	require.NoError(t, client.SetDraftStatus(ctx, draft.ID, DraftStatusApproved))
	got, err = client.GetAgentExecution(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, DraftStatusApproved, got.Status)

	// only drafts can transition
	assert.ErrorIs(t, client.SetDraftStatus(ctx, draft.ID, DraftStatusRejected), ErrDraftNotFound)
	assert.ErrorIs(t, client.SetDraftStatus(ctx, draft.ID, "sent"), ErrInvalidTransition)

	_, err = client.GetAgentExecution(ctx, "missing")
	assert.ErrorIs(t, err, ErrDraftNotFound)

	drafts, err := client.ListDrafts(ctx, "conv-1", 10)
	require.NoError(t, err)
	assert.Len(t, drafts, 1)
}

func TestSaveRejectsSentStatus(t *testing.T) {
	client := openSQLite(t)
	err := client.SaveAgentExecution(context.Background(), &AgentExecution{ConversationID: "c", Status: "sent"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecentMessagesChronological(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 35; i++ {
		role := "contact"
		if i%2 == 1 {
			role = "agent"
		}
		require.NoError(t, client.SaveMessage(ctx, &Message{
			ConversationID: "conv-1",
			Role:           role,
			Content:        string(rune('a' + i%26)),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	msgs, err := client.RecentMessages(ctx, "conv-1", 30)
	require.NoError(t, err)
	require.Len(t, msgs, 30)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[29].CreatedAt))
	assert.Equal(t, base.Add(5*time.Minute).Unix(), msgs[0].CreatedAt.Unix())

	all, err := client.ConversationMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, all, 35)
	assert.Equal(t, base.Unix(), all[0].CreatedAt.Unix())
	assert.Equal(t, "contact", all[0].Role)
}

func TestTraceStoreWithRecorder(t *testing.T) {
	client := openSQLite(t)
	store := NewTraceStore(client)
	rec := tracing.NewRecorder(store, zaptest.NewLogger(t))
	ctx := context.Background()

	ctx, traceID := rec.StartTrace(ctx, tracing.TraceInput{ConversationID: "conv-1", Input: "I'll offer 450000"})
	_, spanID := rec.StartSpan(ctx, traceID, tracing.SpanInput{Name: "Policy Check", Kind: tracing.KindPlanning})
	rec.EndSpan(ctx, spanID, tracing.StatusSuccess, map[string]any{"approved": false})
	rec.EndTrace(ctx, traceID, tracing.TraceResult{Status: tracing.StatusSuccess, Cost: 0.002, Tokens: 900})

	require.NoError(t, client.Flush(ctx))

	tr, err := store.GetTrace(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, tracing.StatusSuccess, tr.Status)
	assert.Equal(t, 900, tr.Tokens)
	require.NotNil(t, tr.EndedAt)

	spans, err := store.ListSpans(ctx, traceID)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, traceID, spans[0].ParentSpanID)
	assert.Equal(t, tracing.StatusSuccess, spans[0].Status)
	assert.Equal(t, false, spans[0].Output["approved"])
}

func TestWithTransactionRollsBack(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()

	err := client.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO draft_counters (conversation_id, day, count, last_at, prev_at) VALUES (?, ?, ?, ?, ?)`,
			"conv-1", "2026-03-01", 1, time.Now().UTC(), time.Now().UTC())
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	var n int
	require.NoError(t, client.Wrapper().GetContext(ctx, &n, `SELECT COUNT(*) FROM draft_counters`))
	assert.Equal(t, 0, n)
}

func TestMigratePostgresDegradesWithoutPgvector(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	client := NewClient(sqlx.NewDb(raw, "postgres"), Config{Workers: 1}, zaptest.NewLogger(t))

	for range commonSchema {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").
		WillReturnError(errors.New(`extension "vector" is not available`))
	mock.ExpectClose()

	require.NoError(t, client.Migrate(context.Background(), 768))
	require.NoError(t, client.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorHelpers(t *testing.T) {
	assert.Equal(t, "[0.5,-1,2.25]", VectorLiteral([]float32{0.5, -1, 2.25}))
	assert.Equal(t, "[]", VectorLiteral(nil))

	assert.True(t, IsVectorUnavailable(&pq.Error{Code: "42704", Message: `type "vector" does not exist`}))
	assert.True(t, IsVectorUnavailable(fmt.Errorf("query: %w", &pq.Error{Code: "42703"})))
	assert.False(t, IsVectorUnavailable(&pq.Error{Code: "57014"}))
	assert.True(t, IsVectorUnavailable(errors.New("no such column: embedding")))
	assert.False(t, IsVectorUnavailable(errors.New("connection reset")))
	assert.False(t, IsVectorUnavailable(nil))
}
