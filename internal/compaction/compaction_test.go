package compaction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/db"
	"github.com/estio/agentcore/internal/llm"
	"github.com/estio/agentcore/internal/llm/llmtest"
)

type staticSource struct {
	msgs []db.Message
	err  error
}

func (s *staticSource) ConversationMessages(_ context.Context, _ string) ([]db.Message, error) {
	return s.msgs, s.err
}

func conversation(n int) []db.Message {
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	out := make([]db.Message, n)
	for i := range out {
		role := "contact"
		if i%2 == 1 {
			role = "agent"
		}
		out[i] = db.Message{
			ConversationID: "conv-1",
			Role:           role,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func newCompactor(t *testing.T, src MessageSource, fake *llmtest.Fake, rdb *redis.Client) *Compactor {
	t.Helper()
	return New(src, fake, llm.NewRouter(config.LLMConfig{}), rdb, config.CompactionConfig{RecentMessages: 20, CacheTTL: time.Hour}, zaptest.NewLogger(t))
}

func TestShortConversationIsNotSummarized(t *testing.T) {
	fake := &llmtest.Fake{}
	c := newCompactor(t, &staticSource{msgs: conversation(20)}, fake, nil)

	out, err := c.Compact(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, out.Summary)
	assert.Len(t, out.Recent, 20)
	assert.Empty(t, fake.Requests())
	assert.NotContains(t, out.String(), "SUMMARY")
	assert.Contains(t, out.String(), "=== RECENT MESSAGES ===\n[contact] message 0\n[agent] message 1")
}

func TestLongConversationSummarizedAndCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fake := &llmtest.Fake{Default: llmtest.Reply{Text: "- Budget 500k\n- Wants Limassol"}}
	src := &staticSource{msgs: conversation(25)}
	c := newCompactor(t, src, fake, rdb)

	out, err := c.Compact(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "- Budget 500k\n- Wants Limassol", out.Summary)
	assert.Equal(t, 5, out.Omitted)
	require.Len(t, out.Recent, 20)
	assert.Equal(t, "message 5", out.Recent[0].Content)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, config.DefaultConfig().LLM.FlashModel, reqs[0].Model)
	assert.Contains(t, reqs[0].UserContent, "[contact] message 0\n[agent] message 1")
	assert.NotContains(t, reqs[0].UserContent, "message 5")

	ttl := mr.TTL(keyPrefix + "conv-1:5")
	assert.Equal(t, time.Hour, ttl)

	// same window → served from cache
	_, err = c.Compact(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, fake.Requests(), 1)

	// one more message shifts the window → fresh summary
	src.msgs = conversation(26)
	_, err = c.Compact(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, fake.Requests(), 2)
}

func TestSummarizationFailureYieldsPlaceholder(t *testing.T) {
	fake := &llmtest.Fake{Default: llmtest.Reply{Err: errors.New("model down")}}
	c := newCompactor(t, &staticSource{msgs: conversation(23)}, fake, nil)

	out, err := c.Compact(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "[Auto-summary unavailable. 3 earlier messages not shown. Most recent messages follow.]", out.Summary)
	assert.Len(t, out.Recent, 20)
	assert.Contains(t, out.String(), "=== CONVERSATION SUMMARY (older messages) ===\n[Auto-summary unavailable.")
}

func TestRedisOutageFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	fake := &llmtest.Fake{Default: llmtest.Reply{Text: "summary"}}
	c := newCompactor(t, &staticSource{msgs: conversation(22)}, fake, rdb)

	out, err := c.Compact(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "summary", out.Summary)
}

func TestCompactLoadError(t *testing.T) {
	c := newCompactor(t, &staticSource{err: errors.New("db gone")}, &llmtest.Fake{}, nil)
	_, err := c.Compact(context.Background(), "conv-1")
	assert.ErrorContains(t, err, "db gone")
}
