// Package compaction shrinks long conversations into a cached summary of the
// older turns plus the most recent turns verbatim.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/db"
	"github.com/estio/agentcore/internal/llm"
	"github.com/estio/agentcore/internal/metrics"
)

const (
	DefaultRecentMessages = 20
	DefaultCacheTTL       = time.Hour
	DefaultTimeout        = 30 * time.Second

	keyPrefix = "agentcore:compaction:"
)

// MessageSource loads a conversation's full message log, oldest first
type MessageSource interface {
	ConversationMessages(ctx context.Context, conversationID string) ([]db.Message, error)
}

// Context is a compacted conversation
type Context struct {
	Summary string
	Recent  []db.Message
	// Omitted counts the messages folded into Summary
	Omitted int
}

// String renders the context for a prompt
func (c Context) String() string {
	var parts []string
	if c.Summary != "" {
		parts = append(parts, "=== CONVERSATION SUMMARY (older messages) ===\n"+c.Summary+"\n")
	}
	if len(c.Recent) > 0 {
		parts = append(parts, "=== RECENT MESSAGES ===\n"+FormatMessages(c.Recent))
	}
	return strings.Join(parts, "\n")
}

// FormatMessages renders one "[role] content" line per message
func FormatMessages(msgs []db.Message) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = fmt.Sprintf("[%s] %s", m.Role, m.Content)
	}
	return strings.Join(lines, "\n")
}

const summaryPrompt = `You are a real estate CRM assistant. Summarize conversations concisely.
Focus on:
- Key requirements discussed (budget, location, property type, bedrooms)
- Properties shown or discussed (names, prices, reactions)
- Decisions made (offers, viewings scheduled, preferences confirmed)
- Outstanding questions or concerns
- Current deal stage and next expected steps

Keep the summary concise but complete. Use bullet points.`

// Compactor builds compacted contexts. The Redis client is optional; without
// it every call summarises afresh.
type Compactor struct {
	source  MessageSource
	client  llm.Client
	router  *llm.Router
	rdb     *redis.Client
	recent  int
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

func New(source MessageSource, client llm.Client, router *llm.Router, rdb *redis.Client, cfg config.CompactionConfig, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Compactor{
		source:  source,
		client:  client,
		router:  router,
		rdb:     rdb,
		recent:  cfg.RecentMessages,
		ttl:     cfg.CacheTTL,
		timeout: DefaultTimeout,
		logger:  logger,
	}
	if c.recent <= 0 {
		c.recent = DefaultRecentMessages
	}
	if c.ttl <= 0 {
		c.ttl = DefaultCacheTTL
	}
	return c
}

// Compact loads the conversation and folds everything but the last N
// messages into a summary. Only loading the messages can fail.
func (c *Compactor) Compact(ctx context.Context, conversationID string) (Context, error) {
	msgs, err := c.source.ConversationMessages(ctx, conversationID)
	if err != nil {
		return Context{}, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	return c.CompactMessages(ctx, conversationID, msgs), nil
}

// CompactMessages works on an already loaded message log
func (c *Compactor) CompactMessages(ctx context.Context, conversationID string, msgs []db.Message) Context {
	if len(msgs) <= c.recent {
		return Context{Recent: msgs}
	}
	split := len(msgs) - c.recent
	older, recent := msgs[:split], msgs[split:]
	out := Context{Recent: recent, Omitted: len(older)}

	// the key changes whenever another message falls out of the window
	key := fmt.Sprintf("%s%s:%d", keyPrefix, conversationID, len(older))
	if summary, ok := c.cached(ctx, key); ok {
		out.Summary = summary
		return out
	}

	summary, err := c.summarize(ctx, older)
	if err != nil {
		c.logger.Warn("Conversation summarization failed",
			zap.String("conversation_id", conversationID),
			zap.Int("messages", len(older)),
			zap.Error(err),
		)
		metrics.RecordFallback("compaction", "summarize_error")
		out.Summary = fmt.Sprintf("[Auto-summary unavailable. %d earlier messages not shown. Most recent messages follow.]", len(older))
		return out
	}
	out.Summary = summary
	c.store(ctx, key, summary)
	return out
}

func (c *Compactor) summarize(ctx context.Context, older []db.Message) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.client.Generate(ctx, llm.Request{
		Model:        c.router.ModelForTask(llm.TaskSummarization),
		Tier:         c.router.TierForTask(llm.TaskSummarization),
		SystemPrompt: summaryPrompt,
		UserContent:  "Summarize this conversation:\n\n" + FormatMessages(older),
		Temperature:  llm.Temperature(0.3),
	})
	if err != nil {
		metrics.RecordStage("compaction", "error", time.Since(start).Seconds())
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.RecordStage("compaction", "error", time.Since(start).Seconds())
		return "", llm.ErrEmptyResponse
	}
	metrics.RecordStage("compaction", "success", time.Since(start).Seconds())
	return text, nil
}

func (c *Compactor) cached(ctx context.Context, key string) (string, bool) {
	if c.rdb == nil {
		return "", false
	}
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Summary cache read failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return v, true
}

func (c *Compactor) store(ctx context.Context, key, summary string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, summary, c.ttl).Err(); err != nil {
		c.logger.Warn("Summary cache write failed", zap.String("key", key), zap.Error(err))
	}
}
