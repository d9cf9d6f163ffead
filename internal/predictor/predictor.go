// Package predictor turns inbound events into reviewable drafts. It guards the
// orchestrator with a per-conversation daily cap and cooldown, stores any
// draft reply with status draft, and suggests next steps for the agent.
//
// Nothing in this package sends a message.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/compaction"
	"github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/db"
	"github.com/estio/agentcore/internal/metrics"
	"github.com/estio/agentcore/internal/orchestrator"
)

// Source says what raised a trigger
type Source string

const (
	SourceWebhook      Source = "webhook"
	SourceCron         Source = "cron"
	SourceUI           Source = "ui"
	SourceFollowUp     Source = "follow_up"
	SourceListingAlert Source = "listing_alert"
)

const DefaultHistoryLimit = 30

// Trigger asks for a prediction on one conversation
type Trigger struct {
	ConversationID string
	ContactID      string
	Message        string
	DealStage      string
	Source         Source
	// Settings overrides the predictor defaults for this conversation
	Settings *SemiAutoConfig
}

// Prediction is what the agent reviews. DraftID is empty when no draft was stored.
type Prediction struct {
	TraceID               string   `json:"trace_id"`
	DraftID               string   `json:"draft_id,omitempty"`
	DraftReply            string   `json:"draft_reply,omitempty"`
	SuggestedActions      []string `json:"suggested_actions"`
	Intent                string   `json:"intent"`
	SkillUsed             string   `json:"skill_used,omitempty"`
	Reasoning             string   `json:"reasoning"`
	RequiresHumanApproval bool     `json:"requires_human_approval"`
}

var ErrInvalidTrigger = errors.New("trigger requires a conversation id")

type Pipeline interface {
	Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

type HistorySource interface {
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]db.Message, error)
}

type Compactor interface {
	Compact(ctx context.Context, conversationID string) (compaction.Context, error)
}

type DraftStore interface {
	SaveAgentExecution(ctx context.Context, e *db.AgentExecution) error
}

// Deps wires the predictor. Compactor is optional; when set it replaces the
// plain recent-message history.
type Deps struct {
	Pipeline  Pipeline
	Limiter   Limiter
	History   HistorySource
	Compactor Compactor
	Drafts    DraftStore
}

type Predictor struct {
	deps         Deps
	defaults     SemiAutoConfig
	historyLimit int
	logger       *zap.Logger
	now          func() time.Time
}

func New(deps Deps, cfg config.PredictorConfig, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Limiter == nil {
		deps.Limiter = NewMemoryLimiter()
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Predictor{
		deps:         deps,
		defaults:     FromConfig(cfg),
		historyLimit: limit,
		logger:       logger,
		now:          time.Now,
	}
}

// Defaults returns the service-wide settings triggers fall back to
func (p *Predictor) Defaults() SemiAutoConfig {
	return p.defaults
}

// Predict runs one trigger. A trigger that is disabled, over the daily cap or
// inside the cooldown returns (nil, nil).
func (p *Predictor) Predict(ctx context.Context, t Trigger) (*Prediction, error) {
	if t.ConversationID == "" {
		return nil, ErrInvalidTrigger
	}
	settings := p.defaults
	if t.Settings != nil {
		settings = *t.Settings
	}
	if !settings.allows(t.Source) {
		metrics.PredictorTriggers.WithLabelValues("disabled").Inc()
		p.logger.Debug("Prediction disabled for conversation",
			zap.String("conversation_id", t.ConversationID),
			zap.String("source", string(t.Source)),
		)
		return nil, nil
	}

	now := p.now()
	decision, err := p.deps.Limiter.Reserve(ctx, t.ConversationID, now, settings.limits())
	if err != nil {
		metrics.PredictorTriggers.WithLabelValues("limiter_error").Inc()
		return nil, fmt.Errorf("reserve draft slot: %w", err)
	}
	if decision != Allowed {
		metrics.PredictorTriggers.WithLabelValues(string(decision)).Inc()
		p.logger.Info("Prediction skipped",
			zap.String("conversation_id", t.ConversationID),
			zap.String("reason", string(decision)),
		)
		return nil, nil
	}

	res, err := p.deps.Pipeline.Process(ctx, orchestrator.Request{
		ConversationID: t.ConversationID,
		ContactID:      t.ContactID,
		Message:        t.Message,
		History:        p.history(ctx, t.ConversationID),
		DealStage:      t.DealStage,
	})
	if err != nil {
		p.release(ctx, t.ConversationID, now)
		metrics.PredictorTriggers.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("orchestrate: %w", err)
	}

	pred := &Prediction{
		TraceID:               res.TraceID,
		DraftReply:            res.DraftReply,
		Intent:                res.Intent,
		SkillUsed:             res.SkillUsed,
		Reasoning:             res.Reasoning,
		RequiresHumanApproval: res.RequiresHumanApproval,
		SuggestedActions:      []string{},
	}
	if settings.PredictNextSteps {
		pred.SuggestedActions = SuggestedActions(res.Intent, res.DraftReply != "")
	}

	if res.DraftReply == "" || !settings.DraftReplies {
		// only stored drafts count against the cap
		p.release(ctx, t.ConversationID, now)
		metrics.PredictorTriggers.WithLabelValues("no_draft").Inc()
		return pred, nil
	}

	draft := &db.AgentExecution{
		ConversationID:   t.ConversationID,
		ContactID:        t.ContactID,
		TraceID:          res.TraceID,
		Intent:           res.Intent,
		SkillName:        res.SkillUsed,
		DraftReply:       res.DraftReply,
		ThoughtSummary:   res.Reasoning,
		Status:           db.DraftStatusDraft,
		RequiresApproval: true,
		CostUSD:          res.Cost.Cost,
		Metadata:         metadata(t, pred),
	}
	if err := p.deps.Drafts.SaveAgentExecution(ctx, draft); err != nil {
		p.release(ctx, t.ConversationID, now)
		metrics.PredictorTriggers.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store draft: %w", err)
	}
	pred.DraftID = draft.ID

	metrics.PredictorTriggers.WithLabelValues("drafted").Inc()
	metrics.DraftsCreated.WithLabelValues(res.Intent).Inc()
	p.logger.Info("Draft stored for review",
		zap.String("conversation_id", t.ConversationID),
		zap.String("draft_id", draft.ID),
		zap.String("trace_id", res.TraceID),
		zap.String("intent", res.Intent),
		zap.String("source", string(t.Source)),
		zap.Strings("suggested_actions", pred.SuggestedActions),
	)
	return pred, nil
}

func (p *Predictor) history(ctx context.Context, conversationID string) string {
	if p.deps.Compactor != nil {
		cc, err := p.deps.Compactor.Compact(ctx, conversationID)
		if err == nil {
			return cc.String()
		}
		p.logger.Warn("Conversation compaction failed, using recent messages",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
	if p.deps.History == nil {
		return ""
	}
	msgs, err := p.deps.History.RecentMessages(ctx, conversationID, p.historyLimit)
	if err != nil {
		p.logger.Warn("Failed to load conversation history",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return ""
	}
	return compaction.FormatMessages(msgs)
}

func (p *Predictor) release(ctx context.Context, conversationID string, at time.Time) {
	if err := p.deps.Limiter.Release(ctx, conversationID, at); err != nil {
		p.logger.Warn("Failed to release draft slot",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// SuggestedActions lists the review steps for an intent
func SuggestedActions(intent string, hasDraft bool) []string {
	actions := []string{}
	if hasDraft {
		actions = append(actions, "review_draft_reply")
	}
	switch intent {
	case "SCHEDULE_VIEWING":
		actions = append(actions, "propose_viewing_slots")
	case "PRICE_NEGOTIATION", "OFFER", "COUNTER_OFFER":
		actions = append(actions, "review_offer_strategy")
	case "PROPERTY_SEARCH":
		actions = append(actions, "review_search_results")
	case "CONTRACT_REQUEST":
		actions = append(actions, "review_contract_draft")
	case "FOLLOW_UP":
		actions = append(actions, "review_follow_up_draft")
	}
	return actions
}

func metadata(t Trigger, pred *Prediction) db.JSONB {
	actions := make([]interface{}, len(pred.SuggestedActions))
	for i, a := range pred.SuggestedActions {
		actions[i] = a
	}
	return db.JSONB{
		"suggested_actions":       actions,
		"source":                  string(t.Source),
		"trigger_message":         t.Message,
		"requires_human_approval": pred.RequiresHumanApproval,
	}
}
