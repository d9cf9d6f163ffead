package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDraftNotFound     = errors.New("draft not found")
	ErrInvalidTransition = errors.New("invalid draft status transition")
)

// SaveAgentExecution inserts or updates a draft record (idempotent by id)
func (c *Client) SaveAgentExecution(ctx context.Context, e *AgentExecution) error {
	if e == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = DraftStatusDraft
	}
	if !validStatus(e.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidTransition, e.Status)
	}

	query := c.db.Rebind(`
		INSERT INTO agent_executions (
			id, conversation_id, contact_id, trace_id, intent, skill_name,
			draft_reply, thought_summary, status, requires_approval, cost_usd,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			draft_reply = excluded.draft_reply,
			thought_summary = excluded.thought_summary,
			status = excluded.status,
			requires_approval = excluded.requires_approval,
			cost_usd = excluded.cost_usd,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`)

	_, err := c.db.ExecContext(ctx, query,
		e.ID, e.ConversationID, e.ContactID, e.TraceID, e.Intent, e.SkillName,
		e.DraftReply, e.ThoughtSummary, e.Status, e.RequiresApproval, e.CostUSD,
		e.Metadata, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save agent execution: %w", err)
	}
	return nil
}

// GetAgentExecution loads a draft by id
func (c *Client) GetAgentExecution(ctx context.Context, id string) (*AgentExecution, error) {
	var e AgentExecution
	err := c.db.GetContext(ctx, &e, c.db.Rebind(`
		SELECT id, conversation_id, contact_id, trace_id, intent, skill_name,
			draft_reply, thought_summary, status, requires_approval, cost_usd,
			metadata, created_at, updated_at
		FROM agent_executions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent execution: %w", err)
	}
	return &e, nil
}

// ListDrafts returns a conversation's drafts newest first
func (c *Client) ListDrafts(ctx context.Context, conversationID string, limit int) ([]AgentExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []AgentExecution
	err := c.db.SelectContext(ctx, &out, c.db.Rebind(`
		SELECT id, conversation_id, contact_id, trace_id, intent, skill_name,
			draft_reply, thought_summary, status, requires_approval, cost_usd,
			metadata, created_at, updated_at
		FROM agent_executions
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?`), conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return out, nil
}

// SetDraftStatus moves a draft out of review. Only draft → approved|rejected|error is allowed.
func (c *Client) SetDraftStatus(ctx context.Context, id, status string) error {
	if status == DraftStatusDraft || !validStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidTransition, status)
	}
	res, err := c.db.ExecContext(ctx, c.db.Rebind(`
		UPDATE agent_executions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`), status, time.Now().UTC(), id, DraftStatusDraft)
	if err != nil {
		return fmt.Errorf("set draft status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set draft status: %w", err)
	}
	if n == 0 {
		return ErrDraftNotFound
	}
	return nil
}

func validStatus(s string) bool {
	switch s {
	case DraftStatusDraft, DraftStatusApproved, DraftStatusRejected, DraftStatusError:
		return true
	}
	return false
}
