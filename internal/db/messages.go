package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveMessage appends a conversation turn
func (c *Client) SaveMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, c.db.Rebind(`
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages of a conversation, oldest first
func (c *Client) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 30
	}
	var rows []Message
	err := c.db.SelectContext(ctx, &rows, c.db.Rebind(`
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?`), conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// ConversationMessages returns every message of a conversation, oldest first
func (c *Client) ConversationMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var rows []Message
	err := c.db.SelectContext(ctx, &rows, c.db.Rebind(`
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation messages: %w", err)
	}
	return rows, nil
}
