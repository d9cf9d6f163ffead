package db

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var commonSchema = []string{
	`CREATE TABLE IF NOT EXISTS agent_executions (
		id                TEXT PRIMARY KEY,
		conversation_id   TEXT NOT NULL,
		contact_id        TEXT NOT NULL DEFAULT '',
		trace_id          TEXT NOT NULL DEFAULT '',
		intent            TEXT NOT NULL DEFAULT '',
		skill_name        TEXT NOT NULL DEFAULT '',
		draft_reply       TEXT NOT NULL DEFAULT '',
		thought_summary   TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'draft',
		requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
		cost_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
		metadata          TEXT,
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_executions_conversation ON agent_executions (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS agent_traces (
		trace_id        TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		status          TEXT NOT NULL,
		input           TEXT NOT NULL DEFAULT '',
		output          TEXT,
		cost            DOUBLE PRECISION NOT NULL DEFAULT 0,
		tokens          INTEGER NOT NULL DEFAULT 0,
		model           TEXT NOT NULL DEFAULT '',
		thought_summary TEXT NOT NULL DEFAULT '',
		started_at      TIMESTAMP NOT NULL,
		ended_at        TIMESTAMP,
		latency_ms      BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS agent_spans (
		span_id        TEXT PRIMARY KEY,
		trace_id       TEXT NOT NULL,
		parent_span_id TEXT NOT NULL,
		name           TEXT NOT NULL,
		kind           TEXT NOT NULL,
		status         TEXT NOT NULL,
		output         TEXT,
		started_at     TIMESTAMP NOT NULL,
		ended_at       TIMESTAMP,
		latency_ms     BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_spans_trace ON agent_spans (trace_id)`,
	`CREATE TABLE IF NOT EXISTS draft_counters (
		conversation_id TEXT NOT NULL,
		day             TEXT NOT NULL,
		count           INTEGER NOT NULL DEFAULT 0,
		last_at         TIMESTAMP NOT NULL,
		prev_at         TIMESTAMP NOT NULL,
		PRIMARY KEY (conversation_id, day)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS follow_ups (
		id              TEXT PRIMARY KEY,
		contact_id      TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		reason          TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		due_at          TIMESTAMP NOT NULL,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL,
		triggered_at    TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_follow_ups_due ON follow_ups (status, due_at)`,
	`CREATE TABLE IF NOT EXISTS properties (
		id            TEXT PRIMARY KEY,
		location_id   TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		district      TEXT NOT NULL DEFAULT '',
		city          TEXT NOT NULL DEFAULT '',
		property_type TEXT NOT NULL DEFAULT '',
		deal_type     TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'active',
		price         DOUBLE PRECISION NOT NULL DEFAULT 0,
		bedrooms      INTEGER NOT NULL DEFAULT 0,
		bathrooms     INTEGER NOT NULL DEFAULT 0,
		area_sqm      DOUBLE PRECISION NOT NULL DEFAULT 0,
		features      TEXT NOT NULL DEFAULT '',
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_location ON properties (location_id, updated_at)`,
}

// pgvector columns; failure leaves semantic features degraded, not broken
func vectorSchema(dims int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS contact_insights (
			id         TEXT PRIMARY KEY,
			contact_id TEXT NOT NULL,
			text       TEXT NOT NULL,
			category   TEXT NOT NULL,
			importance INTEGER NOT NULL DEFAULT 5,
			source     TEXT NOT NULL DEFAULT 'agent_extracted',
			embedding  vector(%d),
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`, dims),
		`CREATE INDEX IF NOT EXISTS idx_contact_insights_contact ON contact_insights (contact_id)`,
		fmt.Sprintf(`ALTER TABLE properties ADD COLUMN IF NOT EXISTS embedding vector(%d)`, dims),
	}
}

// Migrate creates the tables this module reads and writes. On postgres it
// also tries to add pgvector columns of the given dimension.
func (c *Client) Migrate(ctx context.Context, dims int) error {
	for _, stmt := range commonSchema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if c.DriverName() != "postgres" {
		return nil
	}
	if dims <= 0 {
		dims = 768
	}
	for _, stmt := range vectorSchema(dims) {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			c.logger.Warn("pgvector schema unavailable; semantic search will degrade",
				zap.String("statement", firstLine(stmt)),
				zap.Error(err),
			)
			return nil
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
