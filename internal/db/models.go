package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB represents a jsonb (postgres) or text (sqlite) column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	if len(raw) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(raw, j)
}

// Draft statuses. A draft is never marked sent by this module.
const (
	DraftStatusDraft    = "draft"
	DraftStatusApproved = "approved"
	DraftStatusRejected = "rejected"
	DraftStatusError    = "error"
)

// AgentExecution is one drafted action awaiting human review
type AgentExecution struct {
	ID               string    `json:"id" db:"id"`
	ConversationID   string    `json:"conversation_id" db:"conversation_id"`
	ContactID        string    `json:"contact_id" db:"contact_id"`
	TraceID          string    `json:"trace_id" db:"trace_id"`
	Intent           string    `json:"intent" db:"intent"`
	SkillName        string    `json:"skill_name" db:"skill_name"`
	DraftReply       string    `json:"draft_reply" db:"draft_reply"`
	ThoughtSummary   string    `json:"thought_summary" db:"thought_summary"`
	Status           string    `json:"status" db:"status"`
	RequiresApproval bool      `json:"requires_approval" db:"requires_approval"`
	CostUSD          float64   `json:"cost_usd" db:"cost_usd"`
	Metadata         JSONB     `json:"metadata" db:"metadata"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Message is one turn of a conversation
type Message struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	Role           string    `db:"role"` // contact or agent
	Content        string    `db:"content"`
	CreatedAt      time.Time `db:"created_at"`
}
