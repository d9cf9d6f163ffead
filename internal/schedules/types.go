package schedules

import (
	"context"
	"time"

	"github.com/estio/agentcore/internal/events"
)

// Follow-up status constants
const (
	FollowUpStatusPending   = "PENDING"
	FollowUpStatusTriggered = "TRIGGERED"
	FollowUpStatusCancelled = "CANCELLED"
)

// FollowUp is a reminder to draft a message to a contact once DueAt passes
type FollowUp struct {
	ID             string     `json:"id" db:"id"`
	ContactID      string     `json:"contact_id" db:"contact_id"`
	ConversationID string     `json:"conversation_id" db:"conversation_id"`
	Reason         string     `json:"reason" db:"reason"`
	Status         string     `json:"status" db:"status"`
	DueAt          time.Time  `json:"due_at" db:"due_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	TriggeredAt    *time.Time `json:"triggered_at,omitempty" db:"triggered_at"`
}

// DueSource yields the events a periodic job should publish at now
type DueSource interface {
	Due(ctx context.Context, now time.Time) ([]events.Event, error)
}

// DueFunc adapts a function to DueSource
type DueFunc func(ctx context.Context, now time.Time) ([]events.Event, error)

func (f DueFunc) Due(ctx context.Context, now time.Time) ([]events.Event, error) {
	return f(ctx, now)
}

// Job is a named cron entry
type Job struct {
	Name   string
	Spec   string
	Source DueSource
}

// RunStats summarises one job run
type RunStats struct {
	Job       string        `json:"job"`
	Emitted   int           `json:"emitted"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
