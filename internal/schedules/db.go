package schedules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/db"
	"github.com/estio/agentcore/internal/events"
)

var (
	ErrFollowUpNotFound = errors.New("follow-up not found")
	ErrInvalidFollowUp  = errors.New("invalid follow-up")
)

// Store persists follow-ups in the follow_ups table
type Store struct {
	client *db.Client
	logger *zap.Logger
}

func NewStore(client *db.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger}
}

// timestamps are stored at second precision so sqlite text ordering holds
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// CreateFollowUp inserts a pending follow-up; re-inserting an id is a no-op
func (s *Store) CreateFollowUp(ctx context.Context, f *FollowUp) error {
	if f.ContactID == "" || f.DueAt.IsZero() {
		return fmt.Errorf("%w: contact_id and due_at are required", ErrInvalidFollowUp)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := normalize(time.Now())
	f.Status = FollowUpStatusPending
	f.DueAt = normalize(f.DueAt)
	f.CreatedAt, f.UpdatedAt = now, now

	w := s.client.Wrapper()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO follow_ups (
			id, contact_id, conversation_id, reason, status, due_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		f.ID, f.ContactID, f.ConversationID, f.Reason, f.Status, f.DueAt, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create follow-up: %w", err)
	}
	return nil
}

// GetFollowUp loads one follow-up by id
func (s *Store) GetFollowUp(ctx context.Context, id string) (*FollowUp, error) {
	var f FollowUp
	w := s.client.Wrapper()
	err := w.GetContext(ctx, &f, w.Rebind(`
		SELECT id, contact_id, conversation_id, reason, status, due_at, created_at, updated_at, triggered_at
		FROM follow_ups WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFollowUpNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get follow-up: %w", err)
	}
	return &f, nil
}

// CancelFollowUp stops a pending follow-up from firing. Cancelling twice is a no-op.
func (s *Store) CancelFollowUp(ctx context.Context, id string) error {
	w := s.client.Wrapper()
	res, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE follow_ups SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		FollowUpStatusCancelled, normalize(time.Now()), id, FollowUpStatusPending,
	)
	if err != nil {
		return fmt.Errorf("cancel follow-up: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetFollowUp(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ClaimDue marks up to limit pending follow-ups due at or before now as
// triggered and returns them. A follow-up is claimed at most once.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]FollowUp, error) {
	if limit <= 0 {
		limit = 100
	}
	now = normalize(now)
	var due []FollowUp

	err := s.client.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			SELECT id, contact_id, conversation_id, reason, status, due_at, created_at, updated_at, triggered_at
			FROM follow_ups
			WHERE status = ? AND due_at <= ?
			ORDER BY due_at
			LIMIT ?`
		if s.client.DriverName() == "postgres" {
			query += ` FOR UPDATE SKIP LOCKED`
		}
		if err := tx.SelectContext(ctx, &due, tx.Rebind(query), FollowUpStatusPending, now, limit); err != nil {
			return fmt.Errorf("select due follow-ups: %w", err)
		}
		for i := range due {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				UPDATE follow_ups SET status = ?, triggered_at = ?, updated_at = ? WHERE id = ?`),
				FollowUpStatusTriggered, now, now, due[i].ID,
			); err != nil {
				return fmt.Errorf("claim follow-up %s: %w", due[i].ID, err)
			}
			due[i].Status = FollowUpStatusTriggered
			t := now
			due[i].TriggeredAt = &t
			due[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

// HandleTask stores follow-ups requested through the sync queue
func (s *Store) HandleTask(ctx context.Context, t events.Task) error {
	if t.Type != events.TaskCreateFollowUp {
		return nil
	}
	contact, _ := t.Payload["contact_id"].(string)
	conv, _ := t.Payload["conversation_id"].(string)
	reason, _ := t.Payload["reason"].(string)
	rawDue, _ := t.Payload["due_at"].(string)
	due, err := time.Parse(time.RFC3339, rawDue)
	if err != nil {
		return fmt.Errorf("%w: due_at %q", ErrInvalidFollowUp, rawDue)
	}

	f := &FollowUp{ID: t.ID, ContactID: contact, ConversationID: conv, Reason: reason, DueAt: due}
	if err := s.CreateFollowUp(ctx, f); err != nil {
		return err
	}
	s.logger.Info("Follow-up scheduled",
		zap.String("follow_up_id", f.ID),
		zap.String("contact_id", contact),
		zap.Time("due_at", f.DueAt),
	)
	return nil
}

// DueFollowUps publishes one follow_up.due event per claimed follow-up
func (s *Store) DueFollowUps(batch int) DueSource {
	return DueFunc(func(ctx context.Context, now time.Time) ([]events.Event, error) {
		due, err := s.ClaimDue(ctx, now, batch)
		if err != nil {
			return nil, err
		}
		out := make([]events.Event, 0, len(due))
		for _, f := range due {
			out = append(out, events.Event{
				Type:           events.FollowUpDue,
				Source:         "cron",
				ConversationID: f.ConversationID,
				ContactID:      f.ContactID,
				Payload: map[string]any{
					"follow_up_id": f.ID,
					"reason":       f.Reason,
					"due_at":       f.DueAt.Format(time.RFC3339),
				},
			})
		}
		return out, nil
	})
}
