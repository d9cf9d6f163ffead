package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SlotOutcome is the result of a draft slot reservation
type SlotOutcome string

const (
	SlotGranted     SlotOutcome = "granted"
	SlotCapReached  SlotOutcome = "cap_reached"
	SlotCoolingDown SlotOutcome = "cooling_down"
)

// counterEpoch marks "no draft yet" in the NOT NULL timestamp columns
var counterEpoch = time.Unix(0, 0).UTC()

// DraftDay is the UTC calendar day a draft counts against
func DraftDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// ReserveDraftSlot atomically checks the daily cap and the cooldown for a
// conversation and, when both pass, counts one draft at now. A max of zero or
// less disables the cap.
func (c *Client) ReserveDraftSlot(ctx context.Context, conversationID string, now time.Time, max int, cooldown time.Duration) (SlotOutcome, error) {
	now = now.UTC()
	day := DraftDay(now)
	outcome := SlotGranted

	err := c.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO draft_counters (conversation_id, day, count, last_at, prev_at)
			VALUES (?, ?, 0, ?, ?)
			ON CONFLICT (conversation_id, day) DO NOTHING`),
			conversationID, day, counterEpoch, counterEpoch,
		); err != nil {
			return fmt.Errorf("init draft counter: %w", err)
		}

		var row struct {
			Count  int       `db:"count"`
			LastAt time.Time `db:"last_at"`
		}
		query := `SELECT count, last_at FROM draft_counters WHERE conversation_id = ? AND day = ?`
		if c.DriverName() == "postgres" {
			query += ` FOR UPDATE`
		}
		if err := tx.GetContext(ctx, &row, tx.Rebind(query), conversationID, day); err != nil {
			return fmt.Errorf("read draft counter: %w", err)
		}

		if max > 0 && row.Count >= max {
			outcome = SlotCapReached
			return nil
		}

		last := row.LastAt
		if row.Count == 0 {
			// the most recent draft may have been on an earlier day
			err := tx.GetContext(ctx, &last, tx.Rebind(`
				SELECT last_at FROM draft_counters
				WHERE conversation_id = ? AND day < ?
				ORDER BY day DESC LIMIT 1`), conversationID, day)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("read previous draft: %w", err)
			}
		}
		if cooldown > 0 && last.After(counterEpoch) && now.Sub(last) < cooldown {
			outcome = SlotCoolingDown
			return nil
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE draft_counters
			SET count = count + 1, prev_at = last_at, last_at = ?
			WHERE conversation_id = ? AND day = ?`),
			now, conversationID, day,
		); err != nil {
			return fmt.Errorf("count draft: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// ReleaseDraftSlot undoes the last reservation made on now's day
func (c *Client) ReleaseDraftSlot(ctx context.Context, conversationID string, now time.Time) error {
	_, err := c.db.ExecContext(ctx, c.db.Rebind(`
		UPDATE draft_counters
		SET count = CASE WHEN count > 0 THEN count - 1 ELSE 0 END, last_at = prev_at
		WHERE conversation_id = ? AND day = ?`),
		conversationID, DraftDay(now),
	)
	if err != nil {
		return fmt.Errorf("release draft slot: %w", err)
	}
	return nil
}

// DraftCount reports how many drafts are counted for the conversation on now's day
func (c *Client) DraftCount(ctx context.Context, conversationID string, now time.Time) (int, error) {
	var n int
	err := c.db.GetContext(ctx, &n, c.db.Rebind(`
		SELECT count FROM draft_counters WHERE conversation_id = ? AND day = ?`),
		conversationID, DraftDay(now),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read draft count: %w", err)
	}
	return n, nil
}
