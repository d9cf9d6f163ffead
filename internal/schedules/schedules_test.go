package schedules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/db"
	"github.com/estio/agentcore/internal/events"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	client, err := db.Open(ctx, db.Config{Driver: "sqlite3", DSN: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Migrate(ctx, 8))
	return NewStore(client, zaptest.NewLogger(t))
}

var base = time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)

func TestClaimDueFollowUps(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i, due := range []time.Duration{-2 * time.Hour, -time.Hour, time.Hour} {
		require.NoError(t, s.CreateFollowUp(ctx, &FollowUp{
			ID:             []string{"fu-old", "fu-recent", "fu-future"}[i],
			ContactID:      "c1",
			ConversationID: "conv-1",
			Reason:         "after viewing",
			DueAt:          base.Add(due),
		}))
	}

	due, err := s.ClaimDue(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "fu-old", due[0].ID)
	assert.Equal(t, "fu-recent", due[1].ID)
	assert.Equal(t, FollowUpStatusTriggered, due[0].Status)

	// claimed follow-ups never fire twice
	due, err = s.ClaimDue(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	got, err := s.GetFollowUp(ctx, "fu-old")
	require.NoError(t, err)
	assert.Equal(t, FollowUpStatusTriggered, got.Status)
	require.NotNil(t, got.TriggeredAt)
	assert.True(t, got.TriggeredAt.Equal(base))

	future, err := s.GetFollowUp(ctx, "fu-future")
	require.NoError(t, err)
	assert.Equal(t, FollowUpStatusPending, future.Status)
	assert.Nil(t, future.TriggeredAt)
}

func TestClaimDueRespectsLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateFollowUp(ctx, &FollowUp{ContactID: "c1", DueAt: base.Add(-time.Duration(i) * time.Minute)}))
	}
	due, err := s.ClaimDue(ctx, base, 3)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	due, err = s.ClaimDue(ctx, base, 3)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestCancelFollowUp(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateFollowUp(ctx, &FollowUp{ID: "fu-1", ContactID: "c1", DueAt: base}))

	require.NoError(t, s.CancelFollowUp(ctx, "fu-1"))
	require.NoError(t, s.CancelFollowUp(ctx, "fu-1"))
	assert.ErrorIs(t, s.CancelFollowUp(ctx, "missing"), ErrFollowUpNotFound)

	due, err := s.ClaimDue(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCreateFollowUpValidation(t *testing.T) {
	s := openStore(t)
	assert.ErrorIs(t, s.CreateFollowUp(context.Background(), &FollowUp{DueAt: base}), ErrInvalidFollowUp)
	assert.ErrorIs(t, s.CreateFollowUp(context.Background(), &FollowUp{ContactID: "c1"}), ErrInvalidFollowUp)
}

func TestHandleTask(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	task := events.Task{
		ID:   "task-1",
		Type: events.TaskCreateFollowUp,
		Payload: map[string]any{
			"contact_id":      "c1",
			"conversation_id": "conv-1",
			"reason":          "check mortgage approval",
			"due_at":          "2026-09-15T10:00:00Z",
		},
	}
	require.NoError(t, s.HandleTask(ctx, task))
	// redelivery is harmless
	require.NoError(t, s.HandleTask(ctx, task))

	got, err := s.GetFollowUp(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Equal(t, "check mortgage approval", got.Reason)
	assert.True(t, got.DueAt.Equal(time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC)))

	bad := task
	bad.ID = "task-2"
	bad.Payload = map[string]any{"contact_id": "c1", "due_at": "tomorrow"}
	assert.ErrorIs(t, s.HandleTask(ctx, bad), ErrInvalidFollowUp)

	assert.NoError(t, s.HandleTask(ctx, events.Task{Type: events.TaskLogActivity}))
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
	fail   map[string]bool
}

func (r *recordingEmitter) Emit(_ context.Context, e events.Event) events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Status = events.StatusProcessed
	if r.fail[e.ContactID] {
		e.Status = events.StatusError
	}
	r.events = append(r.events, e)
	return e
}

func TestManagerRunsFollowUpJob(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateFollowUp(ctx, &FollowUp{ID: "fu-1", ContactID: "c1", ConversationID: "conv-1", Reason: "viewing", DueAt: base.Add(-time.Minute)}))
	require.NoError(t, s.CreateFollowUp(ctx, &FollowUp{ID: "fu-2", ContactID: "c2", ConversationID: "conv-2", DueAt: base.Add(-time.Minute)}))

	em := &recordingEmitter{fail: map[string]bool{"c2": true}}
	m := NewManager(em, Config{}, zaptest.NewLogger(t))
	m.now = func() time.Time { return base }
	require.NoError(t, m.FromConfig(config.SchedulesConfig{FollowUpSpec: "*/15 * * * *"}, s))

	stats, err := m.RunNow(ctx, "follow_ups")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Emitted)
	assert.Equal(t, 1, stats.Failed)

	require.Len(t, em.events, 2)
	ev := em.events[0]
	assert.Equal(t, events.FollowUpDue, ev.Type)
	assert.Equal(t, "conv-1", ev.ConversationID)
	assert.Equal(t, "fu-1", ev.String("follow_up_id"))
	assert.Equal(t, "viewing", ev.String("reason"))

	last, ok := m.LastRun("follow_ups")
	require.True(t, ok)
	assert.Equal(t, stats.Emitted, last.Emitted)

	next, ok := m.NextRun("follow_ups")
	require.True(t, ok)
	assert.Equal(t, base.Add(15*time.Minute), next)
}

func TestManagerValidation(t *testing.T) {
	m := NewManager(&recordingEmitter{}, Config{MinIntervalMins: 10}, zaptest.NewLogger(t))
	src := DueFunc(func(context.Context, time.Time) ([]events.Event, error) { return nil, nil })

	assert.ErrorIs(t, m.AddJob(Job{Name: "bad", Spec: "every tuesday", Source: src}), ErrInvalidCronExpression)
	assert.ErrorIs(t, m.AddJob(Job{Name: "fast", Spec: "*/5 * * * *", Source: src}), ErrIntervalTooShort)
	require.NoError(t, m.AddJob(Job{Name: "ok", Spec: "*/30 * * * *", Source: src}))
	assert.ErrorIs(t, m.AddJob(Job{Name: "ok", Spec: "0 * * * *", Source: src}), ErrDuplicateJob)

	require.NoError(t, m.RemoveJob("ok"))
	assert.ErrorIs(t, m.RemoveJob("ok"), ErrJobNotFound)
	_, err := m.RunNow(context.Background(), "ok")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestManagerSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	src := DueFunc(func(ctx context.Context, _ time.Time) ([]events.Event, error) {
		close(started)
		<-release
		return []events.Event{{Type: events.ListingNew}}, nil
	})
	m := NewManager(&recordingEmitter{}, Config{}, zaptest.NewLogger(t))
	require.NoError(t, m.AddJob(Job{Name: "listings", Spec: "0 * * * *", Source: src}))

	done := make(chan RunStats)
	go func() {
		s, _ := m.RunNow(context.Background(), "listings")
		done <- s
	}()
	<-started

	s, err := m.RunNow(context.Background(), "listings")
	require.NoError(t, err)
	assert.True(t, s.Skipped)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Emitted)
}

func TestManagerRecordsSourceErrors(t *testing.T) {
	m := NewManager(&recordingEmitter{}, Config{}, zaptest.NewLogger(t))
	src := DueFunc(func(context.Context, time.Time) ([]events.Event, error) {
		return nil, errors.New("db gone")
	})
	require.NoError(t, m.AddJob(Job{Name: "broken", Spec: "0 * * * *", Source: src}))

	s, err := m.RunNow(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, "db gone", s.Error)
	assert.Zero(t, s.Emitted)
}
