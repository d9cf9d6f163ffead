package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/metrics"
)

// Sync task types emitted by tools. The CRM side consumes them.
const (
	TaskUpdateRequirements = "contact.update_requirements"
	TaskLogActivity        = "contact.log_activity"
	TaskScheduleViewing    = "calendar.schedule_viewing"
	TaskGenerateContract   = "contract.generate"
	TaskSendForSignature   = "esign.send"
	TaskCreateFollowUp     = "follow_up.create"
)

// Task is one unit of external work
type Task struct {
	ID         string         `json:"id"`
	Key        string         `json:"key"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	Attempts   int            `json:"attempts"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	LastError  string         `json:"last_error,omitempty"`
}

type TaskHandler func(ctx context.Context, t Task) error

// Enqueuer is what producers depend on
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) (string, error)
}

// Queue is a Redis Streams work queue with a consumer group. Delivery is
// at least once: a failed task is re-added with its attempt count bumped and
// moves to the dead-letter stream once MaxRetries is reached.
type Queue struct {
	rdb    *redis.Client
	cfg    config.EventsConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewQueue(rdb *redis.Client, cfg config.EventsConfig, logger *zap.Logger) *Queue {
	d := config.DefaultConfig().Events
	if cfg.Stream == "" {
		cfg.Stream = d.Stream
	}
	if cfg.Group == "" {
		cfg.Group = d.Group
	}
	if cfg.Consumer == "" {
		cfg.Consumer = d.Consumer
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.DeadLetter == "" {
		cfg.DeadLetter = cfg.Stream + ":dead"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{rdb: rdb, cfg: cfg, logger: logger, now: time.Now}
}

// EnsureGroup creates the stream and consumer group if missing
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Enqueue appends t to the stream and returns the stream entry ID
func (q *Queue) Enqueue(ctx context.Context, t Task) (string, error) {
	if t.Type == "" {
		return "", errors.New("enqueue: empty task type")
	}
	if t.Key == "" {
		t.Key = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = q.now().UTC()
	}
	id, err := q.add(ctx, q.cfg.Stream, t)
	if err != nil {
		metrics.QueueEvents.WithLabelValues(q.cfg.Stream, "enqueue_error").Inc()
		return "", err
	}
	metrics.QueueEvents.WithLabelValues(q.cfg.Stream, "enqueued").Inc()
	q.logger.Debug("Task enqueued",
		zap.String("stream", q.cfg.Stream),
		zap.String("id", id),
		zap.String("type", t.Type),
		zap.String("key", t.Key),
	)
	return id, nil
}

func (q *Queue) add(ctx context.Context, stream string, t Task) (string, error) {
	payload := "{}"
	if t.Payload != nil {
		b, err := json.Marshal(t.Payload)
		if err != nil {
			return "", fmt.Errorf("encode task payload: %w", err)
		}
		payload = string(b)
	}
	values := map[string]interface{}{
		"key":         t.Key,
		"type":        t.Type,
		"payload":     payload,
		"attempts":    strconv.Itoa(t.Attempts),
		"enqueued_at": strconv.FormatInt(t.EnqueuedAt.UnixNano(), 10),
	}
	if t.LastError != "" {
		values["last_error"] = t.LastError
	}
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// Poll reads one batch for this consumer, runs h on each task and returns
// how many were handled
func (q *Queue) Poll(ctx context.Context, h TaskHandler) (int, error) {
	block := q.cfg.Block
	if block <= 0 {
		block = -1
	}
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    10,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("xreadgroup: %w", err)
	}

	n := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			q.handle(ctx, msg, h)
			n++
		}
	}
	return n, nil
}

// Reclaim takes over tasks left pending by a dead consumer for longer than
// minIdle and handles them
func (q *Queue) Reclaim(ctx context.Context, minIdle time.Duration, h TaskHandler) (int, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xautoclaim: %w", err)
	}
	for _, msg := range msgs {
		q.handle(ctx, msg, h)
	}
	return len(msgs), nil
}

// Run polls until ctx is cancelled
func (q *Queue) Run(ctx context.Context, h TaskHandler) error {
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}
	q.logger.Info("Sync queue consumer started",
		zap.String("stream", q.cfg.Stream),
		zap.String("group", q.cfg.Group),
		zap.String("consumer", q.cfg.Consumer),
	)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := q.Poll(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Warn("Sync queue poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if n == 0 && q.cfg.Block <= 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(250 * time.Millisecond):
			}
		}
	}
}

func (q *Queue) handle(ctx context.Context, msg redis.XMessage, h TaskHandler) {
	t, err := decodeTask(msg)
	if err != nil {
		q.logger.Error("Dropping malformed task", zap.String("id", msg.ID), zap.Error(err))
		q.dead(ctx, Task{ID: msg.ID, Type: "malformed", LastError: err.Error()})
		q.ack(ctx, msg.ID)
		return
	}

	if err := h(ctx, t); err != nil {
		t.Attempts++
		t.LastError = err.Error()
		if t.Attempts >= q.cfg.MaxRetries {
			q.logger.Error("Task moved to dead letter",
				zap.String("type", t.Type),
				zap.String("key", t.Key),
				zap.Int("attempts", t.Attempts),
				zap.Error(err),
			)
			q.dead(ctx, t)
		} else {
			q.logger.Warn("Task failed, requeueing",
				zap.String("type", t.Type),
				zap.String("key", t.Key),
				zap.Int("attempts", t.Attempts),
				zap.Error(err),
			)
			if _, rerr := q.add(ctx, q.cfg.Stream, t); rerr != nil {
				// leave it pending so Reclaim can pick it up
				q.logger.Error("Requeue failed", zap.String("id", t.ID), zap.Error(rerr))
				return
			}
			metrics.QueueEvents.WithLabelValues(q.cfg.Stream, "retried").Inc()
		}
		q.ack(ctx, msg.ID)
		return
	}

	metrics.QueueEvents.WithLabelValues(q.cfg.Stream, "acked").Inc()
	q.ack(ctx, msg.ID)
}

func (q *Queue) dead(ctx context.Context, t Task) {
	if _, err := q.add(ctx, q.cfg.DeadLetter, t); err != nil {
		q.logger.Error("Dead letter write failed", zap.String("id", t.ID), zap.Error(err))
		return
	}
	metrics.QueueEvents.WithLabelValues(q.cfg.Stream, "dead_lettered").Inc()
}

func (q *Queue) ack(ctx context.Context, id string) {
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, id).Err(); err != nil {
		q.logger.Warn("Ack failed", zap.String("id", id), zap.Error(err))
	}
}

// DeadLetters returns up to count dead-lettered tasks, oldest first
func (q *Queue) DeadLetters(ctx context.Context, count int64) ([]Task, error) {
	msgs, err := q.rdb.XRangeN(ctx, q.cfg.DeadLetter, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", q.cfg.DeadLetter, err)
	}
	out := make([]Task, 0, len(msgs))
	for _, m := range msgs {
		t, err := decodeTask(m)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeTask(msg redis.XMessage) (Task, error) {
	str := func(k string) string {
		s, _ := msg.Values[k].(string)
		return s
	}
	t := Task{ID: msg.ID, Key: str("key"), Type: str("type"), LastError: str("last_error")}
	if t.Type == "" {
		return t, errors.New("missing task type")
	}
	if raw := str("payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Payload); err != nil {
			return t, fmt.Errorf("decode payload: %w", err)
		}
	}
	if a := str("attempts"); a != "" {
		n, err := strconv.Atoi(a)
		if err != nil {
			return t, fmt.Errorf("decode attempts: %w", err)
		}
		t.Attempts = n
	}
	if ts := str("enqueued_at"); ts != "" {
		if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
			t.EnqueuedAt = time.Unix(0, n).UTC()
		}
	}
	return t, nil
}
