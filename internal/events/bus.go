// Package events carries the core's two asynchronous boundaries: an
// in-process bus for domain events and a Redis Streams queue for sync tasks
// that touch external systems.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Type string

const (
	MessageReceived  Type = "message.received"
	EmailReceived    Type = "email.received"
	LeadCreated      Type = "lead.created"
	ViewingCompleted Type = "viewing.completed"
	FollowUpDue      Type = "follow_up.due"
	ListingNew       Type = "listing.new"
	DealStageChanged Type = "deal.stage_changed"
	DocumentSigned   Type = "document.signed"
)

// Status of an event after its handlers ran
type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusError      Status = "error"
)

// Event is one domain occurrence
type Event struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	Payload        map[string]any `json:"payload"`
	Source         string         `json:"source,omitempty"` // webhook, cron, ui
	ConversationID string         `json:"conversation_id,omitempty"`
	ContactID      string         `json:"contact_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Seq            uint64         `json:"seq"`
	Status         Status         `json:"status"`
	Error          string         `json:"error,omitempty"`
}

// Marshal returns JSON for logs
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// String returns a payload field as a string, or ""
func (e Event) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

type Handler func(ctx context.Context, e Event) error

// Bus dispatches events to handlers registered per type. Handlers run
// sequentially in registration order; a failing handler is logged and does
// not stop the others. Every published event is kept in a bounded history.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	history  *ring
	logger   *zap.Logger
	now      func() time.Time
}

const defaultHistory = 256

func NewBus(capacity int, logger *zap.Logger) *Bus {
	if capacity <= 0 {
		capacity = defaultHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[Type][]Handler),
		history:  newRing(capacity),
		logger:   logger,
		now:      time.Now,
	}
}

// On registers h for events of type t
func (b *Bus) On(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Emit runs every handler for e.Type and returns the recorded event
func (b *Bus) Emit(ctx context.Context, e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	e.Status = StatusProcessing

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	b.logger.Info("Event received",
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("source", e.Source),
		zap.Int("handlers", len(handlers)),
	)

	var failures []string
	for i, h := range handlers {
		if err := b.run(ctx, h, e); err != nil {
			failures = append(failures, err.Error())
			b.logger.Error("Event handler failed",
				zap.String("event_id", e.ID),
				zap.String("type", string(e.Type)),
				zap.Int("handler", i),
				zap.Error(err),
			)
		}
	}

	e.Status = StatusProcessed
	if len(failures) > 0 {
		e.Status = StatusError
		e.Error = failures[len(failures)-1]
	}

	b.mu.Lock()
	e.Seq = b.history.nextSeq
	b.history.nextSeq++
	b.history.push(e)
	b.mu.Unlock()
	return e
}

func (b *Bus) run(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}

// Since returns recorded events with Seq > seq, oldest first
func (b *Bus) Since(seq uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.since(seq)
}

// Recent returns the whole retained history
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.all()
}

type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity), nextSeq: 1} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

func (r *ring) all() []Event { return r.since(0) }
