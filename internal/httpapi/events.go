// Package httpapi exposes the core on the admin HTTP server: CRM webhooks
// enter as events, the UI can run the pipeline synchronously, and traces and
// drafts can be inspected.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/events"
)

const maxBody = 1 << 20

// EventBus is the part of *events.Bus the ingest handler needs
type EventBus interface {
	Emit(ctx context.Context, e events.Event) events.Event
	Since(seq uint64) []events.Event
}

type IngestHandler struct {
	bus    EventBus
	logger *zap.Logger
}

func NewIngestHandler(bus EventBus, logger *zap.Logger) *IngestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{bus: bus, logger: logger}
}

func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /events", h.handleIngest)
	mux.HandleFunc("GET /events", h.handleList)
}

type ingestEvent struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	ContactID      string         `json:"contact_id,omitempty"`
	Source         string         `json:"source,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      string         `json:"timestamp,omitempty"`
}

// handleIngest accepts one event object or an array and emits each in order.
// Events without a type are skipped.
func (h *IngestHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var single ingestEvent
	var batch []ingestEvent
	if err := json.Unmarshal(body, &single); err == nil && single.Type != "" {
		batch = []ingestEvent{single}
	} else if err := json.Unmarshal(body, &batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	out := make([]events.Event, 0, len(batch))
	for _, in := range batch {
		if in.Type == "" {
			continue
		}
		e := events.Event{
			Type:           events.Type(in.Type),
			ConversationID: in.ConversationID,
			ContactID:      in.ContactID,
			Source:         in.Source,
			Payload:        in.Payload,
		}
		if e.Source == "" {
			e.Source = "webhook"
		}
		if in.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339Nano, in.Timestamp); err == nil {
				e.Timestamp = ts
			}
		}
		out = append(out, h.bus.Emit(r.Context(), e))
	}
	h.logger.Debug("Events ingested", zap.Int("count", len(out)))
	writeJSON(w, http.StatusAccepted, map[string]any{"events": out})
}

// handleList returns retained events after ?since=<seq>
func (h *IngestHandler) handleList(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a sequence number")
			return
		}
		since = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": h.bus.Since(since)})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
