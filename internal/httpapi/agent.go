package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/db"
	"github.com/estio/agentcore/internal/orchestrator"
	"github.com/estio/agentcore/internal/tracing"
)

// Pipeline runs one message through the orchestrator
type Pipeline interface {
	Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// TraceReader loads persisted traces
type TraceReader interface {
	GetTrace(ctx context.Context, traceID string) (*tracing.Trace, error)
	ListSpans(ctx context.Context, traceID string) ([]tracing.Span, error)
}

// DraftStore lists drafts and records review decisions
type DraftStore interface {
	ListDrafts(ctx context.Context, conversationID string, limit int) ([]db.AgentExecution, error)
	SetDraftStatus(ctx context.Context, id, status string) error
}

type AgentHandler struct {
	pipeline Pipeline
	traces   TraceReader
	drafts   DraftStore
	timeout  time.Duration
	logger   *zap.Logger
}

func NewAgentHandler(pipeline Pipeline, traces TraceReader, drafts DraftStore, timeout time.Duration, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &AgentHandler{pipeline: pipeline, traces: traces, drafts: drafts, timeout: timeout, logger: logger}
}

func (h *AgentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /process", h.handleProcess)
	mux.HandleFunc("GET /traces/{id}", h.handleTrace)
	mux.HandleFunc("GET /conversations/{id}/drafts", h.handleListDrafts)
	mux.HandleFunc("POST /drafts/{id}/decision", h.handleDecision)
}

type processRequest struct {
	ConversationID string `json:"conversation_id"`
	ContactID      string `json:"contact_id"`
	Message        string `json:"message"`
	History        string `json:"history,omitempty"`
	DealStage      string `json:"deal_stage,omitempty"`
}

func (h *AgentHandler) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var in processRequest
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if in.ConversationID == "" || in.Message == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and message are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := h.pipeline.Process(ctx, orchestrator.Request{
		ConversationID: in.ConversationID,
		ContactID:      in.ContactID,
		Message:        in.Message,
		History:        in.History,
		DealStage:      in.DealStage,
	})
	if err != nil {
		h.logger.Warn("Process request failed", zap.String("conversation_id", in.ConversationID), zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AgentHandler) handleTrace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := h.traces.GetTrace(r.Context(), id)
	if errors.Is(err, db.ErrTraceNotFound) {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	spans, err := h.traces.ListSpans(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trace": t, "spans": spans})
}

func (h *AgentHandler) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}
	drafts, err := h.drafts.ListDrafts(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

// handleDecision records the reviewer's verdict on a draft. Sending the
// approved text happens outside this service.
func (h *AgentHandler) handleDecision(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := r.PathValue("id")
	err := h.drafts.SetDraftStatus(r.Context(), id, in.Status)
	switch {
	case errors.Is(err, db.ErrDraftNotFound):
		writeError(w, http.StatusNotFound, "draft not found")
		return
	case errors.Is(err, db.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("Draft reviewed", zap.String("draft_id", id), zap.String("status", in.Status))
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": in.Status})
}
