package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estio/agentcore/internal/config"
)

var critiqueSchema = MustSchema(`{
	"type": "object",
	"required": ["score", "issues"],
	"properties": {
		"score": {"type": "number", "minimum": 1, "maximum": 10},
		"issues": {"type": "array", "items": {"type": "string"}},
		"refined_draft": {"type": "string"}
	}
}`)

type critique struct {
	Score        float64  `json:"score"`
	Issues       []string `json:"issues"`
	RefinedDraft string   `json:"refined_draft"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
		want    critique
	}{
		{
			name: "plain object",
			text: `{"score": 9, "issues": []}`,
			want: critique{Score: 9, Issues: []string{}},
		},
		{
			name: "fenced with prose",
			text: "Here you go:\n```json\n{\"score\": 6, \"issues\": [\"too pushy\"], \"refined_draft\": \"Hi {name}\"}\n```",
			want: critique{Score: 6, Issues: []string{"too pushy"}, RefinedDraft: "Hi {name}"},
		},
		{name: "no object", text: "I cannot help with that", wantErr: ErrInvalidJSON},
		{name: "truncated", text: `{"score": 6, "issues": [`, wantErr: ErrInvalidJSON},
		{name: "schema violation", text: `{"score": "high", "issues": []}`, wantErr: ErrSchemaViolation},
		{name: "missing required", text: `{"score": 4}`, wantErr: ErrSchemaViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got critique
			err := DecodeJSON(tt.text, critiqueSchema, &got)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONIgnoresBracesInStrings(t *testing.T) {
	text := `prefix {"a": "}{", "b": {"c": "\"}"}} suffix {"x": 1}`
	assert.Equal(t, `{"a": "}{", "b": {"c": "\"}"}}`, ExtractJSON(text))
}

func TestRouter(t *testing.T) {
	r := NewRouter(config.LLMConfig{FlashModel: "flash-x", ProModel: "pro-x"})

	assert.Equal(t, "flash-x", r.ModelForTask(TaskIntentClassification))
	assert.Equal(t, "pro-x", r.ModelForTask(TaskNegotiation))
	assert.Equal(t, "gemini-3-pro-preview", r.ModelForTask(TaskMarketAnalysis))
	assert.Equal(t, "flash-x", r.ModelForTask(Task("unknown_task")))

	assert.Equal(t, "flash-x", r.ModelForEffort(EffortFlash))
	assert.Equal(t, "pro-x", r.ModelForEffort(EffortStandard))
	assert.Equal(t, "gemini-3-pro-preview", r.ModelForEffort(EffortPremium))
	assert.Equal(t, EffortStandard, r.TierForTask(TaskDraftReply))
}

func TestOpenAIClientGenerateWithUsage(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gemini-2.5-pro",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"ok\": true}"}
			}],
			"usage": {
				"prompt_tokens": 120,
				"completion_tokens": 80,
				"total_tokens": 200,
				"completion_tokens_details": {"reasoning_tokens": 30}
			}
		}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1/",
		Timeout: 5 * time.Second,
	}, zaptest.NewLogger(t))

	resp, err := client.GenerateWithUsage(context.Background(), Request{
		Model:        "gemini-2.5-pro",
		SystemPrompt: "Return JSON",
		UserContent:  "hello",
		JSONMode:     true,
		Temperature:  Temperature(0),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, resp.Text)
	assert.Equal(t, "gemini-2.5-pro", resp.Model)
	assert.Equal(t, Usage{PromptTokens: 120, CompletionTokens: 50, TotalTokens: 200, ThoughtsTokens: 30}, resp.Usage)

	assert.Equal(t, "gemini-2.5-pro", body["model"])
	assert.Equal(t, float64(0), body["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestOpenAIClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewOpenAIClient(config.LLMConfig{
		APIKey:  "k",
		BaseURL: srv.URL + "/v1/",
		Timeout: 50 * time.Millisecond,
	}, zaptest.NewLogger(t))

	_, err := client.Generate(context.Background(), Request{Model: "m", UserContent: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}
