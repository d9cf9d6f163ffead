package sentiment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/llm"
	"github.com/estio/agentcore/internal/llm/llmtest"
)

func analyze(t *testing.T, reply llmtest.Reply) (Result, *llmtest.Fake) {
	t.Helper()
	fake := &llmtest.Fake{Default: reply}
	a := New(fake, llm.NewRouter(config.LLMConfig{}), zaptest.NewLogger(t))
	return a.Analyze(context.Background(), "We love it, can we sign this week?"), fake
}

func TestAnalyze(t *testing.T) {
	res, fake := analyze(t, llmtest.Reply{Text: "```json\n" +
		`{"score": 0.8, "urgency": "high", "emotion": "excited", "buyer_readiness": "ready_to_buy"}` +
		"\n```"})

	assert.Equal(t, Result{Score: 0.8, Urgency: "high", Emotion: "excited", BuyerReadiness: "ready_to_buy"}, res)
	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSONMode)
	assert.Equal(t, config.DefaultConfig().LLM.FlashModel, reqs[0].Model)
}

func TestAnalyzeClampsAndFallsBackPerField(t *testing.T) {
	res, _ := analyze(t, llmtest.Reply{Text: `{"score": 3.5, "urgency": "urgent", "emotion": "angry", "buyer_readiness": "lukewarm"}`})
	assert.Equal(t, Result{Score: 1, Urgency: "low", Emotion: "angry", BuyerReadiness: "cold"}, res)

	res, _ = analyze(t, llmtest.Reply{Text: `{"score": -7}`})
	assert.Equal(t, -1.0, res.Score)
	assert.Equal(t, "neutral", res.Emotion)
}

func TestAnalyzeFailures(t *testing.T) {
	cases := map[string]llmtest.Reply{
		"model error":   {Err: errors.New("boom")},
		"not json":      {Text: "The client seems happy."},
		"schema broken": {Text: `{"score": "very positive"}`},
		"missing score": {Text: `{"emotion": "happy"}`},
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			res, _ := analyze(t, reply)
			assert.Equal(t, Neutral, res)
			assert.Equal(t, Result{Score: 0, Urgency: "low", Emotion: "neutral", BuyerReadiness: "cold"}, res)
		})
	}
}
