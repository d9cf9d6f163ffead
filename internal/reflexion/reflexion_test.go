package reflexion

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

const draft = "We can probably do 450k, the owner is desperate."

func critiqueWith(t *testing.T, reply llmtest.Reply) (Result, *llmtest.Fake) {
	t.Helper()
	fake := &llmtest.Fake{Default: reply}
	c := New(fake, llm.NewRouter(config.LLMConfig{}), zaptest.NewLogger(t))
	return c.Critique(context.Background(), Input{
		Draft:   draft,
		Intent:  "OFFER",
		Message: "I'll offer 450000",
		Context: "Client: hi\nAgent: hello\nClient: is it still available?\nAgent: yes\nClient: I'll offer 450000",
	}), fake
}

func TestCritiqueKeepsPassingDraft(t *testing.T) {
	res, fake := critiqueWith(t, llmtest.Reply{Text: `{"score": 9, "issues": [], "refined_draft": "something else"}`})

	assert.Equal(t, draft, res.Draft)
	assert.False(t, res.Refined)
	assert.Equal(t, 9, res.Score)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSONMode)
	assert.Equal(t, config.DefaultConfig().LLM.ProModel, reqs[0].Model)
	assert.Contains(t, reqs[0].UserContent, "Original Intent: OFFER")
	assert.NotContains(t, reqs[0].UserContent, "Client: hi")
	assert.Contains(t, reqs[0].UserContent, "Agent: yes\nClient: I'll offer 450000")
}

func TestCritiqueUsesRefinedDraft(t *testing.T) {
	res, _ := critiqueWith(t, llmtest.Reply{Text: `{"score": 4, "issues": ["discloses seller position"], "refined_draft": "Thank you, I'll present your offer of 450,000 to the owner today."}`})

	assert.True(t, res.Refined)
	assert.Equal(t, "Thank you, I'll present your offer of 450,000 to the owner today.", res.Draft)
	assert.Equal(t, []string{"discloses seller position"}, res.Issues)
}

func TestCritiqueEmptyRefinementKeepsOriginal(t *testing.T) {
	res, _ := critiqueWith(t, llmtest.Reply{Text: `{"score": 3, "issues": ["too pushy"], "refined_draft": "  "}`})

	assert.Equal(t, draft, res.Draft)
	assert.False(t, res.Refined)
	assert.Equal(t, 3, res.Score)
}

func TestCritiqueFailuresKeepOriginal(t *testing.T) {
	for name, reply := range map[string]llmtest.Reply{
		"model error":  {Err: errors.New("unavailable")},
		"prose":        {Text: "Looks fine to me."},
		"out of range": {Text: `{"score": 42, "refined_draft": "x"}`},
		"no score":     {Text: `{"refined_draft": "x"}`},
	} {
		t.Run(name, func(t *testing.T) {
			res, _ := critiqueWith(t, reply)
			assert.Equal(t, Result{Draft: draft, Issues: []string{}}, res)
		})
	}
}
