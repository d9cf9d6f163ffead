// Package reflexion runs a critic pass over high-risk drafts.
package reflexion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/llm"
	"github.com/estio/agentcore/internal/metrics"
)

const (
	DefaultTimeout = 30 * time.Second
	// PassingScore keeps the original draft untouched
	PassingScore = 8
)

// Input for one critique
type Input struct {
	Draft   string
	Intent  string
	Message string
	// Context holds the recent conversation, newest last
	Context string
}

// Result carries the draft to use. Refined is true only when the critic's
// rewrite replaced the original.
type Result struct {
	Draft   string   `json:"draft"`
	Score   int      `json:"score"`
	Issues  []string `json:"issues"`
	Refined bool     `json:"refined"`
}

type critique struct {
	Score        float64  `json:"score"`
	Issues       []string `json:"issues"`
	RefinedDraft string   `json:"refined_draft"`
}

var critiqueSchema = llm.MustSchema(`{
	"type": "object",
	"required": ["score"],
	"properties": {
		"score": {"type": "number", "minimum": 1, "maximum": 10},
		"issues": {"type": "array", "items": {"type": "string"}},
		"refined_draft": {"type": "string"}
	}
}`)

const criticPrompt = `You are a quality control agent for a real estate agency.

Review this draft reply and provide a refined version if needed.

Evaluation Criteria:
1. TONE: Is it professional but warm? Not too salesy, not too cold?
2. ACCURACY: Does it match what the client asked about?
3. ACTIONABILITY: Does it move the deal forward? Does it have a clear next step?
4. BREVITY: Is it concise? Real estate clients prefer short messages.
5. SAFETY: Does it make any promises or disclose confidential information?

If the draft is good (score >= 8/10), return it unchanged.
If it needs improvement, return the refined version.

Format:
{
  "score": <1-10>,
  "issues": ["issue1", "issue2"],
  "refined_draft": "<improved text or original if no changes>"
}`

// Critic reviews drafts with the pro model
type Critic struct {
	client  llm.Client
	router  *llm.Router
	timeout time.Duration
	logger  *zap.Logger
}

func New(client llm.Client, router *llm.Router, logger *zap.Logger) *Critic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Critic{client: client, router: router, timeout: DefaultTimeout, logger: logger}
}

// WithTimeout returns a copy that bounds the model call by d
func (c *Critic) WithTimeout(d time.Duration) *Critic {
	cp := *c
	if d > 0 {
		cp.timeout = d
	}
	return &cp
}

// Critique never fails; on any error the original draft is kept
func (c *Critic) Critique(ctx context.Context, in Input) Result {
	start := time.Now()
	keep := Result{Draft: in.Draft, Issues: []string{}}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.client.Generate(ctx, llm.Request{
		Model:        c.router.ModelForTask(llm.TaskReflexion),
		Tier:         c.router.TierForTask(llm.TaskReflexion),
		SystemPrompt: criticPrompt,
		UserContent:  userContent(in),
		JSONMode:     true,
	})
	if err != nil {
		return c.fallback(start, keep, "model_error", err)
	}

	var cr critique
	if err := llm.DecodeJSON(text, critiqueSchema, &cr); err != nil {
		return c.fallback(start, keep, "decode_error", err)
	}

	res := Result{Draft: in.Draft, Score: int(cr.Score), Issues: cr.Issues}
	if res.Issues == nil {
		res.Issues = []string{}
	}
	refined := strings.TrimSpace(cr.RefinedDraft)
	if res.Score < PassingScore && refined != "" && refined != in.Draft {
		res.Draft = refined
		res.Refined = true
	}

	metrics.ReflexionScores.Observe(float64(res.Score))
	metrics.RecordStage("reflexion", "success", time.Since(start).Seconds())
	c.logger.Debug("Draft critiqued",
		zap.String("intent", in.Intent),
		zap.Int("score", res.Score),
		zap.Int("issues", len(res.Issues)),
		zap.Bool("refined", res.Refined),
	)
	return res
}

func (c *Critic) fallback(start time.Time, keep Result, reason string, err error) Result {
	c.logger.Warn("Reflexion failed, keeping original draft", zap.String("reason", reason), zap.Error(err))
	metrics.RecordFallback("reflexion", reason)
	metrics.RecordStage("reflexion", "error", time.Since(start).Seconds())
	return keep
}

func userContent(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original Intent: %s\n", in.Intent)
	if in.Message != "" {
		fmt.Fprintf(&b, "Client Message: %q\n", in.Message)
	}
	fmt.Fprintf(&b, "Conversation Context (last 3 messages):\n%s\n\n", lastLines(in.Context, 3))
	fmt.Fprintf(&b, "Draft to Review:\n%q", in.Draft)
	return b.String()
}

// lastLines returns the trailing n non-empty lines of s
func lastLines(s string, n int) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}
