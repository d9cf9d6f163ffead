// Package sentiment scores the tone and buying intent of a message.
package sentiment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/llm"
	"github.com/estio/agentcore/internal/metrics"
)

const DefaultTimeout = 15 * time.Second

// Result of analysing one message
type Result struct {
	Score          float64 `json:"score"`
	Urgency        string  `json:"urgency"`
	Emotion        string  `json:"emotion"`
	BuyerReadiness string  `json:"buyer_readiness"`
}

// Neutral is returned whenever analysis fails
var Neutral = Result{Score: 0, Urgency: "low", Emotion: "neutral", BuyerReadiness: "cold"}

var (
	urgencies  = []string{"low", "medium", "high", "critical"}
	emotions   = []string{"neutral", "excited", "frustrated", "anxious", "angry", "happy"}
	readiness  = []string{"cold", "warm", "hot", "ready_to_buy"}
	resultSpec = llm.MustSchema(`{
		"type": "object",
		"required": ["score"],
		"properties": {
			"score": {"type": "number"},
			"urgency": {"type": "string"},
			"emotion": {"type": "string"},
			"buyer_readiness": {"type": "string"}
		}
	}`)
)

const systemPrompt = `You analyse messages sent by real estate clients to their agent.
Return JSON with exactly these fields:
{
  "score": <number from -1 (very negative) to 1 (very positive)>,
  "urgency": "low" | "medium" | "high" | "critical",
  "emotion": "neutral" | "excited" | "frustrated" | "anxious" | "angry" | "happy",
  "buyer_readiness": "cold" | "warm" | "hot" | "ready_to_buy"
}`

type Analyzer struct {
	client  llm.Client
	router  *llm.Router
	timeout time.Duration
	logger  *zap.Logger
}

func New(client llm.Client, router *llm.Router, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{client: client, router: router, timeout: DefaultTimeout, logger: logger}
}

// WithTimeout returns a copy that bounds the model call by d
func (a *Analyzer) WithTimeout(d time.Duration) *Analyzer {
	cp := *a
	if d > 0 {
		cp.timeout = d
	}
	return &cp
}

// Analyze never fails; any call or decode problem yields Neutral
func (a *Analyzer) Analyze(ctx context.Context, message string) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := a.client.Generate(ctx, llm.Request{
		Model:        a.router.ModelForTask(llm.TaskSentimentAnalysis),
		Tier:         a.router.TierForTask(llm.TaskSentimentAnalysis),
		SystemPrompt: systemPrompt,
		UserContent:  message,
		JSONMode:     true,
		Temperature:  llm.Temperature(0),
	})
	if err != nil {
		return a.fallback(start, "model_error", err)
	}

	var raw Result
	if err := llm.DecodeJSON(text, resultSpec, &raw); err != nil {
		return a.fallback(start, "decode_error", err)
	}

	res := Result{
		Score:          clamp(raw.Score),
		Urgency:        oneOf(raw.Urgency, urgencies, Neutral.Urgency),
		Emotion:        oneOf(raw.Emotion, emotions, Neutral.Emotion),
		BuyerReadiness: oneOf(raw.BuyerReadiness, readiness, Neutral.BuyerReadiness),
	}
	metrics.RecordStage("sentiment", "success", time.Since(start).Seconds())
	return res
}

func (a *Analyzer) fallback(start time.Time, reason string, err error) Result {
	a.logger.Warn("Sentiment analysis failed", zap.String("reason", reason), zap.Error(err))
	metrics.RecordFallback("sentiment", reason)
	metrics.RecordStage("sentiment", "error", time.Since(start).Seconds())
	return Neutral
}

func clamp(v float64) float64 {
	switch {
	case v < -1:
		return -1
	case v > 1:
		return 1
	}
	return v
}

func oneOf(v string, allowed []string, def string) string {
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}
