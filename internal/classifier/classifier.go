// Package classifier maps an inbound message onto a fixed intent table with
// a single cheap model call.
package classifier

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
	DefaultTimeout = 15 * time.Second

	// Confidence reported for a label found in the table
	KnownConfidence = 0.9
	// Confidence reported when the model answered with an unknown label
	UnknownConfidence = 0.5
)

// Risk levels
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const IntentUnknown = "UNKNOWN"

// Route is one row of the intent table
type Route struct {
	Risk   string
	Skill  string
	Effort string
}

// Result of classifying one message
type Result struct {
	Intent          string  `json:"intent"`
	Confidence      float64 `json:"confidence"`
	Risk            string  `json:"risk"`
	SuggestedSkill  *string `json:"suggested_skill"`
	SuggestedEffort string  `json:"suggested_effort"`
}

var intents = map[string]Route{
	"ACKNOWLEDGMENT": {RiskLow, "", llm.EffortFlash},
	"THANK_YOU":      {RiskLow, "", llm.EffortFlash},
	"GREETING":       {RiskLow, "", llm.EffortFlash},

	"PROPERTY_QUESTION":     {RiskLow, "property_inquiry", llm.EffortStandard},
	"REQUEST_INFO":          {RiskLow, "property_inquiry", llm.EffortStandard},
	"AVAILABILITY_QUESTION": {RiskLow, "property_inquiry", llm.EffortStandard},
	"PROPERTY_SEARCH":       {RiskLow, "property_search", llm.EffortStandard},

	"SCHEDULE_VIEWING":   {RiskMedium, "viewing_coordinator", llm.EffortStandard},
	"RESCHEDULE_VIEWING": {RiskMedium, "viewing_coordinator", llm.EffortStandard},
	"CANCEL_VIEWING":     {RiskMedium, "viewing_coordinator", llm.EffortStandard},

	"QUALIFICATION": {RiskMedium, "lead_qualification", llm.EffortStandard},
	"FOLLOW_UP":     {RiskLow, "follow_up", llm.EffortFlash},

	"OBJECTION": {RiskMedium, "objection_handler", llm.EffortPremium},
	"COMPLAINT": {RiskMedium, "objection_handler", llm.EffortPremium},

	"PRICE_NEGOTIATION": {RiskHigh, "negotiation", llm.EffortPremium},
	"OFFER":             {RiskHigh, "negotiation", llm.EffortPremium},
	"COUNTER_OFFER":     {RiskHigh, "negotiation", llm.EffortPremium},

	"CONTRACT_REQUEST": {RiskHigh, "deal_coordinator", llm.EffortPremium},

	IntentUnknown: {RiskMedium, "", llm.EffortStandard},
}

// labelOrder keeps the prompt stable across runs
var labelOrder = []string{
	"ACKNOWLEDGMENT", "THANK_YOU", "GREETING",
	"PROPERTY_QUESTION", "REQUEST_INFO", "AVAILABILITY_QUESTION", "PROPERTY_SEARCH",
	"SCHEDULE_VIEWING", "RESCHEDULE_VIEWING", "CANCEL_VIEWING",
	"QUALIFICATION", "FOLLOW_UP",
	"OBJECTION", "COMPLAINT",
	"PRICE_NEGOTIATION", "OFFER", "COUNTER_OFFER",
	"CONTRACT_REQUEST",
	IntentUnknown,
}

// Lookup returns the table row for an intent
func Lookup(intent string) (Route, bool) {
	r, ok := intents[intent]
	return r, ok
}

// Labels lists every intent in prompt order
func Labels() []string {
	return append([]string(nil), labelOrder...)
}

// Classifier turns a message into an intent and routing hints
type Classifier struct {
	client  llm.Client
	router  *llm.Router
	timeout time.Duration
	logger  *zap.Logger
}

func New(client llm.Client, router *llm.Router, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{client: client, router: router, timeout: DefaultTimeout, logger: logger}
}

// WithTimeout returns a copy that bounds the model call by d
func (c *Classifier) WithTimeout(d time.Duration) *Classifier {
	cp := *c
	if d > 0 {
		cp.timeout = d
	}
	return &cp
}

// Classify never fails. A model error yields UNKNOWN with zero confidence.
func (c *Classifier) Classify(ctx context.Context, message, recent string) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.client.Generate(ctx, llm.Request{
		Model:       c.router.ModelForTask(llm.TaskIntentClassification),
		Tier:        c.router.TierForTask(llm.TaskIntentClassification),
		UserContent: buildPrompt(message, recent),
		Temperature: llm.Temperature(0),
		MaxTokens:   16,
	})
	if err != nil {
		c.logger.Warn("Intent classification failed", zap.Error(err))
		metrics.RecordFallback("classify", "model_error")
		metrics.RecordStage("classify", "error", time.Since(start).Seconds())
		return Result{Intent: IntentUnknown, Risk: RiskMedium, SuggestedEffort: llm.EffortStandard}
	}

	label := parseLabel(reply)
	route, ok := intents[label]
	res := Result{Intent: label, Confidence: KnownConfidence}
	if !ok {
		c.logger.Debug("Unrecognised intent label", zap.String("label", label))
		metrics.RecordFallback("classify", "unknown_label")
		route = intents[IntentUnknown]
		res = Result{Intent: IntentUnknown, Confidence: UnknownConfidence}
	}
	res.Risk = route.Risk
	res.SuggestedEffort = route.Effort
	if route.Skill != "" {
		skill := route.Skill
		res.SuggestedSkill = &skill
	}

	metrics.IntentsClassified.WithLabelValues(res.Intent, res.Risk).Inc()
	metrics.RecordStage("classify", "success", time.Since(start).Seconds())
	return res
}

func buildPrompt(message, recent string) string {
	var b strings.Builder
	b.WriteString("You are an intent classifier for a real estate CRM. ")
	b.WriteString("Classify the user's message into ONE of these intents:\n\n")
	b.WriteString(strings.Join(labelOrder, "\n"))
	b.WriteString(`

Rules:
- If the message mentions a price, offer, or counter-offer: PRICE_NEGOTIATION or OFFER or COUNTER_OFFER
- If the message expresses dissatisfaction or pushback: OBJECTION
- If the message asks about availability or scheduling: SCHEDULE_VIEWING or AVAILABILITY_QUESTION
- If the message is a simple "ok", "thanks", "got it": ACKNOWLEDGMENT or THANK_YOU
- If the message asks for property details: PROPERTY_QUESTION
- If the message asks for more photos, floorplans, or specific data: REQUEST_INFO
- If unsure: UNKNOWN

Respond with ONLY the intent name, nothing else.`)
	if strings.TrimSpace(recent) != "" {
		fmt.Fprintf(&b, "\n\nRecent context:\n%s\n\nMessage to classify:\n%q", recent, message)
	} else {
		fmt.Fprintf(&b, "\n\nMessage:\n%q", message)
	}
	return b.String()
}

// parseLabel takes the first token of the reply, upper-cased, stripped of
// quotes and punctuation
func parseLabel(reply string) string {
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return ""
	}
	token := strings.Trim(fields[0], "\"'`*.,:;!")
	return strings.ToUpper(token)
}
