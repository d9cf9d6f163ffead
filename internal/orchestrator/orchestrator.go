// Package orchestrator runs the per-message agent pipeline: classify and
// score the message, pull client memory, run the suggested skill, apply
// guardrails and, for high-risk drafts, a critic pass.
//
// The pipeline only produces drafts and tool results. Nothing here sends a
// message to a client.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/classifier"
	"github.com/estio/agentcore/internal/llm"
	"github.com/estio/agentcore/internal/memory"
	"github.com/estio/agentcore/internal/metrics"
	"github.com/estio/agentcore/internal/policy"
	"github.com/estio/agentcore/internal/pricing"
	"github.com/estio/agentcore/internal/reflexion"
	"github.com/estio/agentcore/internal/sentiment"
	"github.com/estio/agentcore/internal/skills"
	"github.com/estio/agentcore/internal/tools"
	"github.com/estio/agentcore/internal/tracing"
)

const (
	// MemoryLimit is how many insights are pulled into a skill prompt
	MemoryLimit = 5

	noSkillReasoning = "No specialist skill needed."
)

// Span names recorded for every run
const (
	SpanClassify  = "Classify Intent"
	SpanSentiment = "Analyze Sentiment"
	SpanSkill     = "Execute Skill: "
	SpanPolicy    = "Policy Check"
	SpanReflexion = "Reflexion (Critic)"
)

type IntentClassifier interface {
	Classify(ctx context.Context, message, recent string) classifier.Result
}

type SentimentAnalyzer interface {
	Analyze(ctx context.Context, message string) sentiment.Result
}

type MemoryRetriever interface {
	RetrieveContext(ctx context.Context, contactID, query string, limit int) []memory.ScoredInsight
}

type SkillLoader interface {
	LoadSkill(name string) (*skills.Skill, error)
}

type SkillExecutor interface {
	Execute(ctx context.Context, in skills.ExecuteInput) skills.Output
}

type Guardrails interface {
	Check(ctx context.Context, in policy.Input) policy.Result
}

type Critic interface {
	Critique(ctx context.Context, in reflexion.Input) reflexion.Result
}

// Deps are the pipeline stages. Memory and Critic may be nil.
type Deps struct {
	Classifier IntentClassifier
	Sentiment  SentimentAnalyzer
	Memory     MemoryRetriever
	Skills     SkillLoader
	Executor   SkillExecutor
	Policy     Guardrails
	Critic     Critic
}

// Request is one inbound message with its conversation context
type Request struct {
	ConversationID string
	ContactID      string
	Message        string
	History        string
	DealStage      string
}

// Result of one pipeline run
type Result struct {
	TraceID               string             `json:"trace_id"`
	Intent                string             `json:"intent"`
	Classification        classifier.Result  `json:"classification"`
	Sentiment             sentiment.Result   `json:"sentiment"`
	SkillUsed             string             `json:"skill_used,omitempty"`
	Actions               []tools.CallResult `json:"actions"`
	DraftReply            string             `json:"draft_reply,omitempty"`
	RequiresHumanApproval bool               `json:"requires_human_approval"`
	Reasoning             string             `json:"reasoning"`
	PolicyResult          policy.Result      `json:"policy_result"`
	Reflexion             *reflexion.Result  `json:"reflexion,omitempty"`
	Model                 string             `json:"model,omitempty"`
	Usage                 llm.Usage          `json:"usage"`
	Cost                  pricing.Estimate   `json:"cost"`
	SkillError            string             `json:"skill_error,omitempty"`
}

type Orchestrator struct {
	deps     Deps
	recorder *tracing.Recorder
	logger   *zap.Logger
}

func New(deps Deps, recorder *tracing.Recorder, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = tracing.NewRecorder(nil, logger)
	}
	return &Orchestrator{deps: deps, recorder: recorder, logger: logger}
}

// Process runs the pipeline. Stage failures fall back to safe defaults; an
// error is returned only when ctx ends before the run completes.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, traceID := o.recorder.StartTrace(ctx, tracing.TraceInput{
		ConversationID: req.ConversationID,
		Input:          req.Message,
	})
	res := &Result{TraceID: traceID, Actions: []tools.CallResult{}, Reasoning: noSkillReasoning}

	o.classifyAndScore(ctx, traceID, req, res)

	var memories []memory.ScoredInsight
	if o.deps.Memory != nil && req.ContactID != "" {
		memories = o.deps.Memory.RetrieveContext(ctx, req.ContactID, req.Message, MemoryLimit)
	}

	if res.Classification.SuggestedSkill != nil {
		o.runSkill(ctx, traceID, *res.Classification.SuggestedSkill, req, memories, res)
	}

	o.checkPolicy(ctx, traceID, req, res)

	if res.Classification.Risk == classifier.RiskHigh && res.DraftReply != "" && o.deps.Critic != nil {
		o.reflect(ctx, traceID, req, res)
	}

	res.RequiresHumanApproval = res.Classification.Risk == classifier.RiskHigh || !res.PolicyResult.Approved
	if res.Model != "" {
		res.Cost = pricing.Cost(res.Model, res.Usage)
	}

	status := tracing.StatusSuccess
	if res.SkillError != "" {
		status = tracing.StatusError
	}
	if err := ctx.Err(); err != nil {
		status = tracing.StatusError
	}
	o.recorder.EndTrace(ctx, traceID, tracing.TraceResult{
		Status: status,
		Output: map[string]any{
			"draft_reply":             res.DraftReply,
			"tool_calls":              res.Actions,
			"intent":                  res.Intent,
			"requires_human_approval": res.RequiresHumanApproval,
		},
		Cost:           res.Cost.Cost,
		Tokens:         res.Usage.TotalTokens,
		Model:          res.Model,
		ThoughtSummary: res.Reasoning,
	})

	approval := "auto"
	if res.RequiresHumanApproval {
		approval = "human"
	}
	metrics.PipelineRuns.WithLabelValues(res.Intent, res.Classification.Risk, approval).Inc()
	metrics.PipelineDuration.WithLabelValues(res.Intent).Observe(time.Since(start).Seconds())
	o.logger.Info("Pipeline completed",
		zap.String("trace_id", traceID),
		zap.String("conversation_id", req.ConversationID),
		zap.String("intent", res.Intent),
		zap.String("risk", res.Classification.Risk),
		zap.String("skill", res.SkillUsed),
		zap.Int("tool_calls", len(res.Actions)),
		zap.Bool("has_draft", res.DraftReply != ""),
		zap.Bool("requires_human_approval", res.RequiresHumanApproval),
		zap.Duration("duration", time.Since(start)),
	)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline interrupted: %w", err)
	}
	return res, nil
}

// classifyAndScore runs the two read-only model calls concurrently
func (o *Orchestrator) classifyAndScore(ctx context.Context, traceID string, req Request, res *Result) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sctx, span := o.recorder.StartSpan(ctx, traceID, tracing.SpanInput{Name: SpanClassify, Kind: tracing.KindThought})
		res.Classification = o.deps.Classifier.Classify(sctx, req.Message, req.History)
		o.recorder.EndSpan(ctx, span, tracing.StatusSuccess, map[string]any{
			"output": fmt.Sprintf("Intent: %s (Risk: %s)", res.Classification.Intent, res.Classification.Risk),
		})
	}()
	go func() {
		defer wg.Done()
		sctx, span := o.recorder.StartSpan(ctx, traceID, tracing.SpanInput{Name: SpanSentiment, Kind: tracing.KindThought})
		res.Sentiment = o.deps.Sentiment.Analyze(sctx, req.Message)
		o.recorder.EndSpan(ctx, span, tracing.StatusSuccess, map[string]any{
			"output": fmt.Sprintf("Sentiment: %s, Readiness: %s", res.Sentiment.Emotion, res.Sentiment.BuyerReadiness),
		})
	}()
	wg.Wait()
	res.Intent = res.Classification.Intent
}

func (o *Orchestrator) runSkill(ctx context.Context, traceID, name string, req Request, memories []memory.ScoredInsight, res *Result) {
	res.SkillUsed = name
	sctx, span := o.recorder.StartSpan(ctx, traceID, tracing.SpanInput{Name: SpanSkill + name, Kind: tracing.KindTool})

	skill, err := o.deps.Skills.LoadSkill(name)
	if err != nil || skill == nil {
		msg := "Skill not found"
		if err != nil {
			msg = err.Error()
		}
		o.logger.Warn("Suggested skill unavailable", zap.String("skill", name), zap.String("reason", msg))
		metrics.RecordFallback("skill", "not_found")
		o.recorder.EndSpan(ctx, span, tracing.StatusError, map[string]any{"error": msg})
		return
	}

	out := o.deps.Executor.Execute(sctx, skills.ExecuteInput{
		Skill:          skill,
		Message:        req.Message,
		History:        req.History,
		Memories:       memories,
		Intent:         res.Intent,
		Emotion:        res.Sentiment.Emotion,
		BuyerReadiness: res.Sentiment.BuyerReadiness,
		DealStage:      req.DealStage,
	})
	res.Actions = out.ToolCalls
	if res.Actions == nil {
		res.Actions = []tools.CallResult{}
	}
	res.DraftReply = out.DraftReply
	res.Model = out.Model
	res.Usage = out.Usage
	res.SkillError = out.Error
	if out.ThoughtSummary != "" {
		res.Reasoning = out.ThoughtSummary
	}

	status := tracing.StatusSuccess
	output := map[string]any{"output": out.DraftReply, "tool_calls": len(out.ToolCalls)}
	if out.Error != "" {
		status = tracing.StatusError
		output["error"] = out.Error
	}
	o.recorder.EndSpan(ctx, span, status, output)
}

func (o *Orchestrator) checkPolicy(ctx context.Context, traceID string, req Request, res *Result) {
	_, span := o.recorder.StartSpan(ctx, traceID, tracing.SpanInput{Name: SpanPolicy, Kind: tracing.KindPlanning})
	res.PolicyResult = o.deps.Policy.Check(ctx, policyInput(req, res, res.DraftReply))
	status := tracing.StatusSuccess
	if !res.PolicyResult.Approved {
		status = tracing.StatusError
	}
	o.recorder.EndSpan(ctx, span, status, map[string]any{"output": res.PolicyResult.Reason})
}

func policyInput(req Request, res *Result, draft string) policy.Input {
	return policy.Input{
		Intent:     res.Intent,
		Risk:       res.Classification.Risk,
		ToolCalls:  res.Actions,
		DraftReply: draft,
		DealStage:  req.DealStage,
	}
}

// reflect lets the critic rewrite a high-risk draft. A rewrite replaces the
// draft only when the guardrails approve it.
func (o *Orchestrator) reflect(ctx context.Context, traceID string, req Request, res *Result) {
	sctx, span := o.recorder.StartSpan(ctx, traceID, tracing.SpanInput{Name: SpanReflexion, Kind: tracing.KindThought})
	critique := o.deps.Critic.Critique(sctx, reflexion.Input{
		Draft:   res.DraftReply,
		Intent:  res.Intent,
		Message: req.Message,
		Context: req.History,
	})
	res.Reflexion = &critique

	output := "Draft kept"
	if critique.Refined {
		recheck := o.deps.Policy.Check(sctx, policyInput(req, res, critique.Draft))
		if recheck.Approved {
			res.DraftReply = critique.Draft
			res.PolicyResult = recheck
			output = "Draft refined by critic"
		} else {
			output = "Refined draft rejected by policy: " + recheck.Reason
			o.logger.Warn("Critic rewrite blocked by policy",
				zap.String("trace_id", traceID),
				zap.Strings("violations", recheck.Violations))
		}
	}
	o.recorder.EndSpan(ctx, span, tracing.StatusSuccess, map[string]any{"output": output, "score": critique.Score})
}
