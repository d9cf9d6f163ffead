package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/llm"
	"github.com/estio/agentcore/internal/memory"
	"github.com/estio/agentcore/internal/metrics"
	"github.com/estio/agentcore/internal/sandbox"
	"github.com/estio/agentcore/internal/tools"
)

const (
	DefaultModelTimeout = 60 * time.Second
	failedSummary       = "Execution failed"
)

// ThoughtStep is one reasoning step reported by the model
type ThoughtStep struct {
	Step        int    `json:"step"`
	Description string `json:"description"`
	Conclusion  string `json:"conclusion"`
}

// ExecuteInput is everything a skill sees for one message
type ExecuteInput struct {
	Skill          *Skill
	Message        string
	History        string
	Memories       []memory.ScoredInsight
	Intent         string
	Emotion        string
	BuyerReadiness string
	DealStage      string
}

// Output of a skill run. Error is set when the model call or decode failed;
// individual tool failures are reported per call instead.
type Output struct {
	ThoughtSummary string             `json:"thought_summary"`
	ThoughtSteps   []ThoughtStep      `json:"thought_steps"`
	ToolCalls      []tools.CallResult `json:"tool_calls"`
	DraftReply     string             `json:"draft_reply,omitempty"`
	Usage          llm.Usage          `json:"usage"`
	Model          string             `json:"model"`
	Logs           []string           `json:"logs,omitempty"`
	Error          string             `json:"error,omitempty"`
}

type modelReply struct {
	ThoughtSummary string        `json:"thought_summary"`
	ThoughtSteps   []ThoughtStep `json:"thought_steps"`
	ToolCalls      []tools.Call  `json:"tool_calls"`
	FinalResponse  *string       `json:"final_response"`
}

var replySchema = llm.MustSchema(`{
	"type": "object",
	"properties": {
		"thought_summary": {"type": "string"},
		"thought_steps": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"step": {"type": "integer"},
					"description": {"type": "string"},
					"conclusion": {"type": "string"}
				}
			}
		},
		"tool_calls": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"arguments": {"type": "object"}
				}
			}
		},
		"final_response": {"type": ["string", "null"]}
	}
}`)

// Executor runs a loaded skill against the model and the tool dispatcher
type Executor struct {
	client     llm.Client
	router     *llm.Router
	dispatcher *tools.Dispatcher
	sandbox    *sandbox.Executor
	timeout    time.Duration
	logger     *zap.Logger
}

type ExecutorOption func(*Executor)

// WithModelTimeout bounds each model call
func WithModelTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithSandbox enables programmatic skills
func WithSandbox(s *sandbox.Executor) ExecutorOption {
	return func(e *Executor) { e.sandbox = s }
}

func NewExecutor(client llm.Client, router *llm.Router, dispatcher *tools.Dispatcher, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		client:     client,
		router:     router,
		dispatcher: dispatcher,
		timeout:    DefaultModelTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TaskForIntent picks the model task a skill runs under
func TaskForIntent(intent string) llm.Task {
	switch intent {
	case "PRICE_NEGOTIATION", "OFFER", "COUNTER_OFFER":
		return llm.TaskNegotiation
	case "QUALIFICATION":
		return llm.TaskQualification
	default:
		return llm.TaskDraftReply
	}
}

// Execute runs the skill. It never returns an error; failures surface in
// Output.Error with the "Execution failed" summary.
func (e *Executor) Execute(ctx context.Context, in ExecuteInput) Output {
	start := time.Now()
	task := TaskForIntent(in.Intent)
	model := e.router.ModelForTask(task)
	scoped := e.dispatcher.Scoped(in.Skill.Tools)

	var out Output
	if in.Skill.Programmatic && e.sandbox != nil {
		out = e.executeProgrammatic(ctx, in, scoped, task, model)
	} else {
		out = e.executeStructured(ctx, in, scoped, task, model)
	}

	status := "success"
	if out.Error != "" {
		status = "error"
	}
	metrics.RecordStage("skill", status, time.Since(start).Seconds())
	e.logger.Info("Skill executed",
		zap.String("skill", in.Skill.Name),
		zap.String("model", model),
		zap.Bool("programmatic", in.Skill.Programmatic),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)),
	)
	return out
}

func (e *Executor) executeStructured(ctx context.Context, in ExecuteInput, scoped *tools.Dispatcher, task llm.Task, model string) Output {
	out := Output{Model: model, ThoughtSteps: []ThoughtStep{}, ToolCalls: []tools.CallResult{}}

	decls, err := json.MarshalIndent(scoped.Declarations(), "", "  ")
	if err != nil {
		return failed(out, fmt.Errorf("encode tool declarations: %w", err))
	}
	system := in.Skill.Instructions + "\n\n## Available Tools\n" + string(decls) +
		contextSections(in) + responseFormat

	resp, err := e.generate(ctx, llm.Request{
		Model:        model,
		Tier:         e.router.TierForTask(task),
		SystemPrompt: system,
		UserContent:  userContent(in),
		JSONMode:     true,
	})
	if err != nil {
		return failed(out, err)
	}
	out.Usage = resp.Usage

	var reply modelReply
	if err := llm.DecodeJSON(resp.Text, replySchema, &reply); err != nil {
		return failed(out, err)
	}
	out.ThoughtSummary = reply.ThoughtSummary
	if reply.ThoughtSteps != nil {
		out.ThoughtSteps = reply.ThoughtSteps
	}
	if reply.FinalResponse != nil {
		out.DraftReply = strings.TrimSpace(*reply.FinalResponse)
	}
	if len(reply.ToolCalls) > 0 {
		out.ToolCalls = scoped.Execute(ctx, reply.ToolCalls)
	}
	return out
}

func (e *Executor) executeProgrammatic(ctx context.Context, in ExecuteInput, scoped *tools.Dispatcher, task llm.Task, model string) Output {
	out := Output{Model: model, ThoughtSteps: []ThoughtStep{}, ToolCalls: []tools.CallResult{}}

	system := in.Skill.Instructions + "\n\n" + sandbox.SystemPrompt(scoped.Signatures()) +
		contextSections(in) +
		"\n\nRespond with a one-line plan followed by a single ```lua block. " +
		"Return a table with a final_response field holding the draft reply."

	resp, err := e.generate(ctx, llm.Request{
		Model:        model,
		Tier:         e.router.TierForTask(task),
		SystemPrompt: system,
		UserContent:  userContent(in),
	})
	if err != nil {
		return failed(out, err)
	}
	out.Usage = resp.Usage

	rec := &callRecorder{}
	funcs := sandbox.Bind(scoped, in.Skill.Tools)
	for name, fn := range funcs {
		funcs[name] = rec.wrap(name, fn)
	}
	res := e.sandbox.Execute(ctx, resp.Text, funcs)
	out.ToolCalls = rec.results()
	out.Logs = res.Logs
	if !res.Success {
		out.ThoughtSummary = failedSummary
		out.Error = res.Error
		return out
	}

	out.ThoughtSummary = planLine(resp.Text)
	switch v := res.Value.(type) {
	case string:
		out.DraftReply = strings.TrimSpace(v)
	case map[string]any:
		if s, ok := v["final_response"].(string); ok {
			out.DraftReply = strings.TrimSpace(s)
		}
		if s, ok := v["thought_summary"].(string); ok && s != "" {
			out.ThoughtSummary = s
		}
	}
	return out
}

func (e *Executor) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	resp, err := e.client.GenerateWithUsage(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", llm.ErrTimeout, err)
		}
		return nil, err
	}
	return resp, nil
}

func failed(out Output, err error) Output {
	out.ThoughtSummary = failedSummary
	out.Error = err.Error()
	return out
}

func contextSections(in ExecuteInput) string {
	stage := in.DealStage
	if stage == "" {
		stage = "N/A"
	}
	var b strings.Builder
	b.WriteString("\n\n## Client Memory (Relevant Insights)\n")
	b.WriteString(memory.FormatContext(in.Memories))
	b.WriteString("\n\n## Current Context\n")
	fmt.Fprintf(&b, "- Intent: %s\n", in.Intent)
	fmt.Fprintf(&b, "- Sentiment: %s (Readiness: %s)\n", in.Emotion, in.BuyerReadiness)
	fmt.Fprintf(&b, "- Deal Stage: %s", stage)
	return b.String()
}

const responseFormat = `

## Response Format
You must respond with valid JSON:
{
  "thought_summary": "One-line summary of your reasoning",
  "thought_steps": [
    { "step": 1, "description": "Analysis", "conclusion": "Outcome" }
  ],
  "tool_calls": [
    { "name": "tool_name", "arguments": { } }
  ],
  "final_response": "Draft text reply to the user (optional if just performing actions)"
}`

func userContent(in ExecuteInput) string {
	return fmt.Sprintf("Conversation History:\n%s\n\nLatest User Message: %q", in.History, in.Message)
}

// planLine is the first non-empty line before the code fence
func planLine(text string) string {
	before, _, _ := strings.Cut(text, "```")
	for _, line := range strings.Split(before, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return "Programmatic tool execution"
}

// callRecorder turns sandbox tool invocations into call results
type callRecorder struct {
	mu    sync.Mutex
	calls []tools.CallResult
}

func (r *callRecorder) wrap(name string, fn sandbox.Func) sandbox.Func {
	return func(ctx context.Context, args []any) (any, error) {
		res := tools.CallResult{Name: name}
		if len(args) == 1 {
			res.Args, _ = args[0].(map[string]any)
		}
		value, err := fn(ctx, args)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Result = value
		}
		r.mu.Lock()
		r.calls = append(r.calls, res)
		r.mu.Unlock()
		return value, err
	}
}

func (r *callRecorder) results() []tools.CallResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tools.CallResult{}, r.calls...)
}
