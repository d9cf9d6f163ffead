// Package sandbox runs model-written Lua scripts that orchestrate tool calls.
//
// Every execution gets a fresh interpreter with only the base, table, string
// and math libraries. Tools are injected as global functions; the host
// records each call before running it. The interpreter is bound to a context
// deadline so a runaway script is stopped.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/metrics"
)

const DefaultTimeout = 10 * time.Second

var ErrNoCode = errors.New("no code block found in response")

// Func is a host tool exposed to scripts. Args are the Lua call arguments
// converted to Go values.
type Func func(ctx context.Context, args []any) (any, error)

// ToolCall is one recorded invocation
type ToolCall struct {
	Tool string `json:"tool"`
	Args []any  `json:"args"`
}

// Result of one execution. Value is nil unless Success.
type Result struct {
	Success   bool       `json:"success"`
	Value     any        `json:"value,omitempty"`
	Logs      []string   `json:"logs"`
	ToolCalls []ToolCall `json:"tool_calls"`
	Error     string     `json:"error,omitempty"`
	TimedOut  bool       `json:"timed_out,omitempty"`
}

type Options struct {
	Timeout time.Duration
}

// Executor runs scripts
type Executor struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewExecutor(opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Executor{timeout: opts.Timeout, logger: logger}
}

var codeBlock = regexp.MustCompile("(?s)```(?:lua)?[ \t]*\r?\n(.*?)```")

// ExtractCode returns the body of the first ```lua (or unlabeled) fence
func ExtractCode(raw string) string {
	m := codeBlock.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// removed from the base library
var unsafeGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"collectgarbage", "getfenv", "setfenv", "newproxy", "_printregs",
}

// capture collects script logs and tool calls
type capture struct {
	mu    sync.Mutex
	logs  []string
	calls []ToolCall
}

func (c *capture) log(line string) {
	c.mu.Lock()
	c.logs = append(c.logs, line)
	c.mu.Unlock()
}

func (c *capture) call(tc ToolCall) {
	c.mu.Lock()
	c.calls = append(c.calls, tc)
	c.mu.Unlock()
}

func (c *capture) snapshot() ([]string, []ToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	logs := append([]string{}, c.logs...)
	calls := append([]ToolCall{}, c.calls...)
	return logs, calls
}

// Execute extracts the fenced script from raw and runs it. Failures are
// reported in the Result, never as a Go error.
func (e *Executor) Execute(ctx context.Context, raw string, tools map[string]Func) Result {
	code := ExtractCode(raw)
	if code == "" {
		metrics.SandboxRuns.WithLabelValues("no_code").Inc()
		return Result{Logs: []string{}, ToolCalls: []ToolCall{}, Error: ErrNoCode.Error()}
	}
	return e.Run(ctx, code, tools)
}

// Run executes bare Lua source
func (e *Executor) Run(ctx context.Context, code string, tools map[string]Func) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSafeLibs(L)
	L.SetContext(ctx)

	rec := &capture{}
	installLogging(L, rec)
	for name, fn := range tools {
		L.SetGlobal(name, L.NewFunction(toolFunction(ctx, name, fn, rec)))
	}

	value, err := run(L, code)
	logs, calls := rec.snapshot()
	res := Result{Logs: logs, ToolCalls: calls}

	status := "success"
	switch {
	case ctx.Err() != nil:
		status = "timeout"
		res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		res.Error = fmt.Sprintf("execution timed out after %s", e.timeout)
		if !res.TimedOut {
			status = "cancelled"
			res.Error = "execution cancelled"
		}
		res.Logs = append(res.Logs, "Execution Error: "+res.Error)
	case err != nil:
		status = "error"
		res.Error = err.Error()
		res.Logs = append(res.Logs, "Execution Error: "+res.Error)
	default:
		res.Success = true
		res.Value = value
	}

	metrics.SandboxRuns.WithLabelValues(status).Inc()
	metrics.SandboxDuration.Observe(time.Since(start).Seconds())
	e.logger.Debug("Sandbox execution finished",
		zap.String("status", status),
		zap.Int("tool_calls", len(res.ToolCalls)),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

func run(L *lua.LState, code string) (any, error) {
	fn, err := L.LoadString(code)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	out, err := ToGoStrict(ret)
	if err != nil {
		return nil, fmt.Errorf("return value: %w", err)
	}
	return out, nil
}

func openSafeLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
}

func installLogging(L *lua.LState, rec *capture) {
	join := func(L *lua.LState) string {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, display(L.Get(i)))
		}
		return strings.Join(parts, " ")
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		rec.log(join(L))
		return 0
	}))
	logTable := L.NewTable()
	L.SetField(logTable, "info", L.NewFunction(func(L *lua.LState) int {
		rec.log(join(L))
		return 0
	}))
	L.SetField(logTable, "error", L.NewFunction(func(L *lua.LState) int {
		rec.log("ERROR: " + join(L))
		return 0
	}))
	L.SetGlobal("log", logTable)
}

type toolReply struct {
	out any
	err error
}

// toolFunction adapts fn to a Lua global. The call runs on its own goroutine
// so a tool that ignores ctx cannot hold the interpreter past the deadline.
func toolFunction(ctx context.Context, name string, fn Func, rec *capture) lua.LGFunction {
	return func(L *lua.LState) int {
		args := make([]any, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			args = append(args, ToGo(L.Get(i)))
		}
		rec.call(ToolCall{Tool: name, Args: args})

		done := make(chan toolReply, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- toolReply{err: fmt.Errorf("panic: %v", r)}
				}
			}()
			out, err := fn(ctx, args)
			done <- toolReply{out: out, err: err}
		}()

		var reply toolReply
		select {
		case reply = <-done:
		case <-ctx.Done():
			rec.log(fmt.Sprintf("Tool %s interrupted: %s", name, ctx.Err()))
			L.RaiseError("tool %s interrupted: %s", name, ctx.Err())
			return 0
		}
		if reply.err != nil {
			rec.log(fmt.Sprintf("Tool %s failed: %s", name, reply.err.Error()))
			L.RaiseError("tool %s failed: %s", name, reply.err.Error())
			return 0
		}
		L.Push(FromGo(L, reply.out))
		return 1
	}
}
