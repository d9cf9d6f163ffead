package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/estio/agentcore/internal/tools"
)

func TestExecuteRecordsToolCalls(t *testing.T) {
	ex := NewExecutor(Options{}, zaptest.NewLogger(t))
	foo := func(_ context.Context, args []any) (any, error) {
		in := args[0].(map[string]any)
		return map[string]any{"y": in["x"].(float64) + 1}, nil
	}

	res := ex.Execute(context.Background(), "```lua\nreturn foo({x=1})\n```", map[string]Func{"foo": foo})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]any{"y": 2.0}, res.Value)
	assert.Equal(t, []ToolCall{{Tool: "foo", Args: []any{map[string]any{"x": 1.0}}}}, res.ToolCalls)
	assert.Empty(t, res.Logs)
}

func TestExecuteCapturesLogs(t *testing.T) {
	ex := NewExecutor(Options{}, nil)
	code := "```\nprint(\"hello\", 42)\nlog.info({a = 1})\nlog.error(\"bad\")\nreturn {1, 2, 3}\n```"
	res := ex.Execute(context.Background(), code, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, res.Value)
	assert.Equal(t, []string{"hello 42", `{"a":1}`, "ERROR: bad"}, res.Logs)
}

func TestToolFailureRaisesAndKeepsPartialState(t *testing.T) {
	ex := NewExecutor(Options{}, nil)
	ok := func(context.Context, []any) (any, error) { return "fine", nil }
	broken := func(context.Context, []any) (any, error) { return nil, errors.New("crm offline") }

	res := ex.Run(context.Background(), `
		local a = first({})
		print(a)
		second({n = 1})
		return "unreachable"
	`, map[string]Func{"first": ok, "second": broken})

	assert.False(t, res.Success)
	assert.Nil(t, res.Value)
	assert.Contains(t, res.Error, "crm offline")
	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "second", res.ToolCalls[1].Tool)
	assert.Equal(t, "fine", res.Logs[0])
	assert.Equal(t, "Tool second failed: crm offline", res.Logs[1])
	assert.Contains(t, res.Logs[len(res.Logs)-1], "Execution Error:")
}

func TestScriptTimeout(t *testing.T) {
	ex := NewExecutor(Options{Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	res := ex.Run(context.Background(), `
		print("starting")
		while true do end
	`, nil)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.Success)
	assert.True(t, res.TimedOut)
	assert.Contains(t, res.Error, "timed out")
	assert.Equal(t, "starting", res.Logs[0])
}

func TestTimeoutInterruptsBlockingTool(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	slow := func(context.Context, []any) (any, error) {
		select {
		case <-release:
		case <-time.After(3 * time.Second):
		}
		return "late", nil
	}

	ex := NewExecutor(Options{Timeout: 100 * time.Millisecond}, nil)
	start := time.Now()
	res := ex.Run(context.Background(), `
		print("before")
		return slow({})
	`, map[string]Func{"slow": slow})

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.Success)
	assert.True(t, res.TimedOut)
	assert.Contains(t, res.Error, "timed out")
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "slow", res.ToolCalls[0].Tool)
	assert.Equal(t, "before", res.Logs[0])
	assert.Contains(t, res.Logs[1], "Tool slow interrupted")
}

func TestCircularReturnFails(t *testing.T) {
	ex := NewExecutor(Options{}, nil)
	res := ex.Run(context.Background(), `
		local t = {}
		t.self = t
		return t
	`, nil)
	assert.False(t, res.Success)
	assert.False(t, res.TimedOut)
	assert.Nil(t, res.Value)
	assert.Contains(t, res.Error, "circular")
}

func TestCircularTableInLogsAndToolArgs(t *testing.T) {
	ex := NewExecutor(Options{}, nil)
	echo := func(_ context.Context, args []any) (any, error) { return len(args), nil }
	res := ex.Run(context.Background(), `
		local t = {name = "villa"}
		t.self = t
		print(t)
		echo(t)
		return "done"
	`, map[string]Func{"echo": echo})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "done", res.Value)
	assert.Equal(t, []string{`{"name":"villa","self":"<circular>"}`}, res.Logs)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, []any{map[string]any{"name": "villa", "self": "<circular>"}}, res.ToolCalls[0].Args)
}

func TestSharedTableIsNotCircular(t *testing.T) {
	ex := NewExecutor(Options{}, nil)
	res := ex.Run(context.Background(), `
		local shared = {1, 2}
		return {a = shared, b = shared}
	`, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]any{"a": []any{1.0, 2.0}, "b": []any{1.0, 2.0}}, res.Value)
}

func TestDeeplyNestedTableFails(t *testing.T) {
	ex := NewExecutor(Options{}, nil)
	res := ex.Run(context.Background(), `
		local root = {}
		local cur = root
		for i = 1, 200 do
			cur.next = {}
			cur = cur.next
		end
		return root
	`, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "nesting exceeds")
}

func TestUnsafeLibrariesAreUnavailable(t *testing.T) {
	ex := NewExecutor(Options{}, nil)
	for _, script := range []string{
		`return os.time()`,
		`return io.read()`,
		`return require("os")`,
		`return dofile("/etc/passwd")`,
		`return load("return 1")()`,
		`return debug.traceback()`,
	} {
		res := ex.Run(context.Background(), script, nil)
		assert.False(t, res.Success, script)
	}

	res := ex.Run(context.Background(), `return string.upper("ok") .. math.floor(2.5) .. #table.concat({"a","b"})`, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "OK22", res.Value)
}

func TestExecuteWithoutCodeBlock(t *testing.T) {
	res := NewExecutor(Options{}, nil).Execute(context.Background(), "I will search for properties.", nil)
	assert.False(t, res.Success)
	assert.Equal(t, ErrNoCode.Error(), res.Error)
}

func TestBindRoutesThroughDispatcher(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Descriptor{
		Name:        "lookup",
		Description: "Look up a listing",
		Schema:      tools.Object(tools.Prop("id", tools.String("Listing ID"))),
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"id": args["id"], "price": 450000}, nil
		},
	}))
	reg.Freeze()
	d, err := tools.NewDispatcher(reg, nil, nil)
	require.NoError(t, err)

	ex := NewExecutor(Options{}, nil)
	res := ex.Run(context.Background(), `
		local p = lookup({id = "p1"})
		return p.price
	`, Bind(d, []string{"lookup"}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 450000.0, res.Value)

	res = ex.Run(context.Background(), `return lookup("p1")`, Bind(d, []string{"lookup"}))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "expects a table argument")

	prompt := SystemPrompt(reg.All())
	assert.Contains(t, prompt, `- lookup(params: {"id":{"description":"Listing ID","type":"string"}})`)
	assert.Contains(t, prompt, "```lua")
}
