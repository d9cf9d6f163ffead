package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

const maxTableDepth = 64

var (
	ErrCircularTable = errors.New("cannot convert circular table")
	ErrTableTooDeep  = fmt.Errorf("table nesting exceeds %d levels", maxTableDepth)
)

// ToGo converts a Lua value. Tables with keys 1..n become []any, other
// tables become map[string]any; functions and userdata become nil. A table
// that contains itself, or nesting past maxTableDepth, is replaced by a
// placeholder string.
func ToGo(v lua.LValue) any {
	out, _ := newConverter(false).value(v, 0)
	return out
}

// ToGoStrict is ToGo but fails on circular or too deeply nested tables
func ToGoStrict(v lua.LValue) (any, error) {
	return newConverter(true).value(v, 0)
}

type converter struct {
	strict bool
	open   map[*lua.LTable]bool // tables on the current path
}

func newConverter(strict bool) *converter {
	return &converter{strict: strict, open: make(map[*lua.LTable]bool)}
}

func (c *converter) value(v lua.LValue, depth int) (any, error) {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		return float64(val), nil
	case lua.LString:
		return string(val), nil
	case *lua.LTable:
		return c.table(val, depth)
	default:
		return nil, nil
	}
}

func (c *converter) table(t *lua.LTable, depth int) (any, error) {
	switch {
	case c.open[t]:
		return c.refuse(ErrCircularTable, "<circular>")
	case depth >= maxTableDepth:
		return c.refuse(ErrTableTooDeep, "<too deep>")
	}
	c.open[t] = true
	defer delete(c.open, t)

	var firstErr error
	convert := func(v lua.LValue) any {
		out, err := c.value(v, depth+1)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return out
	}

	n := t.Len()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })
	if n > 0 && n == count {
		arr := make([]any, 0, n)
		for i := 1; i <= n && firstErr == nil; i++ {
			arr = append(arr, convert(t.RawGetInt(i)))
		}
		if firstErr != nil {
			return nil, firstErr
		}
		return arr, nil
	}
	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		if firstErr == nil {
			m[k.String()] = convert(v)
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return m, nil
}

func (c *converter) refuse(err error, placeholder string) (any, error) {
	if c.strict {
		return nil, err
	}
	return placeholder, nil
}

// FromGo converts JSON-like Go values. Anything else round-trips through
// encoding/json first.
func FromGo(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(FromGo(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, FromGo(L, item))
		}
		return t
	case lua.LValue:
		return val
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return lua.LString(fmt.Sprint(v))
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return lua.LString(string(raw))
	}
	return FromGo(L, generic)
}

// display renders a value for print and log
func display(v lua.LValue) string {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%g", f)
	case *lua.LTable:
		raw, err := json.Marshal(ToGo(val))
		if err != nil {
			return val.String()
		}
		return string(raw)
	default:
		return v.String()
	}
}
