package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/estio/agentcore/internal/tools"
)

// SystemPrompt is appended to a skill prompt when the skill runs in
// programmatic mode. It lists the callable tools with their parameters.
func SystemPrompt(descs []tools.Descriptor) string {
	var sigs strings.Builder
	for _, d := range descs {
		params, _ := json.Marshal(d.Schema.JSONSchema()["properties"])
		fmt.Fprintf(&sigs, "- %s(params: %s) -- %s\n", d.Name, params, d.Description)
	}
	if sigs.Len() == 0 {
		sigs.WriteString("(none)\n")
	}

	return `## PROGRAMMATIC TOOL CALLING ENABLED

Instead of single tool calls you may write one Lua script that orchestrates
several tools, processes their results and returns a value.

### Environment
- Runtime: Lua 5.1 sandbox
- Available: base functions, table, string, math, print, log.info, log.error
- Unavailable: io, os, require, load, dofile, network (except via tools)

### Available Tools
Each tool is a global function taking one table argument and returning a table:
` + sigs.String() + `
### Rules
1. Put the whole script in one ` + "```lua" + ` block.
2. Only call the tools listed above.
3. End the script with a return statement carrying the result.
4. Use print or log.info for intermediate status.

### Example
` + "```lua" + `
local res = search_properties({location_id = "loc_1", district = "Paphos", max_price = 400000})
local picks = {}
for _, hit in ipairs(res.properties) do
  if hit.property.bedrooms >= 3 then
    table.insert(picks, hit.property.id)
  end
end
log.info("found " .. #picks .. " family homes")
return picks
` + "```"
}

// Bind adapts dispatcher tools to sandbox functions. A script passes one
// table argument; anything else is reported as an argument error.
func Bind(d *tools.Dispatcher, names []string) map[string]Func {
	out := make(map[string]Func, len(names))
	for _, name := range names {
		name := name
		out[name] = func(ctx context.Context, args []any) (any, error) {
			var params map[string]any
			switch len(args) {
			case 0:
				params = map[string]any{}
			case 1:
				m, ok := args[0].(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%w: %s expects a table argument", tools.ErrInvalidArguments, name)
				}
				params = m
			default:
				return nil, fmt.Errorf("%w: %s takes a single table argument", tools.ErrInvalidArguments, name)
			}
			return d.Invoke(ctx, name, params)
		}
	}
	return out
}
