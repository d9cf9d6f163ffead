package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/metrics"
)

// MetaKind names a built-in tool that operates on the catalog itself
type MetaKind string

const (
	MetaLoadSkill     MetaKind = "load_skill"
	MetaReadResource  MetaKind = "read_resource"
	MetaListResources MetaKind = "list_resources"
	MetaToolSearch    MetaKind = "tool_search"
)

// MetaFunc implements a meta tool
type MetaFunc func(ctx context.Context, args map[string]any) (any, error)

// Entry is one resolvable tool name: a RegistryTool or a MetaTool
type Entry interface {
	entryName() string
}

// RegistryTool resolves to a registered descriptor
type RegistryTool struct {
	Descriptor
}

func (t RegistryTool) entryName() string { return t.Name }

// MetaTool resolves to one of the catalog operations
type MetaTool struct {
	Kind        MetaKind
	Description string
	Schema      Schema

	fn        MetaFunc
	validator *gojsonschema.Schema
}

func (t MetaTool) entryName() string { return string(t.Kind) }

func (t MetaTool) descriptor() Descriptor {
	return Descriptor{Name: string(t.Kind), Description: t.Description, Schema: t.Schema, Tier: TierAlways}
}

var metaSpecs = map[MetaKind]MetaTool{
	MetaLoadSkill: {
		Description: "Load the full instructions of a skill by name.",
		Schema:      Object(Prop("name", String("Skill name from the skill registry"))),
	},
	MetaReadResource: {
		Description: "Read a reference file bundled with a skill.",
		Schema: Object(
			Prop("skill", String("Skill name")),
			Prop("path", String("Path relative to the skill directory, e.g. references/pricing.md")),
		),
	},
	MetaListResources: {
		Description: "List the reference files bundled with a skill.",
		Schema:      Object(Prop("skill", String("Skill name"))),
	},
	MetaToolSearch: {
		Description: "Search for additional tools by describing what you need to do.",
		Schema: Object(
			Prop("query", String("Natural language description of the capability")),
			Prop("limit", Optional(Integer("Maximum number of tools to return"))),
		),
	},
}

// Call is a tool invocation requested by the model
type Call struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallResult is the outcome of one Call. Error is set instead of Result when
// the tool failed; a failed call never aborts its siblings.
type CallResult struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Result any            `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Dispatcher resolves tool names through one closed table
type Dispatcher struct {
	registry *Registry
	entries  map[string]Entry
	allowed  map[string]bool
	logger   *zap.Logger
}

// NewDispatcher builds the table from the frozen registry and the provided
// meta tools. A meta tool may not shadow a registered tool.
func NewDispatcher(reg *Registry, meta map[MetaKind]MetaFunc, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !reg.Frozen() {
		return nil, errors.New("dispatcher requires a frozen registry")
	}
	entries := make(map[string]Entry, len(reg.tools)+len(meta))
	for _, d := range reg.All() {
		entries[d.Name] = RegistryTool{Descriptor: d}
	}
	for kind, fn := range meta {
		spec, ok := metaSpecs[kind]
		if !ok {
			return nil, fmt.Errorf("unknown meta tool %q", kind)
		}
		if _, clash := entries[string(kind)]; clash {
			return nil, fmt.Errorf("meta tool %s: %w", kind, ErrDuplicateTool)
		}
		validator, err := spec.Schema.compile()
		if err != nil {
			return nil, fmt.Errorf("meta tool %s: %w", kind, err)
		}
		spec.Kind = kind
		spec.fn = fn
		spec.validator = validator
		entries[string(kind)] = spec
	}
	return &Dispatcher{registry: reg, entries: entries, logger: logger}, nil
}

// Scoped returns a view where only the named registry tools (plus every meta
// tool) resolve
func (d *Dispatcher) Scoped(allowed []string) *Dispatcher {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return &Dispatcher{registry: d.registry, entries: d.entries, allowed: set, logger: d.logger}
}

func (d *Dispatcher) lookup(name string) (Entry, bool) {
	e, ok := d.entries[name]
	if !ok {
		return nil, false
	}
	if _, isTool := e.(RegistryTool); isTool && d.allowed != nil && !d.allowed[name] {
		return nil, false
	}
	return e, true
}

// Invoke runs one tool by name
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	start := time.Now()
	entry, ok := d.lookup(name)
	if !ok {
		metrics.ToolCalls.WithLabelValues("unknown", "not_found").Inc()
		return nil, ErrToolNotFound
	}

	var (
		result any
		err    error
	)
	switch e := entry.(type) {
	case RegistryTool:
		result, err = d.registry.call(ctx, e.Name, args)
	case MetaTool:
		if err = validateArgs(e.validator, args); err == nil {
			result, err = e.fn(ctx, args)
		}
	}

	status := "success"
	if err != nil {
		status = "error"
		d.logger.Debug("Tool call failed",
			zap.String("tool", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}
	metrics.ToolCalls.WithLabelValues(name, status).Inc()
	return result, err
}

// Execute runs calls in order, capturing each failure in its result
func (d *Dispatcher) Execute(ctx context.Context, calls []Call) []CallResult {
	out := make([]CallResult, 0, len(calls))
	for _, c := range calls {
		res := CallResult{Name: c.Name, Args: c.Arguments}
		value, err := d.Invoke(ctx, c.Name, c.Arguments)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Result = value
		}
		out = append(out, res)
	}
	return out
}

// Declarations lists what the model may call: registry tools of the scope
// (always-tier tools when unscoped) followed by the meta tools, each sorted
func (d *Dispatcher) Declarations() []FunctionDeclaration {
	var toolsOut, metaOut []FunctionDeclaration
	for name, e := range d.entries {
		switch t := e.(type) {
		case RegistryTool:
			if d.allowed != nil {
				if !d.allowed[name] {
					continue
				}
			} else if t.Tier != TierAlways {
				continue
			}
			toolsOut = append(toolsOut, ToFunctionDeclaration(t.Descriptor))
		case MetaTool:
			metaOut = append(metaOut, ToFunctionDeclaration(t.descriptor()))
		}
	}
	sort.Slice(toolsOut, func(i, j int) bool { return toolsOut[i].Name < toolsOut[j].Name })
	sort.Slice(metaOut, func(i, j int) bool { return metaOut[i].Name < metaOut[j].Name })
	return append(toolsOut, metaOut...)
}

// Signatures returns name, description and schema of every resolvable
// registry tool, for prompts that describe tools outside function calling
func (d *Dispatcher) Signatures() []Descriptor {
	var out []Descriptor
	for _, desc := range d.registry.All() {
		if _, ok := d.lookup(desc.Name); ok {
			out = append(out, desc)
		}
	}
	return out
}
