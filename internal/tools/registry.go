// Package tools holds the tool catalog available to skills: the frozen
// registry, the closed dispatch table that adds meta tools, and the semantic
// index over deferred tools.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrDuplicateTool    = errors.New("tool already registered")
	ErrRegistryFrozen   = errors.New("tool registry is frozen")
	ErrToolNotFound     = errors.New("tool not found or not allowed for this skill")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Tier decides whether a tool is always declared to the model or only
// discoverable through tool_search
type Tier string

const (
	TierAlways   Tier = "always"
	TierDeferred Tier = "deferred"
)

// Handler runs a tool with decoded JSON arguments
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Descriptor is one registered tool
type Descriptor struct {
	Name        string
	Description string
	Schema      Schema
	Handler     Handler
	Tier        Tier
}

type registered struct {
	Descriptor
	validator *gojsonschema.Schema
}

// Registry is built during startup and frozen before the first request.
// After Freeze it is read-only and needs no locking on the read path.
type Registry struct {
	mu     sync.Mutex
	frozen bool
	tools  map[string]*registered
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register adds d. Names are unique and registration ends at Freeze.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if d.Handler == nil {
		return fmt.Errorf("register tool %s: nil handler", d.Name)
	}
	if d.Tier == "" {
		d.Tier = TierAlways
	}
	validator, err := d.Schema.compile()
	if err != nil {
		return fmt.Errorf("register tool %s: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register tool %s: %w", d.Name, ErrRegistryFrozen)
	}
	if _, ok := r.tools[d.Name]; ok {
		return fmt.Errorf("register tool %s: %w", d.Name, ErrDuplicateTool)
	}
	r.tools[d.Name] = &registered{Descriptor: d, validator: validator}
	r.order = append(r.order, d.Name)
	return nil
}

// MustRegister registers every descriptor and panics on the first error
func (r *Registry) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Freeze ends the registration phase
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	sort.Strings(r.order)
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Get returns the descriptor registered under name
func (r *Registry) Get(name string) (Descriptor, bool) {
	t, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return t.Descriptor, true
}

// Always lists the tools declared to the model on every turn, sorted by name
func (r *Registry) Always() []Descriptor { return r.byTier(TierAlways) }

// Deferred lists the tools only reachable through tool_search, sorted by name
func (r *Registry) Deferred() []Descriptor { return r.byTier(TierDeferred) }

// All lists every tool sorted by name
func (r *Registry) All() []Descriptor { return r.byTier("") }

func (r *Registry) byTier(tier Tier) []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.sortedNames() {
		t := r.tools[name]
		if tier == "" || t.Tier == tier {
			out = append(out, t.Descriptor)
		}
	}
	return out
}

func (r *Registry) sortedNames() []string {
	if r.Frozen() {
		return r.order
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// call validates args and runs the handler
func (r *Registry) call(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, ErrToolNotFound
	}
	if err := validateArgs(t.validator, args); err != nil {
		return nil, err
	}
	return t.Handler(ctx, args)
}
