// Package tools holds the catalog of workspace tools and the runner that
// executes validated tool invocations. The catalog is the complete set of
// effects a mission can produce; there is no dynamic eval. Each tool is a
// Descriptor: name, planner-facing description, a JSON Schema for its
// arguments, the Go action, and the execution metadata the runner needs
// (injected services, which arguments are workspace paths, whether a
// success re-announces the file tree).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aura-dev/aura/internal/bus"
	"github.com/aura-dev/aura/internal/gateway"
	"github.com/aura-dev/aura/internal/missionlog"
	"github.com/aura-dev/aura/internal/vectorctx"
)

// Service names a dependency a tool can declare in RequiredServices. The
// runner refuses to invoke a tool whose services are missing from the
// ToolContext instead of letting the action hit a nil pointer.
const (
	ServiceProjectManager = "project_manager"
	ServiceMissionLog     = "mission_log"
	ServiceVectorContext  = "vector_context"
	ServiceGateway        = "llm_gateway"
	ServiceBus            = "notification_bus"
)

// ToolContext carries the per-mission dependencies actions may use. It is
// assembled by the conductor for each mission; fields a tool does not
// declare in RequiredServices may be nil.
type ToolContext struct {
	// UserID owns the mission; bus events are addressed to it.
	UserID string

	// ProjectRoot is the absolute path of the active project. Path
	// arguments are resolved against it and must not escape it.
	ProjectRoot string

	MissionLog    *missionlog.Log
	VectorContext *vectorctx.Service
	Gateway       *gateway.Gateway
	Bus           *bus.Bus
}

// has reports whether the named service is available in this context.
func (tc *ToolContext) has(service string) bool {
	switch service {
	case ServiceProjectManager:
		return tc.ProjectRoot != ""
	case ServiceMissionLog:
		return tc.MissionLog != nil
	case ServiceVectorContext:
		return tc.VectorContext != nil
	case ServiceGateway:
		return tc.Gateway != nil
	case ServiceBus:
		return tc.Bus != nil
	}
	return false
}

// Action executes one tool call. Arguments have passed schema validation
// and path arguments are resolved to absolute paths inside the project
// root. Actions report expected failures as "Error: ..." result strings;
// a returned Go error marks an unexpected fault and is converted to an
// error result by the runner.
type Action func(ctx context.Context, args map[string]any, tc *ToolContext) (any, error)

// Descriptor defines one tool.
type Descriptor struct {
	// Name is the identifier the planner uses in tool calls.
	Name string

	// Description tells the planner what the tool does and when to use it.
	Description string

	// ParametersSchema is the JSON Schema (draft 2020-12) for Arguments.
	ParametersSchema string

	// Action is the Go function behind the tool.
	Action Action

	// RequiredServices lists the Service* names the action dereferences.
	RequiredServices []string

	// PathParams names the arguments holding workspace-relative paths.
	// The runner resolves them against the project root before invoking
	// the action and renders them relative again for display.
	PathParams []string

	// Mutating marks tools whose success is followed by exactly one
	// file_tree_updated event announcing the current workspace tree. Every
	// tool operating on workspace paths is marked, reads included, so the
	// client tree never goes stale.
	Mutating bool

	compiled *jsonschema.Schema
	params   map[string]any
}

// validate checks args against the tool's compiled schema.
func (d *Descriptor) validate(args map[string]any) error {
	if d.compiled == nil {
		return nil
	}
	// The schema validator works on decoded JSON values; invocation
	// arguments already are one (they come from a JSON unmarshal).
	if args == nil {
		args = map[string]any{}
	}
	return d.compiled.Validate(normalizeJSON(args))
}

// normalizeJSON rebuilds a value through the JSON codec so hand-built test
// arguments (ints, typed slices) validate the same as decoded wire data.
func normalizeJSON(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// Catalog manages tool descriptors with thread-safe registration and
// lookup. Registering a name twice replaces the earlier descriptor, which
// is how reloaded dynamic tools take effect.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]*Descriptor)}
}

// Register compiles the descriptor's schema and adds it to the catalog.
func (c *Catalog) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("tools: descriptor must have a name")
	}
	if d.Action == nil {
		return fmt.Errorf("tools: tool %q has no action", d.Name)
	}
	if d.ParametersSchema != "" {
		schema, err := jsonschema.CompileString(d.Name+".json", d.ParametersSchema)
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", d.Name, err)
		}
		d.compiled = schema
		var params map[string]any
		if err := json.Unmarshal([]byte(d.ParametersSchema), &params); err != nil {
			return fmt.Errorf("tools: decode schema for %q: %w", d.Name, err)
		}
		d.params = params
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[d.Name] = d
	return nil
}

// Unregister removes a tool by name. Unknown names are a no-op.
func (c *Catalog) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tools, name)
}

// Get returns a descriptor by name.
func (c *Catalog) Get(name string) (*Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.tools[name]
	return d, ok
}

// Names returns all registered tool names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the planner-facing description of every tool, sorted by
// name: {name, description, parameters}. The slice feeds both the planner
// prompts and the tools field of LLM requests.
func (c *Catalog) Specs() []map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]map[string]any, 0, len(names))
	for _, name := range names {
		d := c.tools[name]
		spec := map[string]any{
			"name":        d.Name,
			"description": d.Description,
		}
		if d.params != nil {
			spec["parameters"] = d.params
		}
		specs = append(specs, spec)
	}
	return specs
}
