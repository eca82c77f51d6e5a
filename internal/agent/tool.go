package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tcdent/codey/pkg/models"
)

// Tool is the contract every tool implementation satisfies. Execute streams
// its output on the returned channel: zero or more ToolOutputDelta values
// followed by exactly one ToolOutputDone value, after which the channel is
// closed. Execute must respect ctx cancellation and close the channel
// promptly when it's cancelled.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (<-chan models.ToolOutput, error)
}

// ToolRegistry is the set of tools an Agent may call, scoped by the
// AccessLevel it was constructed with.
type ToolRegistry struct {
	access ToolAccessLevel
	tools  map[string]Tool
}

// ToolAccessLevel mirrors models.ToolAccess but lives at the registry
// construction boundary, where "none" means "no registry at all" rather
// than a filtered one.
type ToolAccessLevel = models.ToolAccess

// NewToolRegistry builds a registry with full access to the given tools.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	reg := &ToolRegistry{access: models.ToolAccessFull, tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		reg.tools[t.Name()] = t
	}
	return reg
}

// ReadOnlyToolRegistry narrows tools down to a read-only subset
// (everything whose name is in readOnlyNames), for sub-agents spawned
// with ToolAccessReadOnly.
func ReadOnlyToolRegistry(full *ToolRegistry, readOnlyNames ...string) *ToolRegistry {
	reg := &ToolRegistry{access: models.ToolAccessReadOnly, tools: make(map[string]Tool)}
	allow := make(map[string]bool, len(readOnlyNames))
	for _, n := range readOnlyNames {
		allow[n] = true
	}
	for name, t := range full.tools {
		if allow[name] {
			reg.tools[name] = t
		}
	}
	return reg
}

// EmptyToolRegistry is the registry given to a ToolAccessNone sub-agent.
func EmptyToolRegistry() *ToolRegistry {
	return &ToolRegistry{access: models.ToolAccessNone, tools: map[string]Tool{}}
}

// Access reports the registry's access level.
func (r *ToolRegistry) Access() ToolAccessLevel { return r.access }

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns every tool's name/description/schema, sorted by
// name, for inclusion in a chat completion request.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ToolDefinition is the provider-facing shape of a registered tool.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

var errUnknownTool = fmt.Errorf("agent: unknown tool")

// Execute dispatches a call by name, returning errUnknownTool if the
// registry has no such tool (the executor turns this into a ToolResult
// error rather than propagating it). Params are validated against the
// tool's declared schema before dispatch.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (<-chan models.ToolOutput, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownTool, name)
	}
	if err := validateParams(t.Schema(), params); err != nil {
		return nil, fmt.Errorf("agent: invalid params for %q: %w", name, err)
	}
	return t.Execute(ctx, params)
}

func validateParams(schema, params json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return compiled.Validate(doc)
}
