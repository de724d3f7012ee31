// Package catalog holds the per-workspace tool registries. A Catalog is
// built once at startup from static definitions and never mutated after;
// handlers receive already-validated arguments.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"foodflow/copilot/pkg/llm"
)

var ErrToolNotFound = errors.New("tool not found in catalog")

// Kind classifies what happens when a tool's backing collaborator is
// missing: direct tools fail the invocation, degradable tools report
// unavailability as a normal result.
type Kind string

const (
	KindDirect     Kind = "direct"
	KindDegradable Kind = "degradable"
)

// Handler executes one tool invocation. Implementations come from Func or
// NewDegradable; the interface is closed so dispatch stays uniform.
type Handler interface {
	Run(ctx context.Context, args map[string]any) (any, error)
	handler()
}

// Func adapts a plain function to Handler.
type Func func(ctx context.Context, args map[string]any) (any, error)

func (f Func) Run(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

func (Func) handler() {}

// Definition describes one tool: its wire name, the argument schema the
// model sees, and the handler that serves it.
type Definition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Kind        Kind
	Handler     Handler
}

type entry struct {
	def      Definition
	resolved *jsonschema.Resolved
	spec     llm.Tool
}

// Catalog is an immutable tool registry for one workspace.
type Catalog struct {
	entries map[string]*entry
	order   []string
}

// New builds a catalog from definitions, resolving each argument schema up
// front so invocation-time validation cannot fail on a bad schema.
func New(defs ...Definition) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]*entry, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("catalog: tool with empty name")
		}
		if def.Handler == nil {
			return nil, fmt.Errorf("catalog: tool %q has no handler", def.Name)
		}
		if _, dup := c.entries[def.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate tool %q", def.Name)
		}
		if def.Kind == "" {
			def.Kind = KindDirect
		}
		if def.Parameters == nil {
			def.Parameters = &jsonschema.Schema{Type: "object"}
		}
		resolved, err := def.Parameters.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("catalog: tool %q schema: %w", def.Name, err)
		}
		spec, err := toolSpec(def)
		if err != nil {
			return nil, err
		}
		c.entries[def.Name] = &entry{def: def, resolved: resolved, spec: spec}
		c.order = append(c.order, def.Name)
	}
	return c, nil
}

// MustNew is New for static definitions wired at startup.
func MustNew(defs ...Definition) *Catalog {
	c, err := New(defs...)
	if err != nil {
		panic(err)
	}
	return c
}

func toolSpec(def Definition) (llm.Tool, error) {
	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return llm.Tool{}, fmt.Errorf("catalog: tool %q schema marshal: %w", def.Name, err)
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return llm.Tool{}, fmt.Errorf("catalog: tool %q schema unmarshal: %w", def.Name, err)
	}
	return llm.Tool{Name: def.Name, Description: def.Description, Parameters: params}, nil
}

// Lookup returns the definition for name.
func (c *Catalog) Lookup(name string) (Definition, error) {
	e, ok := c.entries[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e.def, nil
}

// Names lists tool names in registration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Specs returns the tool declarations to advertise to the model.
func (c *Catalog) Specs() []llm.Tool {
	out := make([]llm.Tool, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name].spec)
	}
	return out
}

// Result is the outcome of one tool invocation. IsError marks structured
// failures that are fed back to the model as the tool's result; Degraded
// marks a degradable tool reporting its collaborator unavailable.
type Result struct {
	Content  any
	IsError  bool
	Degraded bool
}

// Content marshals to the string carried in the tool-result message.
func (r Result) Text() string {
	if s, ok := r.Content.(string); ok {
		return s
	}
	raw, err := json.Marshal(r.Content)
	if err != nil {
		return fmt.Sprintf(`{"error":"unencodable tool result: %v"}`, err)
	}
	return string(raw)
}

func errorResult(format string, args ...any) Result {
	return Result{Content: map[string]any{"error": fmt.Sprintf(format, args...)}, IsError: true}
}

// Invoke validates rawArgs against the tool's schema and runs the handler.
// Every failure mode maps to a structured error Result the model can read;
// Invoke itself never returns an error and never panics past the handler.
func (c *Catalog) Invoke(ctx context.Context, name, rawArgs string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = errorResult("%s panicked: %v", name, r)
		}
	}()

	e, ok := c.entries[name]
	if !ok {
		return errorResult("unknown tool %q", name)
	}

	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return errorResult("invalid tool arguments: %v", err)
		}
	}
	if err := e.resolved.Validate(args); err != nil {
		return errorResult("invalid arguments for %s: %v", name, err)
	}

	content, err := e.def.Handler.Run(ctx, args)
	if err != nil {
		return errorResult("%s failed: %v", name, err)
	}
	if e.def.Kind == KindDegradable {
		if d, ok := content.(DegradedContent); ok && !d.Available {
			return Result{Content: d, Degraded: true}
		}
	}
	return Result{Content: content}
}
