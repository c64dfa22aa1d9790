package tool

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrToolNotFound is returned by Registry.Lookup for unknown tool names.
var ErrToolNotFound = errors.New("tool not found")

// Handler executes one tool call. It emits frames through the Context and
// must finish with exactly one terminal frame (Structured or Error). It
// should poll ctx.Cancelled() at natural suspension points.
type Handler func(ctx *Context) error

// Descriptor is the immutable registration record of a tool. Schemas use
// snake_case property names internally; translation to camelCase happens at
// the wire boundary.
type Descriptor struct {
	Name         string
	Description  string
	InputSchema  map[string]any
	OutputSchema map[string]any
	Pricing      Pricing
	Handler      Handler
}

// ValidateArgs checks snake_case arguments against the descriptor's input
// schema: required properties must be present and top-level property types
// must match. It returns one error listing every violated field.
func (d Descriptor) ValidateArgs(args map[string]any) error {
	props, _ := d.InputSchema["properties"].(map[string]any)
	var problems []string

	if required, ok := d.InputSchema["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				problems = append(problems, fmt.Sprintf("%s: required field missing", name))
			}
		}
	} else if required, ok := d.InputSchema["required"].([]any); ok {
		for _, v := range required {
			name, _ := v.(string)
			if _, present := args[name]; name != "" && !present {
				problems = append(problems, fmt.Sprintf("%s: required field missing", name))
			}
		}
	}

	for name, value := range args {
		spec, ok := props[name].(map[string]any)
		if !ok {
			continue // unknown fields are tolerated, matching MCP clients in the wild
		}
		want, _ := spec["type"].(string)
		if want == "" || value == nil {
			continue
		}
		if !typeMatches(want, value) {
			problems = append(problems, fmt.Sprintf("%s: expected %s", name, want))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("validation failed: %s", strings.Join(problems, "; "))
}

func typeMatches(want string, v any) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

// Registry holds the set of registered tools for the process lifetime. It is
// populated at startup and read-only afterwards, so lookups take no lock.
type Registry struct {
	byName map[string]Descriptor
	names  []string // registration order
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds a descriptor. Duplicate names, missing handlers, and invalid
// pricing are startup errors.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if d.Handler == nil {
		return fmt.Errorf("register tool %q: nil handler", d.Name)
	}
	if err := d.Pricing.Validate(); err != nil {
		return fmt.Errorf("register tool %q: %w", d.Name, err)
	}
	if _, dup := r.byName[d.Name]; dup {
		return fmt.Errorf("register tool %q: duplicate name", d.Name)
	}
	r.byName[d.Name] = d
	r.names = append(r.names, d.Name)
	return nil
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return d, nil
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.names) }
