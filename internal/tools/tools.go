// Package tools defines the tool abstraction exposed over the tools/list
// and tools/call operations, plus a registry that preserves registration
// order for stable listings.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// Tool is a single callable capability. InputSchema returns the JSON
// Schema describing the arguments object; Execute runs the tool and
// returns its textual result.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// CallError marks a failure produced by the tool itself rather than by
// the dispatch machinery. Transports map it to a tool-level error
// result instead of a protocol error.
type CallError struct {
	Tool string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Descriptor is the wire form of a tool in a listing.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Registry holds the tool set. Listing order matches registration
// order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byTag map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTag: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate name is a programming
// error and panics.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTag[t.Name()]; ok {
		panic(fmt.Sprintf("tools: duplicate registration of %q", t.Name()))
	}
	r.order = append(r.order, t.Name())
	r.byTag[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byTag[name]
	return t, ok
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.byTag[name]
		out = append(out, Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return out
}

// Call dispatches to the named tool. An unknown name is reported
// distinctly from a tool-level failure so transports can map the two
// to different error codes.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	out, err := t.Execute(ctx, args)
	if err != nil {
		return "", &CallError{Tool: name, Err: err}
	}
	return out, nil
}

// ErrUnknownTool is returned by Call for names with no registration.
var ErrUnknownTool = fmt.Errorf("unknown tool")

type typedTool[A any] struct {
	name        string
	description string
	schema      json.RawMessage
	run         func(ctx context.Context, args A) (string, error)
}

// New builds a Tool whose argument schema is reflected from the type
// parameter. The schema is self-contained (no $ref indirection) so
// clients can consume it without a resolver.
func New[A any](name, description string, run func(ctx context.Context, args A) (string, error)) Tool {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	var zero A
	schema := reflector.Reflect(zero)
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: reflecting schema for %q: %v", name, err))
	}
	return &typedTool[A]{name: name, description: description, schema: raw, run: run}
}

func (t *typedTool[A]) Name() string                 { return t.name }
func (t *typedTool[A]) Description() string          { return t.description }
func (t *typedTool[A]) InputSchema() json.RawMessage { return t.schema }

func (t *typedTool[A]) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args A
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("decoding arguments: %w", err)
		}
	}
	return t.run(ctx, args)
}
