package tools

// Package tools maps tool names to their definitions and local handlers.
// A tool is either local (executed synchronously against the session
// store) or bridged (delegated to the remote telemetry actor and resolved
// through a later tool-reply request). The two kinds form a closed union:
// dispatch switches on Kind, never on name strings.

import (
	"context"
	"fmt"

	"github.com/skylens/skylens-ai/internal/llm/types"
)

// Kind classifies how a tool executes.
type Kind int

const (
	// KindLocal tools run in-process against the session store.
	KindLocal Kind = iota
	// KindBridged tools are executed by the remote telemetry actor,
	// reachable only through separate request/response cycles.
	KindBridged
)

// ExecuteFunc runs a local tool. Results must be JSON-serializable; a
// returned error is converted into a structured error payload for the
// transcript, not a request failure.
type ExecuteFunc func(ctx context.Context, sessionID string, args map[string]interface{}) (interface{}, error)

// Definition describes one registered tool.
type Definition struct {
	Name        string
	Kind        Kind
	Description string
	Parameters  map[string]interface{} // JSON schema
	Execute     ExecuteFunc            // nil for bridged tools
}

// Registry is the immutable name→definition table built at startup.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// NewRegistry builds a registry from the given definitions. Duplicate
// names and malformed entries are a programming error, caught at startup.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tool definition with empty name")
		}
		if _, dup := r.defs[def.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", def.Name)
		}
		if def.Kind == KindLocal && def.Execute == nil {
			return nil, fmt.Errorf("local tool %q has no handler", def.Name)
		}
		if def.Kind == KindBridged && def.Execute != nil {
			return nil, fmt.Errorf("bridged tool %q must not have a local handler", def.Name)
		}
		r.defs[def.Name] = def
		r.order = append(r.order, def.Name)
	}
	return r, nil
}

// Lookup returns the definition for a tool name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Schema returns the static tool schema sent to the completion service,
// in registration order.
func (r *Registry) Schema() []types.Tool {
	out := make([]types.Tool, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]
		out = append(out, types.Tool{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return out
}
