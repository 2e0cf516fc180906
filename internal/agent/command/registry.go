// Package command is the single entry point for every operator
// command the agent can execute: one typed map of dotted command
// name to handler. There are no ad-hoc command paths.
package command

import (
	"context"
	"fmt"
	"sort"

	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/proto"
)

// Handler executes one command against the agent's devices. It
// returns either a string summary or a structured object, never
// both.
type Handler func(ctx context.Context, a *core.Agent, params map[string]any) (any, error)

// Registry maps command names to handlers. Populated once at
// construction; read-only afterwards.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds the full command table.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.registerSwitcher()
	r.registerStreamer()
	r.registerRouter()
	r.registerMixer()
	r.registerSlides()
	r.registerVisual()
	r.registerMacrohost()
	r.registerSystem()
	return r
}

// register panics on duplicate names; duplicates are a programming
// error caught at startup.
func (r *Registry) register(name string, h Handler) {
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("duplicate command handler %q", name))
	}
	r.handlers[name] = h
}

// Names returns every registered command name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a command is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Dispatch executes a command by name.
func (r *Registry) Dispatch(ctx context.Context, a *core.Agent, name string, params map[string]any) (any, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, proto.NewError(proto.KindNotFound, "unknown command %q", name)
	}
	return h(ctx, a, params)
}
