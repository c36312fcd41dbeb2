// Package tool defines the capability interface through which the executor
// invokes workflow steps, and the registry that resolves tool names at
// startup. The known tool set is fixed when the application wires its
// modules; there is no open-ended runtime reflection.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotRegistered is returned when a graph names a tool the host never
// registered.
var ErrNotRegistered = errors.New("tool is not registered")

// Tool is one invocable capability. Args is the node's parameters merged
// over a copy of the run context (parameters win); the returned map is
// merged back into the run context by the executor. Implementations must be
// safe for concurrent invocation across runs.
type Tool interface {
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Func adapts a plain function to the Tool interface.
type Func func(ctx context.Context, args map[string]any) (map[string]any, error)

// Invoke implements Tool.
func (f Func) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	return f(ctx, args)
}

// Module is implemented by packages that contribute tools to a registry.
type Module interface {
	Register(r *Registry)
}

// Registry maps tool names to capabilities for a single application
// instance.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under the given name. Registering the same name twice
// is a programmer error and panics, mirroring startup-time wiring mistakes.
func (r *Registry) Register(name string, t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tool %q already registered", name))
	}
	r.tools[name] = t
}

// Invoke resolves the named tool and calls it.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return t.Invoke(ctx, args)
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
