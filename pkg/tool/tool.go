// Package tool defines the thin contract sub-agents use to invoke a
// concrete worker capability (editing a file, running a shell command,
// querying git). The orchestration core never implements a real tool
// itself — it ships a local in-process registry for deterministic tests,
// and the out-of-process plugin loader in plugin.go for the TOOLSMITH
// sub-agent role to install real tools at runtime.
package tool

import (
	"context"
	"fmt"

	"github.com/trinity-os/trinity/pkg/registry"
)

// Tool is one concrete, named capability.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Invoker is the narrow surface sub-agents depend on — they never hold a
// Tool directly, only the ability to invoke one by name.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// ErrNotFound is returned when name has no registered Tool.
type ErrNotFound struct{ Name string }

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("tool: %q not found", e.Name)
}

// Registry is the default Invoker: an in-process, name-keyed table of
// Tools, built on the shared registry used throughout the core.
type Registry struct {
	tools *registry.BaseRegistry[Tool]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: registry.New[Tool]()}
}

// Register adds t under its own Name(). Re-registering the same name is
// an error, matching the shared registry's semantics.
func (r *Registry) Register(t Tool) error {
	return r.tools.Register(t.Name(), t)
}

// Invoke dispatches to the registered Tool named name.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	t, ok := r.tools.Get(name)
	if !ok {
		return nil, &ErrNotFound{Name: name}
	}
	return t.Invoke(ctx, args)
}

// Names lists every registered tool name.
func (r *Registry) Names() []string {
	return r.tools.Names()
}

// Func adapts a plain function into a Tool, for the common case of a
// stateless local tool with no fields of its own.
type Func struct {
	FuncName string
	Fn       func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (f Func) Name() string { return f.FuncName }

func (f Func) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	return f.Fn(ctx, args)
}
