// Package tools defines the tool interface and the registry that binds each
// named operation to its implementation. Every registered tool is wrapped by
// the monitoring middleware, so rate limiting, metrics and logging apply
// uniformly.
package tools

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/mcpkit/internal/observability"
	"github.com/jkaninda/mcpkit/internal/toolerr"
)

// Tool is the interface all exposed operations implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "read_file").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Definition returns the MCP tool declaration including its input schema.
	Definition() mcp.Tool

	// Execute runs the tool. The returned value is JSON-serializable.
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// NewDefinition builds an MCP tool declaration with the shared client_id argument.
func NewDefinition(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)
	opts = append(opts, mcp.WithString("client_id",
		mcp.Description("Caller identity used for rate limiting (default: \"default\")"),
	))
	return mcp.NewTool(name, opts...)
}

type entry struct {
	tool Tool
	op   *observability.MonitoredOperation
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	infra *observability.Infrastructure
	tools map[string]entry
}

// NewRegistry creates an empty tool registry whose tools are monitored through infra.
func NewRegistry(infra *observability.Infrastructure) *Registry {
	return &Registry{infra: infra, tools: make(map[string]entry)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = entry{tool: t, op: r.infra.Wrap(t.Name(), t.Execute)}
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name].tool
}

// Operation returns the monitored operation for name, or nil if not found.
func (r *Registry) Operation(name string) *observability.MonitoredOperation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name].op
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []Tool {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(names))
	for _, name := range names {
		result = append(result, r.tools[name].tool)
	}
	return result
}

// Invoke runs the named tool through its monitored operation.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (any, error) {
	op := r.Operation(name)
	if op == nil {
		return nil, fmt.Errorf("%w: %s", toolerr.ErrUnknownTool, name)
	}
	if params == nil {
		params = map[string]any{}
	}
	return op.Invoke(ctx, params)
}
