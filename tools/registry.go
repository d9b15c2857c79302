// ABOUTME: Tool registry and execution contract for model-invoked tools.
// ABOUTME: Slow tools opt into progress reporting through an optional interface.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fluxchat/fluxchat/llm"
)

// Result is the outcome of one tool execution. Summary is the text returned
// to the model as the tool-result message; Fields is the structured payload
// forwarded to the client in the tool_result event.
type Result struct {
	Success bool
	Summary string
	Fields  map[string]any
}

// Tool is a model-invocable function.
type Tool interface {
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}

// ProgressReporter is implemented by slow tools. ExecuteWithProgress runs
// under a per-call cancellation context and reports completion percentage
// through the callback.
type ProgressReporter interface {
	ExecuteWithProgress(ctx context.Context, args json.RawMessage, progress func(percent int)) (Result, error)
}

// Registry holds the tools available to a generation.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Definition().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the tool registered under name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns the tool definitions in registration order, for
// inclusion in provider requests.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// ExecuteByName looks up and runs a tool, returning the model-facing
// summary string.
func (r *Registry) ExecuteByName(ctx context.Context, name string, args json.RawMessage) (string, error) {
	tool := r.Get(name)
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	result, err := tool.Execute(ctx, args)
	if err != nil {
		return "", err
	}
	return result.Summary, nil
}
