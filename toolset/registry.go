// Package toolset implements the agent.ToolRegistry capability and the
// built-in tools the reference deployment registers: a shell (optionally
// Docker-sandboxed), workspace file read/write, and a headless browser.
package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loomhq/agentrun/agent"
)

// Tool is one callable capability. Execute's args come from the model's
// tool-call arguments, already decoded from JSON; its result is
// marshaled back to a string by Registry before being fed to the loop.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Registry is a concurrency-safe agent.ToolRegistry over a fixed set of
// Tools, matching the teacher's ToolRegistry's mutex-guarded map.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// List implements agent.ToolRegistry.
func (r *Registry) List() []agent.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]agent.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, agent.ToolDef{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return defs
}

// Execute implements agent.ToolRegistry. An unknown tool name or a
// decode failure is returned as an error — Run wraps it into the tool's
// result rather than aborting the loop.
func (r *Registry) Execute(ctx context.Context, name, argumentsJSON string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}

	args := map[string]any{}
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return "", fmt.Errorf("decode arguments for %q: %w", name, err)
		}
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		return "", err
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result of %q: %w", name, err)
	}
	return string(encoded), nil
}
