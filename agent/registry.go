package agent

import "context"

// ToolRegistry resolves a model-requested tool call to a result. Execute
// must be safe for concurrent use, since a single registry is shared
// across concurrently running loop invocations.
type ToolRegistry interface {
	// List returns the tool definitions to advertise to the provider.
	List() []ToolDef
	// Execute runs name with the given JSON-encoded argument object and
	// returns its result as a string to feed back into the conversation.
	// An error here — unknown tool name, bad arguments, a failed
	// invocation — never aborts the loop: Run wraps it as
	// "Error: <err>" and feeds that back to the model as the tool's
	// result instead.
	Execute(ctx context.Context, name, argumentsJSON string) (string, error)
}

// ToolDef mirrors provider.ToolDef to keep this package's public surface
// self-contained; the loop converts between the two at the provider
// boundary.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}
