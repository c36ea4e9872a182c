// Package provider defines the model-backend contract agents stream against.
package provider

import "context"

// Role identifies the sender of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation. Content is empty on
// assistant messages that carry only ToolCalls, and ToolCallID is set
// only on tool-role messages, linking back to the originating call.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a single tool invocation requested by the model. Arguments
// is the argument payload serialized as a single opaque string in
// canonical JSON-object form, regardless of how the backend framed it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef describes a tool the model may call.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// EventKind discriminates a ProviderEvent.
type EventKind string

const (
	EventThinking  EventKind = "thinking"
	EventTextDelta EventKind = "text_delta"
	EventToolCalls EventKind = "tool_calls"
)

// ProviderEvent is one unit produced by a provider's streaming turn.
// Thinking and TextDelta carry a Content delta; ToolCalls is terminal
// and carries the full batch that ends the turn.
type ProviderEvent struct {
	Kind    EventKind
	Content string
	Calls   []ToolCall
}

// Request bundles a streaming turn's inputs.
type Request struct {
	Messages []Message
	Tools    []ToolDef
	Model    string
}

// Provider submits a conversation + tool catalogue to a model backend and
// streams back the resulting turn. Stream never sends an event after
// closing the returned events channel; any terminal failure is delivered
// on errc, which always receives at most one value before closing.
// A caller should drain events fully, then receive from errc:
//
//	events, errc := p.Stream(ctx, req)
//	for ev := range events { ... }
//	if err := <-errc; err != nil { ... }
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan ProviderEvent, <-chan error)
}
