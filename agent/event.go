package agent

import "github.com/loomhq/agentrun/provider"

// EventKind discriminates a LoopEvent.
type EventKind string

const (
	EventThinking     EventKind = "thinking"
	EventTextDelta    EventKind = "text_delta"
	EventToolCall     EventKind = "tool_call"
	EventToolResult   EventKind = "tool_result"
	EventText         EventKind = "text"
	EventConversation EventKind = "conversation"
	EventError        EventKind = "error"
	EventDone         EventKind = "done"
)

// LoopEvent is one unit produced by Run, in emission order. Which fields
// are populated depends on Kind:
//
//	thinking, text_delta: Content
//	tool_call:             Call
//	tool_result:           Call, Result
//	text:                  Content (the turn's final answer, only when non-empty)
//	conversation:          ConversationID
//	error:                 Err
//	done:                  (no payload)
//
// Run itself never emits conversation: it has no notion of a persistent
// conversation id (that's the surrounding request handler's business, per
// the MessageStore capability). A caller that has one — the HTTP surface,
// for instance — emits its own conversation{id} LoopEvent ahead of Run's
// output, before forwarding anything downstream.
type LoopEvent struct {
	Kind           EventKind
	Content        string
	Call           provider.ToolCall
	Result         string
	ConversationID string
	Err            error
}
