// Package mock provides a scripted provider.Provider for testing the loop
// orchestrator without a real model backend.
package mock

import (
	"context"

	"github.com/loomhq/agentrun/provider"
	"github.com/loomhq/agentrun/provider/tagmachine"
)

const defaultResponse = "Task acknowledged. Working on it."

// Turn is one scripted model turn: a content string (which may contain
// <think> tags, routed through the same tagmachine a real provider uses)
// and/or a batch of tool calls to emit as the turn's terminal event. A nil
// Calls means the turn never mentions tool calls; a non-nil Calls (even an
// empty slice) scripts an explicit tool_calls event with that batch.
type Turn struct {
	Content string
	Calls   []provider.ToolCall
}

// Provider cycles through a fixed sequence of scripted Turns, wrapping
// around to the first one once the sequence is exhausted. With no
// scripted turns it always returns defaultResponse.
type Provider struct {
	turns   []Turn
	idx     int
	invoked bool
}

// New creates a Provider that streams turns in order.
func New(turns ...Turn) *Provider {
	return &Provider{turns: turns}
}

func (m *Provider) Name() string { return "mock" }

// Invoked reports whether Stream has ever been called. Callers that must
// assert a provider was never reached (an invalid request rejected before
// any turn begins) check this instead of a call counter.
func (m *Provider) Invoked() bool { return m.invoked }

func (m *Provider) next() Turn {
	if len(m.turns) == 0 {
		return Turn{Content: defaultResponse}
	}
	t := m.turns[m.idx%len(m.turns)]
	m.idx++
	return t
}

// Stream emits the next scripted turn's content (tag-split into
// thinking/text_delta events) followed by a tool_calls event if the turn's
// Calls is non-nil, even when empty. ctx cancellation is honored between
// events.
func (m *Provider) Stream(ctx context.Context, _ provider.Request) (<-chan provider.ProviderEvent, <-chan error) {
	m.invoked = true
	events := make(chan provider.ProviderEvent)
	errc := make(chan error, 1)
	turn := m.next()

	go func() {
		defer close(events)
		defer close(errc)

		tm := tagmachine.New()
		send := func(kind provider.EventKind, content string, calls []provider.ToolCall) bool {
			select {
			case events <- provider.ProviderEvent{Kind: kind, Content: content, Calls: calls}:
				return true
			case <-ctx.Done():
				errc <- ctx.Err()
				return false
			}
		}

		for _, ev := range tm.Feed(turn.Content) {
			kind := provider.EventTextDelta
			if ev.Thinking {
				kind = provider.EventThinking
			}
			if !send(kind, ev.Content, nil) {
				return
			}
		}
		for _, ev := range tm.Close() {
			kind := provider.EventTextDelta
			if ev.Thinking {
				kind = provider.EventThinking
			}
			if !send(kind, ev.Content, nil) {
				return
			}
		}
		// turn.Calls == nil means the turn never mentions tool calls at all;
		// a non-nil (possibly empty) slice means the provider emitted a
		// tool_calls event, batch size included — the two are distinct
		// wire states and callers must be able to script either one.
		if turn.Calls != nil {
			send(provider.EventToolCalls, "", turn.Calls)
		}
	}()

	return events, errc
}
