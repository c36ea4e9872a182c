// Package agent implements the loop orchestrator: it drives a
// provider.Provider through repeated turns of reason, invoke tools,
// observe results, reason again, streaming every intermediate event to a
// caller until the model produces a final answer or the iteration bound
// is hit.
package agent

import (
	"context"
	"fmt"

	"github.com/loomhq/agentrun/provider"
)

// Run starts one loop invocation against history and returns a channel
// of LoopEvent in emission order. The channel is closed after exactly
// one EventDone, always preceded by an EventError if the loop ended
// abnormally. Run never aborts on a tool failure — it wraps the failure
// into the tool's result and keeps going. Cancelling ctx stops the loop
// at its next suspension point (before starting a provider turn or after
// a tool finishes executing) and surfaces ctx.Err() as an EventError;
// every event already produced is still delivered.
func Run(ctx context.Context, p provider.Provider, reg ToolRegistry, cfg Config, history []provider.Message) <-chan LoopEvent {
	out := make(chan LoopEvent)

	go func() {
		defer close(out)

		if cfg.MaxIterations <= 0 {
			out <- LoopEvent{Kind: EventError, Err: &ValidationError{Field: "maxIterations", Reason: "Invalid maxIterations"}}
			out <- LoopEvent{Kind: EventDone}
			return
		}

		if len(history) == 0 {
			out <- LoopEvent{Kind: EventError, Err: &ValidationError{Field: "history", Reason: "must contain at least one message"}}
			out <- LoopEvent{Kind: EventDone}
			return
		}

		messages := withSystemPrompt(history, cfg.SystemPrompt)
		tools := toolDefs(reg)

		for i := 0; i < cfg.MaxIterations; i++ {
			if err := ctx.Err(); err != nil {
				out <- LoopEvent{Kind: EventError, Err: err}
				out <- LoopEvent{Kind: EventDone}
				return
			}

			assistant, sawToolCalls, err := runTurn(ctx, p, out, provider.Request{Messages: messages, Tools: tools, Model: cfg.Model})
			if err != nil {
				out <- LoopEvent{Kind: EventError, Err: err}
				out <- LoopEvent{Kind: EventDone}
				return
			}

			if !sawToolCalls {
				if assistant.Content != "" {
					out <- LoopEvent{Kind: EventText, Content: assistant.Content}
				}
				out <- LoopEvent{Kind: EventDone}
				return
			}

			if len(assistant.ToolCalls) == 0 {
				out <- LoopEvent{Kind: EventError, Err: &provider.ProtocolError{Reason: "provider returned empty tool_calls"}}
				out <- LoopEvent{Kind: EventDone}
				return
			}

			messages = append(messages, assistant)

			for _, call := range assistant.ToolCalls {
				out <- LoopEvent{Kind: EventToolCall, Call: call}

				result, err := reg.Execute(ctx, call.Name, call.Arguments)
				if err != nil {
					result = fmt.Sprintf("Error: %v", err)
				}
				out <- LoopEvent{Kind: EventToolResult, Call: call, Result: result}

				messages = append(messages, provider.Message{
					Role:       provider.RoleTool,
					Content:    result,
					ToolCallID: call.ID,
				})

				if err := ctx.Err(); err != nil {
					out <- LoopEvent{Kind: EventError, Err: err}
					out <- LoopEvent{Kind: EventDone}
					return
				}
			}
		}

		out <- LoopEvent{Kind: EventError, Err: &IterationLimitError{MaxIterations: cfg.MaxIterations}}
		out <- LoopEvent{Kind: EventDone}
	}()

	return out
}

// runTurn drains one provider turn, relaying thinking/text_delta events as
// it goes, and returns the assistant message the turn produced along with
// whether the provider emitted a tool_calls event at all — an explicit
// empty batch is not the same as no batch, and the caller must be able to
// tell them apart.
func runTurn(ctx context.Context, p provider.Provider, out chan<- LoopEvent, req provider.Request) (msg provider.Message, sawToolCalls bool, err error) {
	events, errc := p.Stream(ctx, req)

	var content string
	var calls []provider.ToolCall
	for ev := range events {
		switch ev.Kind {
		case provider.EventThinking:
			out <- LoopEvent{Kind: EventThinking, Content: ev.Content}
		case provider.EventTextDelta:
			content += ev.Content
			out <- LoopEvent{Kind: EventTextDelta, Content: ev.Content}
		case provider.EventToolCalls:
			sawToolCalls = true
			calls = ev.Calls
		}
	}

	if err := <-errc; err != nil {
		return provider.Message{}, false, err
	}

	return provider.Message{Role: provider.RoleAssistant, Content: content, ToolCalls: calls}, sawToolCalls, nil
}

func withSystemPrompt(history []provider.Message, systemPrompt string) []provider.Message {
	if systemPrompt == "" {
		return history
	}
	if len(history) > 0 && history[0].Role == provider.RoleSystem {
		return history
	}
	out := make([]provider.Message, 0, len(history)+1)
	out = append(out, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	return append(out, history...)
}

func toolDefs(reg ToolRegistry) []provider.ToolDef {
	if reg == nil {
		return nil
	}
	defs := reg.List()
	out := make([]provider.ToolDef, len(defs))
	for i, d := range defs {
		out[i] = provider.ToolDef{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}
