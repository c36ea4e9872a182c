// Package ollamaprovider implements provider.Provider against the
// reference local-model backend protocol: a single POST that streams back
// NDJSON chat turns.
package ollamaprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/loomhq/agentrun/provider"
	"github.com/loomhq/agentrun/provider/frame"
	"github.com/loomhq/agentrun/provider/tagmachine"
)

const (
	defaultBaseURL = "http://localhost:11434"
	readBufferSize = 4096
)

// Config holds the settings needed to reach a backend.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Provider streams chat turns from the reference backend.
type Provider struct {
	config Config
}

// New returns a Provider, filling in defaults for an unset BaseURL or
// HTTPClient.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Provider{config: cfg}
}

func (p *Provider) Name() string { return "ollama" }

// wire shapes for the reference protocol.

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string      `json:"id,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolFunc `json:"function"`
}

type wireToolFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireFrame struct {
	Message wireRespMessage `json:"message"`
	Done    bool            `json:"done"`
}

type wireRespMessage struct {
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	ToolCalls []wireRespToolCall `json:"tool_calls,omitempty"`
}

type wireRespToolCall struct {
	ID       string          `json:"id,omitempty"`
	Function wireRespFunction `json:"function"`
}

type wireRespFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Stream submits req and streams back the turn it produces. See
// provider.Provider for the events/errc consumption contract.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (<-chan provider.ProviderEvent, <-chan error) {
	events := make(chan provider.ProviderEvent)
	errc := make(chan error, 1)

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		close(events)
		errc <- fmt.Errorf("ollama: marshal request: %w", err)
		close(errc)
		return events, errc
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		close(events)
		errc <- fmt.Errorf("ollama: build request: %w", err)
		close(errc)
		return events, errc
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.config.HTTPClient.Do(httpReq)
	if err != nil {
		close(events)
		errc <- &provider.TransportError{Err: err}
		close(errc)
		return events, errc
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		close(events)
		errc <- &provider.BackendError{StatusCode: resp.StatusCode, Body: string(respBody)}
		close(errc)
		return events, errc
	}

	go readTurn(resp.Body, events, errc)
	return events, errc
}

func buildRequest(req provider.Request) wireRequest {
	out := wireRequest{Model: req.Model, Stream: true}
	for _, msg := range req.Messages {
		wm := wireMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Arguments
			if args == "" {
				args = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Function: wireFunction{Name: tc.Name, Arguments: json.RawMessage(args)},
			})
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, wireTool{
			Type:     "function",
			Function: wireToolFunc{Name: t.Name, Description: t.Description, Parameters: schema},
		})
	}
	return out
}

// readTurn runs in its own goroutine. It owns body and both channels and
// always closes all three before returning, exactly once each.
func readTurn(body io.ReadCloser, events chan<- provider.ProviderEvent, errc chan<- error) {
	defer close(events)
	defer close(errc)
	defer func() { _ = body.Close() }()

	tm := tagmachine.New()
	fp := frame.NewParser()
	var calls []provider.ToolCall
	buf := make([]byte, readBufferSize)

	emitTagEvents := func(tagEvents []tagmachine.Event) {
		for _, ev := range tagEvents {
			kind := provider.EventTextDelta
			if ev.Thinking {
				kind = provider.EventThinking
			}
			events <- provider.ProviderEvent{Kind: kind, Content: ev.Content}
		}
	}

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			frames, ferr := fp.Feed(buf[:n])
			for _, raw := range frames {
				done, err := handleFrame(raw, tm, &calls, emitTagEvents, events)
				if err != nil {
					errc <- err
					return
				}
				if done {
					return
				}
			}
			if ferr != nil {
				errc <- &provider.ProtocolError{Frame: string(buf[:n]), Reason: ferr.Error()}
				return
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if raw, cerr := fp.Close(); cerr == nil && raw != nil {
					done, err := handleFrame(raw, tm, &calls, emitTagEvents, events)
					if err != nil {
						errc <- err
						return
					}
					if done {
						return
					}
				}
				emitTagEvents(tm.Close())
				if len(calls) > 0 {
					events <- provider.ProviderEvent{Kind: provider.EventToolCalls, Calls: calls}
				}
				return
			}
			errc <- &provider.TransportError{Err: readErr}
			return
		}
	}
}

// handleFrame decodes one NDJSON frame, routes its content delta through
// the tag machine, and accumulates any tool calls it carries. Once the
// backend's own "done" flag is set it flushes the tag machine, emits the
// accumulated tool-call batch (if any), and reports done=true so the
// caller stops reading.
func handleFrame(raw json.RawMessage, tm *tagmachine.Machine, calls *[]provider.ToolCall, emitTagEvents func([]tagmachine.Event), events chan<- provider.ProviderEvent) (bool, error) {
	var wf wireFrame
	if err := json.Unmarshal(raw, &wf); err != nil {
		return false, &provider.ProtocolError{Frame: string(raw), Reason: "unexpected frame shape"}
	}

	if wf.Message.Content != "" {
		emitTagEvents(tm.Feed(wf.Message.Content))
	}
	for _, tc := range wf.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		// Arguments may arrive as a JSON object or as a JSON string holding
		// the encoded object; either way the ToolCall carries the object text.
		args := string(tc.Function.Arguments)
		var encoded string
		if err := json.Unmarshal(tc.Function.Arguments, &encoded); err == nil {
			args = encoded
		}
		if args == "" {
			args = "{}"
		}
		*calls = append(*calls, provider.ToolCall{ID: id, Name: tc.Function.Name, Arguments: args})
	}

	if wf.Done {
		emitTagEvents(tm.Close())
		if len(*calls) > 0 {
			events <- provider.ProviderEvent{Kind: provider.EventToolCalls, Calls: *calls}
		}
		return true, nil
	}
	return false, nil
}
