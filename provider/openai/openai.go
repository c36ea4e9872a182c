// Package openai provides an AI provider backed by the OpenAI Chat
// Completions API, for pointing the loop orchestrator at a hosted model
// instead of the reference local backend.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loomhq/agentrun/provider"
	"github.com/loomhq/agentrun/provider/tagmachine"
)

const defaultBaseURL = "https://api.openai.com/v1/chat/completions"

// Provider is an OpenAI Chat Completions provider.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates an OpenAI provider authenticating with apiKey.
func New(apiKey string) *Provider {
	return &Provider{apiKey: apiKey, baseURL: defaultBaseURL, client: &http.Client{}}
}

// NewWithBaseURL creates an OpenAI provider pointed at a non-default
// endpoint, for testing or for OpenAI-compatible third-party backends.
func NewWithBaseURL(apiKey, baseURL string, client *http.Client) *Provider {
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (p *Provider) Name() string { return "openai" }

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireFunctionDef `json:"function"`
}

type wireToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireRequest struct {
	Model    string         `json:"model"`
	Messages []wireMessage  `json:"messages"`
	Tools    []wireTool     `json:"tools,omitempty"`
	Stream   bool           `json:"stream,omitempty"`
}

type wireChoice struct {
	Delta        wireMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type wireChunk struct {
	Choices []wireChoice `json:"choices"`
}

func buildRequest(req provider.Request) wireRequest {
	out := wireRequest{Model: req.Model, Stream: true}
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args := tc.Arguments
			if args == "" {
				args = "{}"
			}
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = args
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, wireTool{
			Type:     "function",
			Function: wireFunctionDef{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	return out
}

// Stream submits req and streams back the turn it produces. See
// provider.Provider for the events/errc consumption contract.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (<-chan provider.ProviderEvent, <-chan error) {
	events := make(chan provider.ProviderEvent)
	errc := make(chan error, 1)

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		close(events)
		errc <- fmt.Errorf("openai: marshal request: %w", err)
		close(errc)
		return events, errc
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		close(events)
		errc <- fmt.Errorf("openai: build request: %w", err)
		close(errc)
		return events, errc
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		close(events)
		errc <- &provider.TransportError{Err: err}
		close(errc)
		return events, errc
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		close(events)
		errc <- &provider.BackendError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
		close(errc)
		return events, errc
	}

	go readSSE(httpResp.Body, events, errc)
	return events, errc
}

// accumulator collects a streaming tool call's argument deltas by index;
// OpenAI streams each tool call's name and arguments across many chunks
// before finishing the choice with finish_reason=tool_calls.
type accumulator struct {
	order []int
	ids   map[int]string
	names map[int]string
	args  map[int]*strings.Builder
}

func newAccumulator() *accumulator {
	return &accumulator{ids: map[int]string{}, names: map[int]string{}, args: map[int]*strings.Builder{}}
}

func (a *accumulator) add(idx int, id, name, argsDelta string) {
	if _, ok := a.args[idx]; !ok {
		a.order = append(a.order, idx)
		a.args[idx] = &strings.Builder{}
	}
	if id != "" {
		a.ids[idx] = id
	}
	if name != "" {
		a.names[idx] = name
	}
	a.args[idx].WriteString(argsDelta)
}

func (a *accumulator) drain() []provider.ToolCall {
	calls := make([]provider.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		args := a.args[idx].String()
		if args == "" {
			args = "{}"
		}
		calls = append(calls, provider.ToolCall{ID: a.ids[idx], Name: a.names[idx], Arguments: args})
	}
	return calls
}

func readSSE(body io.ReadCloser, events chan<- provider.ProviderEvent, errc chan<- error) {
	defer close(events)
	defer close(errc)
	defer func() { _ = body.Close() }()

	tm := tagmachine.New()
	acc := newAccumulator()
	scanner := bufio.NewScanner(body)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			flushTagEvents(tm.Close(), events)
			if calls := acc.drain(); len(calls) > 0 {
				events <- provider.ProviderEvent{Kind: provider.EventToolCalls, Calls: calls}
			}
			return
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			errc <- &provider.ProtocolError{Frame: data, Reason: "unexpected SSE chunk shape"}
			return
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				flushTagEvents(tm.Feed(choice.Delta.Content), events)
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		errc <- &provider.TransportError{Err: err}
	}
}

func flushTagEvents(tagEvents []tagmachine.Event, events chan<- provider.ProviderEvent) {
	for _, ev := range tagEvents {
		kind := provider.EventTextDelta
		if ev.Thinking {
			kind = provider.EventThinking
		}
		events <- provider.ProviderEvent{Kind: kind, Content: ev.Content}
	}
}
