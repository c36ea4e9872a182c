// Package anthropic provides an AI provider backed by the Anthropic
// Messages API, for pointing the loop orchestrator at a hosted model
// instead of the reference local backend.
package anthropic

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

const (
	defaultBaseURL   = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// Provider is an Anthropic Claude provider.
type Provider struct {
	apiKey    string
	baseURL   string
	maxTokens int
	client    *http.Client
}

// New creates an Anthropic provider authenticating with apiKey.
func New(apiKey string) *Provider {
	return &Provider{apiKey: apiKey, baseURL: defaultBaseURL, maxTokens: defaultMaxTokens, client: &http.Client{}}
}

// NewWithBaseURL creates an Anthropic provider pointed at a non-default
// endpoint, for testing.
func NewWithBaseURL(apiKey, baseURL string, client *http.Client) *Provider {
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{apiKey: apiKey, baseURL: baseURL, maxTokens: defaultMaxTokens, client: client}
}

func (p *Provider) Name() string { return "anthropic" }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

func buildRequest(req provider.Request, maxTokens int) wireRequest {
	out := wireRequest{Model: req.Model, MaxTokens: maxTokens, Stream: true}
	for _, m := range req.Messages {
		if m.Role == provider.RoleSystem {
			out.System = m.Content
			continue
		}
		// Anthropic has no dedicated tool-result role; a tool turn is a
		// user message carrying the tool's output.
		role := string(m.Role)
		if m.Role == provider.RoleTool {
			role = "user"
		}
		out.Messages = append(out.Messages, wireMessage{Role: role, Content: m.Content})
	}
	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, wireTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Accept", "text/event-stream")
}

// Stream submits req and streams back the turn it produces. See
// provider.Provider for the events/errc consumption contract.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (<-chan provider.ProviderEvent, <-chan error) {
	events := make(chan provider.ProviderEvent)
	errc := make(chan error, 1)

	body, err := json.Marshal(buildRequest(req, p.maxTokens))
	if err != nil {
		close(events)
		errc <- fmt.Errorf("anthropic: marshal request: %w", err)
		close(errc)
		return events, errc
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		close(events)
		errc <- fmt.Errorf("anthropic: build request: %w", err)
		close(errc)
		return events, errc
	}
	p.setHeaders(httpReq)

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

// sseEvent covers the handful of Anthropic event types the loop cares
// about: content block lifecycle and the error event.
type sseEvent struct {
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Index int `json:"index"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func readSSE(body io.ReadCloser, events chan<- provider.ProviderEvent, errc chan<- error) {
	defer close(events)
	defer close(errc)
	defer func() { _ = body.Close() }()

	tm := tagmachine.New()
	toolIDs := map[int]string{}
	toolNames := map[int]string{}
	toolArgs := map[int]*strings.Builder{}
	var order []int
	var eventType string

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			errc <- &provider.ProtocolError{Frame: data, Reason: "unexpected SSE event shape"}
			return
		}

		switch eventType {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				toolIDs[ev.Index] = ev.ContentBlock.ID
				toolNames[ev.Index] = ev.ContentBlock.Name
				toolArgs[ev.Index] = &strings.Builder{}
				order = append(order, ev.Index)
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				flushTagEvents(tm.Feed(ev.Delta.Text), events)
			case "input_json_delta":
				if b, ok := toolArgs[ev.Index]; ok {
					b.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "message_stop":
			flushTagEvents(tm.Close(), events)
			if calls := drainTools(order, toolIDs, toolNames, toolArgs); len(calls) > 0 {
				events <- provider.ProviderEvent{Kind: provider.EventToolCalls, Calls: calls}
			}
			return
		case "error":
			if ev.Error != nil {
				errc <- &provider.BackendError{Body: fmt.Sprintf("%s: %s", ev.Error.Type, ev.Error.Message)}
			} else {
				errc <- &provider.BackendError{Body: data}
			}
			return
		}
	}

	flushTagEvents(tm.Close(), events)
	if calls := drainTools(order, toolIDs, toolNames, toolArgs); len(calls) > 0 {
		events <- provider.ProviderEvent{Kind: provider.EventToolCalls, Calls: calls}
	}
	if err := scanner.Err(); err != nil {
		errc <- &provider.TransportError{Err: err}
	}
}

func drainTools(order []int, ids, names map[int]string, args map[int]*strings.Builder) []provider.ToolCall {
	calls := make([]provider.ToolCall, 0, len(order))
	for _, idx := range order {
		a := args[idx].String()
		if a == "" {
			a = "{}"
		}
		calls = append(calls, provider.ToolCall{ID: ids[idx], Name: names[idx], Arguments: a})
	}
	return calls
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
