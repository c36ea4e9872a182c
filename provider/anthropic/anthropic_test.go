package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomhq/agentrun/provider"
)

func TestStream_SendsAPIKeyHeaderAndMapsSystemMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("X-API-Key = %q, want %q", got, "test-key")
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version = %q, want %q", got, anthropicVersion)
		}
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "be terse" {
			t.Errorf("System = %q, want %q", req.System, "be terse")
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("Messages = %+v", req.Messages)
		}

		flushSSE(w, "event: content_block_start", `data: {"index":0,"content_block":{"type":"text"}}`)
		flushSSE(w, "event: content_block_delta", `data: {"index":0,"delta":{"type":"text_delta","text":"hi"}}`)
		flushSSE(w, "event: message_stop", `data: {}`)
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL, server.Client())
	events, errc := p.Stream(context.Background(), provider.Request{
		Model: "claude-3-5-sonnet",
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "be terse"},
			{Role: provider.RoleUser, Content: "hello"},
		},
	})

	var text string
	for ev := range events {
		if ev.Kind == provider.EventTextDelta {
			text += ev.Content
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hi" {
		t.Errorf("text = %q, want %q", text, "hi")
	}
}

func TestStream_ToolRoleMapsToUserMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("expected tool message to map to role=user, got %+v", req.Messages)
		}
		flushSSE(w, "event: message_stop", `data: {}`)
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL, server.Client())
	events, _ := p.Stream(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleTool, Content: "file1\nfile2", ToolCallID: "call-1"}},
	})
	for range events {
	}
}

func TestStream_AccumulatesToolUseArgumentsByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flushSSE(w, "event: content_block_start", `data: {"index":0,"content_block":{"type":"tool_use","id":"call-1","name":"shell"}}`)
		flushSSE(w, "event: content_block_delta", `data: {"index":0,"delta":{"type":"input_json_delta","partial_json":"{\"cmd\":"}}`)
		flushSSE(w, "event: content_block_delta", `data: {"index":0,"delta":{"type":"input_json_delta","partial_json":"\"ls\"}"}}`)
		flushSSE(w, "event: message_stop", `data: {}`)
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL, server.Client())
	events, errc := p.Stream(context.Background(), provider.Request{Model: "claude-3-5-sonnet"})

	var calls []provider.ToolCall
	for ev := range events {
		if ev.Kind == provider.EventToolCalls {
			calls = ev.Calls
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0].ID != "call-1" || calls[0].Name != "shell" {
		t.Fatalf("got %+v", calls)
	}
	if calls[0].Arguments != `{"cmd":"ls"}` {
		t.Errorf("arguments = %q, want %q", calls[0].Arguments, `{"cmd":"ls"}`)
	}
}

func TestStream_ErrorEventSurfacesAsBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flushSSE(w, "event: error", `data: {"error":{"type":"overloaded_error","message":"server busy"}}`)
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL, server.Client())
	events, errc := p.Stream(context.Background(), provider.Request{})

	for range events {
	}
	err := <-errc
	if _, ok := err.(*provider.BackendError); !ok {
		t.Fatalf("got %T (%v), want *provider.BackendError", err, err)
	}
}

func TestStream_NonOKStatusIsBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL, server.Client())
	events, errc := p.Stream(context.Background(), provider.Request{})

	for range events {
		t.Fatal("expected no events")
	}
	err := <-errc
	be, ok := err.(*provider.BackendError)
	if !ok {
		t.Fatalf("got %T (%v), want *provider.BackendError", err, err)
	}
	if be.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want %d", be.StatusCode, http.StatusTooManyRequests)
	}
}

func flushSSE(w http.ResponseWriter, lines ...string) {
	for _, line := range lines {
		_, _ = w.Write([]byte(line + "\n"))
	}
	_, _ = w.Write([]byte("\n"))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
