package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomhq/agentrun/provider"
)

func TestStream_SendsAuthHeaderAndRequestBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-key")
		}
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" || len(req.Messages) != 1 {
			t.Errorf("request = %+v", req)
		}
		flushSSE(w, `data: {"choices":[{"delta":{"content":"hi"}}]}`)
		flushSSE(w, "data: [DONE]")
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL, server.Client())
	events, errc := p.Stream(context.Background(), provider.Request{
		Model:    "gpt-4o",
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hello"}},
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

func TestStream_AccumulatesToolCallArgumentDeltasByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flushSSE(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-1","function":{"name":"shell","arguments":"{\"c"}}]}}]}`)
		flushSSE(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"md\":\"ls\"}"}}]}}]}`)
		flushSSE(w, "data: [DONE]")
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL, server.Client())
	events, errc := p.Stream(context.Background(), provider.Request{Model: "gpt-4o"})

	var calls []provider.ToolCall
	for ev := range events {
		if ev.Kind == provider.EventToolCalls {
			calls = ev.Calls
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].ID != "call-1" || calls[0].Name != "shell" {
		t.Fatalf("got %+v", calls[0])
	}
	if calls[0].Arguments != `{"cmd":"ls"}` {
		t.Errorf("arguments = %q, want %q", calls[0].Arguments, `{"cmd":"ls"}`)
	}
}

func TestStream_InterleavedToolCallIndicesDontCollide(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flushSSE(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-0","function":{"name":"a","arguments":"{}"}}]}}]}`)
		flushSSE(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call-1","function":{"name":"b","arguments":"{}"}}]}}]}`)
		flushSSE(w, "data: [DONE]")
	}))
	defer server.Close()

	p := NewWithBaseURL("test-key", server.URL, server.Client())
	events, errc := p.Stream(context.Background(), provider.Request{Model: "gpt-4o"})

	var calls []provider.ToolCall
	for ev := range events {
		if ev.Kind == provider.EventToolCalls {
			calls = ev.Calls
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 2 || calls[0].Name != "a" || calls[1].Name != "b" {
		t.Fatalf("got %+v", calls)
	}
}

func TestStream_NonOKStatusIsBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid api key"))
	}))
	defer server.Close()

	p := NewWithBaseURL("bad-key", server.URL, server.Client())
	events, errc := p.Stream(context.Background(), provider.Request{Model: "gpt-4o"})

	for range events {
		t.Fatal("expected no events")
	}
	err := <-errc
	if _, ok := err.(*provider.BackendError); !ok {
		t.Fatalf("got %T (%v), want *provider.BackendError", err, err)
	}
}

func flushSSE(w http.ResponseWriter, line string) {
	_, _ = w.Write([]byte(line + "\n\n"))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
