package mock

import (
	"context"
	"testing"

	"github.com/loomhq/agentrun/provider"
)

func TestProvider_Name(t *testing.T) {
	m := New()
	if got := m.Name(); got != "mock" {
		t.Errorf("Name() = %q, want %q", got, "mock")
	}
}

func TestProvider_DefaultResponse(t *testing.T) {
	m := New()
	events, errc := m.Stream(context.Background(), provider.Request{})

	var text string
	for ev := range events {
		if ev.Kind != provider.EventTextDelta {
			t.Fatalf("unexpected event kind: %v", ev.Kind)
		}
		text += ev.Content
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != defaultResponse {
		t.Errorf("text = %q, want %q", text, defaultResponse)
	}
}

func TestProvider_CyclesTurns(t *testing.T) {
	m := New(Turn{Content: "first"}, Turn{Content: "second"}, Turn{Content: "third"})

	want := []string{"first", "second", "third", "first"}
	for i, w := range want {
		events, errc := m.Stream(context.Background(), provider.Request{})
		var text string
		for ev := range events {
			text += ev.Content
		}
		if err := <-errc; err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if text != w {
			t.Errorf("call %d = %q, want %q", i, text, w)
		}
	}
}

func TestProvider_ThinkingIsSplitFromText(t *testing.T) {
	m := New(Turn{Content: "<think>plan</think>answer"})
	events, errc := m.Stream(context.Background(), provider.Request{})

	var thinking, text string
	for ev := range events {
		switch ev.Kind {
		case provider.EventThinking:
			thinking += ev.Content
		case provider.EventTextDelta:
			text += ev.Content
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thinking != "plan" || text != "answer" {
		t.Errorf("thinking=%q text=%q, want plan/answer", thinking, text)
	}
}

func TestProvider_EmitsScriptedToolCalls(t *testing.T) {
	calls := []provider.ToolCall{{ID: "call-1", Name: "shell", Arguments: `{"cmd":"ls"}`}}
	m := New(Turn{Calls: calls})
	events, errc := m.Stream(context.Background(), provider.Request{})

	var got []provider.ToolCall
	for ev := range events {
		if ev.Kind == provider.EventToolCalls {
			got = ev.Calls
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "shell" {
		t.Fatalf("got %+v", got)
	}
}

func TestProvider_ExplicitEmptyToolCallsBatchStillEmitsTheEvent(t *testing.T) {
	m := New(Turn{Calls: []provider.ToolCall{}})
	events, errc := m.Stream(context.Background(), provider.Request{})

	var sawToolCalls bool
	for ev := range events {
		if ev.Kind == provider.EventToolCalls {
			sawToolCalls = true
			if len(ev.Calls) != 0 {
				t.Fatalf("got %+v, want an empty batch", ev.Calls)
			}
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawToolCalls {
		t.Fatal("expected a tool_calls event carrying an explicit empty batch")
	}
}

func TestProvider_Invoked(t *testing.T) {
	m := New()
	if m.Invoked() {
		t.Fatal("Invoked() = true before Stream was ever called")
	}
	events, errc := m.Stream(context.Background(), provider.Request{})
	for range events {
	}
	<-errc
	if !m.Invoked() {
		t.Fatal("Invoked() = false after Stream was called")
	}
}
