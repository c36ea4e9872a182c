// Package sse adapts one agent loop invocation's event stream into the
// consumer-facing wire framing: one JSON object per "data: " line, blank
// line terminated, flushed after every event.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loomhq/agentrun/agent"
)

// wireEvent is the JSON shape written to the consumer for each
// agent.LoopEvent, discriminated by Type. Fields are omitted when not
// relevant to Type, mirroring agent.LoopEvent's own per-kind field usage.
type wireEvent struct {
	Type           string        `json:"type"`
	Content        string        `json:"content,omitempty"`
	Call           *wireToolCall `json:"call,omitempty"`
	Result         string        `json:"result,omitempty"`
	ConversationID string        `json:"id,omitempty"`
	Error          string        `json:"error,omitempty"`
}

type wireToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Adapter relays one loop invocation's events to a single http.ResponseWriter
// as they arrive, with no buffering beyond what the kernel socket holds.
type Adapter struct {
	logger *slog.Logger
}

// New returns an Adapter that logs write failures with logger.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Serve writes the SSE preamble, then relays every event from events to w
// until events is closed or r's context is cancelled — whichever comes
// first. It never returns an error: a write failure just ends the relay
// early, since the client is presumably already gone.
func (a *Adapter) Serve(w http.ResponseWriter, r *http.Request, events <-chan agent.LoopEvent) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !a.writeFrame(w, ev) {
				return
			}
			flusher.Flush()
		}
	}
}

func (a *Adapter) writeFrame(w http.ResponseWriter, ev agent.LoopEvent) bool {
	data, err := json.Marshal(toWire(ev))
	if err != nil {
		if a.logger != nil {
			a.logger.Error("sse marshal event", slog.Any("err", err), slog.String("kind", string(ev.Kind)))
		}
		return true
	}

	// A "data:" line must not itself contain a newline.
	for _, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return false
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return false
	}
	return true
}

func toWire(ev agent.LoopEvent) wireEvent {
	w := wireEvent{Type: string(ev.Kind), Content: ev.Content, Result: ev.Result, ConversationID: ev.ConversationID}
	if ev.Err != nil {
		w.Error = ev.Err.Error()
	}
	if ev.Call.ID != "" || ev.Call.Name != "" {
		w.Call = &wireToolCall{ID: ev.Call.ID, Name: ev.Call.Name, Arguments: ev.Call.Arguments}
	}
	return w
}
