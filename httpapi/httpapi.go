// Package httpapi exposes the loop orchestrator over HTTP: conversation
// CRUD backed by the store, and a chat endpoint that streams a run's
// events back to the caller as Server-Sent Events.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loomhq/agentrun/agent"
	"github.com/loomhq/agentrun/provider"
	"github.com/loomhq/agentrun/sse"
	"github.com/loomhq/agentrun/store"
)

// Handlers bundles the dependencies the HTTP surface needs to run and
// persist agent loops.
type Handlers struct {
	Store    *store.SQLiteStore
	Provider provider.Provider
	Tools    agent.ToolRegistry
	Loop     agent.Config
	SSE      *sse.Adapter
	Logger   *slog.Logger
	Version  string
}

// RegisterRoutes registers all API routes on mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/version", h.version)

	mux.HandleFunc("POST /api/conversations", h.createConversation)
	mux.HandleFunc("GET /api/conversations/{id}", h.getConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.deleteConversation)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.postMessage)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.Version})
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
}

type createConversationRequest struct {
	Title        string `json:"title"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

func (h *Handlers) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	c := &store.Conversation{Title: req.Title, Model: req.Model, SystemPrompt: req.SystemPrompt}
	if err := h.Store.CreateConversation(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) getConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, messages, err := h.Store.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": c, "messages": messages})
}

func (h *Handlers) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Store.DeleteConversation(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// postMessage appends the caller's message to the conversation, runs the
// loop orchestrator, and streams the resulting events back as SSE. It
// persists the assistant's final answer and each tool exchange as the
// corresponding event arrives, before relaying it to the client.
func (h *Handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	conv, stored, err := h.Store.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	userMsg := &store.StoredMessage{ConversationID: id, Role: provider.RoleUser, Content: req.Content}
	if err := h.Store.SaveMessage(r.Context(), userMsg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	history := append(store.AsProviderMessages(stored), provider.Message{Role: provider.RoleUser, Content: req.Content})

	cfg := h.Loop
	if conv.Model != "" {
		cfg.Model = conv.Model
	}
	if conv.SystemPrompt != "" {
		cfg.SystemPrompt = conv.SystemPrompt
	}

	events := agent.Run(r.Context(), h.Provider, h.Tools, cfg, history)
	persisted := make(chan agent.LoopEvent)
	go func() {
		defer close(persisted)
		persisted <- agent.LoopEvent{Kind: agent.EventConversation, ConversationID: id}
		for ev := range events {
			h.persist(r.Context(), id, ev)
			persisted <- ev
		}
	}()

	h.SSE.Serve(w, r, persisted)
	// Serve returns early when the client goes away; keep draining so the
	// relay goroutine and Run can observe cancellation and finish.
	for range persisted {
	}
}

// persist writes tool-call/tool-result and final-answer events to the
// store as they occur, so a conversation resumes with full history even
// if the client disconnects mid-stream.
func (h *Handlers) persist(ctx context.Context, conversationID string, ev agent.LoopEvent) {
	switch ev.Kind {
	case agent.EventText:
		m := &store.StoredMessage{ConversationID: conversationID, Role: provider.RoleAssistant, Content: ev.Content}
		if err := h.Store.SaveMessage(ctx, m); err != nil {
			h.logError("persist assistant message", err)
		}
	case agent.EventToolCall:
		m := &store.StoredMessage{ConversationID: conversationID, Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{ev.Call}}
		if err := h.Store.SaveMessage(ctx, m); err != nil {
			h.logError("persist assistant tool call", err)
		}
	case agent.EventToolResult:
		m := &store.StoredMessage{ConversationID: conversationID, Role: provider.RoleTool, Content: ev.Result, ToolCallID: ev.Call.ID}
		if err := h.Store.SaveMessage(ctx, m); err != nil {
			h.logError("persist tool result", err)
		}
	}
}

func (h *Handlers) logError(msg string, err error) {
	if h.Logger == nil || err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	h.Logger.Error(msg, slog.Any("err", err))
}
