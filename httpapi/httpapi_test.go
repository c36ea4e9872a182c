package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/loomhq/agentrun/agent"
	"github.com/loomhq/agentrun/httpapi"
	"github.com/loomhq/agentrun/provider"
	"github.com/loomhq/agentrun/provider/mock"
	"github.com/loomhq/agentrun/sse"
	"github.com/loomhq/agentrun/store"
)

type stubRegistry struct{}

func (stubRegistry) List() []agent.ToolDef { return nil }
func (stubRegistry) Execute(context.Context, string, string) (string, error) {
	return "", nil
}

func newTestHandlers(t *testing.T, p provider.Provider) *httpapi.Handlers {
	t.Helper()
	f, err := os.CreateTemp("", "agentrun-httpapi-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	s, err := store.Open(f.Name())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return &httpapi.Handlers{
		Store:    s,
		Provider: p,
		Tools:    stubRegistry{},
		Loop:     agent.Config{MaxIterations: 4},
		SSE:      sse.New(nil),
		Version:  "test",
	}
}

func newMux(h *httpapi.Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func TestStatus_ReturnsVersionAndOK(t *testing.T) {
	mux := newMux(newTestHandlers(t, mock.New()))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["version"] != "test" || body["status"] != "ok" {
		t.Errorf("body = %+v", body)
	}
}

func TestCreateAndGetConversation(t *testing.T) {
	mux := newMux(newTestHandlers(t, mock.New()))

	createReq := httptest.NewRequest(http.MethodPost, "/api/conversations",
		strings.NewReader(`{"title":"demo","model":"llama3"}`))
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body=%s", createRec.Code, createRec.Body.String())
	}

	var created store.Conversation
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected an id to be assigned")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/conversations/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}
}

func TestGetConversation_UnknownIDIsNotFound(t *testing.T) {
	mux := newMux(newTestHandlers(t, mock.New()))

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPostMessage_StreamsSSEAndPersistsTurn(t *testing.T) {
	h := newTestHandlers(t, mock.New(mock.Turn{Content: "hi there"}))
	mux := newMux(h)

	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(`{}`)))
	var conv store.Conversation
	if err := json.Unmarshal(createRec.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decode: %v", err)
	}

	msgReq := httptest.NewRequest(http.MethodPost, "/api/conversations/"+conv.ID+"/messages",
		strings.NewReader(`{"content":"hello"}`))
	msgRec := httptest.NewRecorder()
	mux.ServeHTTP(msgRec, msgReq)

	body := msgRec.Body.String()
	frames := strings.Split(strings.TrimRight(body, "\n"), "\n\n")
	if len(frames) == 0 || !strings.Contains(frames[0], `"type":"conversation"`) || !strings.Contains(frames[0], `"id":"`+conv.ID+`"`) {
		t.Fatalf("expected the first frame to be conversation{id}, got %q", body)
	}
	if !strings.Contains(body, `"type":"text"`) {
		t.Errorf("expected a text event frame in SSE body, got %q", body)
	}
	if !strings.Contains(body, `"type":"done"`) {
		t.Errorf("expected a done event frame in SSE body, got %q", body)
	}

	_, messages, err := h.Store.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d persisted messages, want 2 (user + assistant)", len(messages))
	}
	if messages[0].Role != provider.RoleUser || messages[1].Role != provider.RoleAssistant {
		t.Errorf("messages = %+v", messages)
	}
}

func TestPostMessage_EmptyContentIsBadRequest(t *testing.T) {
	h := newTestHandlers(t, mock.New())
	mux := newMux(h)

	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(`{}`)))
	var conv store.Conversation
	if err := json.Unmarshal(createRec.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/"+conv.ID+"/messages", strings.NewReader(`{"content":"  "}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
