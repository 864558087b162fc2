package intake

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/foundry/internal/budget"
	"github.com/dohr-michael/foundry/internal/config"
	"github.com/dohr-michael/foundry/internal/events"
	"github.com/dohr-michael/foundry/internal/tasks"
)

const testSecret = "hunter2"

func newTestServer(t *testing.T, secret string) (*Server, *tasks.SQLStore) {
	t.Helper()
	store, err := tasks.Open(filepath.Join(t.TempDir(), "foundry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	cfg := config.IntakeConfig{Host: "localhost", Port: 0, Secret: secret}
	srv := NewServer(cfg, store, budget.NewGate(store, 500), bus)
	t.Cleanup(srv.hub.Close)
	return srv, store
}

func do(srv *Server, method, path, token string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	w := do(srv, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestFormNeedsNoAuth(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	w := do(srv, http.MethodGet, "/", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<form id=\"taskForm\">") {
		t.Error("expected the submission form in the page")
	}
}

func TestAPIRejectsMissingOrWrongToken(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	for _, token := range []string{"", "wrong"} {
		w := do(srv, http.MethodGet, "/api/tasks", token, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, w.Code)
		}
	}
}

func TestAPIOpenWhenSecretUnset(t *testing.T) {
	srv, _ := newTestServer(t, "")

	if w := do(srv, http.MethodGet, "/api/tasks", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", w.Code)
	}
}

func TestPreflightAllowed(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	w := do(srv, http.MethodOptions, "/api/tasks", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected permissive CORS headers")
	}
}

func TestCreateTask(t *testing.T) {
	srv, store := newTestServer(t, testSecret)
	ch, cancel := srv.bus.Subscribe(4, events.EventTaskQueued)
	defer cancel()

	w := do(srv, http.MethodPost, "/api/tasks", testSecret,
		`{"title": "Add rate limiting", "description": "Throttle the API", "priority": "high"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] == "" || body["status"] != "queued" || body["title"] != "Add rate limiting" {
		t.Fatalf("unexpected response %v", body)
	}

	got, err := store.Get(context.Background(), body["id"])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Priority != tasks.PriorityHigh || got.TrustLevel != tasks.TrustFullAuto {
		t.Errorf("expected high/full_auto defaults, got %s/%s", got.Priority, got.TrustLevel)
	}

	select {
	case e := <-ch:
		payload, ok := events.ExtractPayload[events.TaskQueuedPayload](e)
		if !ok || payload.TaskID != body["id"] || payload.Source != "api" {
			t.Errorf("unexpected queued payload %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued event")
	}
}

func TestCreateTaskMissingTitle(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	w := do(srv, http.MethodPost, "/api/tasks", testSecret, `{"title": "   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "title is required") {
		t.Errorf("unexpected error body %s", w.Body.String())
	}
}

func TestCreateTaskInvalidPriority(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	w := do(srv, http.MethodPost, "/api/tasks", testSecret, `{"title": "x", "priority": "asap"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid task spec") {
		t.Errorf("unexpected error body %s", w.Body.String())
	}
}

func TestCreateTaskMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	if w := do(srv, http.MethodPost, "/api/tasks", testSecret, `{not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListTasksTrimsAndLimits(t *testing.T) {
	srv, store := newTestServer(t, testSecret)
	ctx := context.Background()
	base := time.Now().UTC()
	for i, title := range []string{"oldest", "middle", "newest"} {
		task := &tasks.Task{Title: title, Description: "long details", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.Enqueue(ctx, task); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	w := do(srv, http.MethodGet, "/api/tasks?limit=2", testSecret, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(list))
	}
	if list[0]["title"] != "newest" {
		t.Errorf("expected newest first, got %v", list[0]["title"])
	}
	if _, ok := list[0]["description"]; ok {
		t.Error("listing should not carry full descriptions")
	}
}

func TestGetTask(t *testing.T) {
	srv, store := newTestServer(t, testSecret)
	task := &tasks.Task{Title: "Inspect me", Description: "full detail"}
	if err := store.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := do(srv, http.MethodGet, "/api/tasks/"+task.ID, testSecret, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got tasks.Task
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != task.ID || got.Description != "full detail" {
		t.Errorf("unexpected task %+v", got)
	}
}

func TestGetTaskRejectsBadID(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	if w := do(srv, http.MethodGet, "/api/tasks/not-a-uuid", testSecret, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", w.Code)
	}
	if w := do(srv, http.MethodGet, "/api/tasks/3a2f9c8e-1111-4222-8333-444455556666", testSecret, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestStatsIncludeSpendAndBudget(t *testing.T) {
	srv, store := newTestServer(t, testSecret)
	ctx := context.Background()

	task := &tasks.Task{Title: "shipped"}
	if err := store.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}
	claimed.Status = tasks.StatusDone
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec := tasks.EventRecord{TaskID: task.ID, Agent: "coder", Kind: tasks.EventCompleted, CostCents: 42}
	if err := store.LogEvent(ctx, rec); err != nil {
		t.Fatalf("log event: %v", err)
	}

	w := do(srv, http.MethodGet, "/api/stats", testSecret, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats map[string]int
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats["done"] != 1 || stats["spent_cents"] != 42 || stats["budget_cents"] != 500 {
		t.Errorf("unexpected stats %v", stats)
	}
}

func TestEventsHistory(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)
	for i := 0; i < 5; i++ {
		srv.bus.Publish(events.NewTypedEvent(events.SourceDaemon, events.TaskClaimedPayload{TaskID: "t", Title: "x"}))
	}

	w := do(srv, http.MethodGet, "/api/events?limit=3", testSecret, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 3 {
		t.Fatalf("expected 3 events with limit=3, got %d", len(body))
	}
	if body[0]["type"] != "task.claimed" {
		t.Errorf("unexpected event type %v", body[0]["type"])
	}
}
