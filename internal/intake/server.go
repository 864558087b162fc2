// Package intake is the HTTP surface for submitting and inspecting tasks:
// a JSON API behind a shared secret, a live event stream, and a
// phone-sized submission form.
package intake

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dohr-michael/foundry/internal/budget"
	"github.com/dohr-michael/foundry/internal/config"
	"github.com/dohr-michael/foundry/internal/events"
	"github.com/dohr-michael/foundry/internal/tasks"
)

// Server is the task intake HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *hub
	bus        *events.Bus
	store      tasks.Store
	gate       *budget.Gate
	secret     string
}

// NewServer wires the intake routes. The bus drives the event surfaces and
// must be non-nil. An empty secret disables auth, which only makes sense
// on a loopback bind.
func NewServer(cfg config.IntakeConfig, store tasks.Store, gate *budget.Gate, bus *events.Bus) *Server {
	s := &Server{
		hub:    newHub(bus),
		bus:    bus,
		store:  store,
		gate:   gate,
		secret: cfg.Secret,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors)

	r.Get("/", s.handleForm)
	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/tasks", s.handleCreateTask)
		r.Get("/api/tasks", s.handleListTasks)
		r.Get("/api/tasks/{id}", s.handleGetTask)
		r.Get("/api/stats", s.handleStats)
		r.Get("/api/events", s.handleEvents)
		r.Get("/api/events/ws", s.hub.serveWS)
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}
	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("intake listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server and drops live event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// cors mirrors the permissive headers the form and phone clients expect.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(formHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Context     string `json:"context"`
	Priority    string `json:"priority"`
	TrustLevel  string `json:"trust_level"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}

	t := &tasks.Task{
		Title:       title,
		Description: req.Description,
		Context:     req.Context,
		Priority:    tasks.TaskPriority(req.Priority),
		TrustLevel:  tasks.TrustLevel(req.TrustLevel),
	}
	if err := s.store.Enqueue(r.Context(), t); err != nil {
		if errors.Is(err, tasks.ErrInvalidSpec) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		slog.Error("enqueue task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not queue task"})
		return
	}

	slog.Info("task queued via api", "task_id", t.ID, "title", t.Title, "priority", t.Priority)
	s.bus.Publish(events.NewTypedEventWithTask(events.SourceIntake, events.TaskQueuedPayload{
		TaskID:   t.ID,
		Title:    t.Title,
		Priority: string(t.Priority),
		Source:   "api",
	}, t.ID))

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":     t.ID,
		"title":  t.Title,
		"status": string(t.Status),
	})
}

// taskSummary is the trimmed listing shape: enough for a phone screen.
type taskSummary struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Status    tasks.TaskStatus   `json:"status"`
	Priority  tasks.TaskPriority `json:"priority"`
	CreatedAt time.Time          `json:"created_at"`
	PRURL     string             `json:"pr_url,omitempty"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := tasks.ListFilter{Limit: queryInt(r, "limit", 20)}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = tasks.TaskStatus(status)
	}
	list, err := s.store.List(r.Context(), filter)
	if err != nil {
		slog.Error("list tasks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not list tasks"})
		return
	}

	out := make([]taskSummary, len(list))
	for i, t := range list {
		out[i] = taskSummary{
			ID:        t.ID,
			Title:     t.Title,
			Status:    t.Status,
			Priority:  t.Priority,
			CreatedAt: t.CreatedAt,
			PRURL:     t.PRURL,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task id"})
		return
	}

	t, err := s.store.Get(r.Context(), id)
	if errors.Is(err, tasks.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		slog.Error("get task", "task_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load task"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// statsResponse adds spend figures to the day's queue counters.
type statsResponse struct {
	tasks.DayStats
	SpentCents  int `json:"spent_cents"`
	BudgetCents int `json:"budget_cents"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.DailyStats(r.Context())
	if err != nil {
		slog.Error("daily stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not read stats"})
		return
	}
	spent, err := s.store.DailyCost(r.Context())
	if err != nil {
		slog.Error("daily cost", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not read stats"})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		DayStats:    stats,
		SpentCents:  spent,
		BudgetCents: s.gate.Ceiling(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	history := s.bus.Recent(queryInt(r, "limit", 50))

	type eventJSON struct {
		ID        string             `json:"id"`
		TaskID    string             `json:"task_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	out := make([]eventJSON, len(history))
	for i, e := range history {
		out[i] = eventJSON{
			ID:        e.ID,
			TaskID:    e.TaskID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
