// Package mcp exposes the task queue to MCP clients over stdio, so an
// agent session can hand work to the pipeline and check on it later.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/foundry/internal/budget"
	"github.com/dohr-michael/foundry/internal/tasks"
)

// Server bridges MCP tool calls to the task store.
type Server struct {
	mcp   *mcpsdk.Server
	store tasks.Store
	gate  *budget.Gate
}

// NewServer creates an MCP server exposing submit_task, get_task and
// queue_stats. The gate supplies the budget ceiling reported by queue_stats.
func NewServer(store tasks.Store, gate *budget.Gate) *Server {
	s := &Server{
		mcp: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "foundry",
			Version: "0.1.0",
		}, nil),
		store: store,
		gate:  gate,
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout until ctx is cancelled or the peer
// disconnects. Logging must go to stderr while this runs.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "submit_task",
		Description: "Queue a coding task for the pipeline. Returns the task id; progress can be checked with get_task.",
	}, s.handleSubmitTask)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_task",
		Description: "Fetch a task by id, including its status, plan, branch and change request URL.",
	}, s.handleGetTask)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "queue_stats",
		Description: "Report today's queue counts and spend against the daily budget.",
	}, s.handleQueueStats)

	slog.Debug("mcp tools registered", "tools", 3)
}

// SubmitTaskParams defines parameters for submit_task.
type SubmitTaskParams struct {
	Title       string `json:"title" jsonschema:"Short imperative summary of the work"`
	Description string `json:"description,omitempty" jsonschema:"Details the planner should know (optional)"`
	Context     string `json:"context,omitempty" jsonschema:"Extra context carried into every agent prompt (optional)"`
	Priority    string `json:"priority,omitempty" jsonschema:"One of urgent, high, medium, low (default medium)"`
	TrustLevel  string `json:"trust_level,omitempty" jsonschema:"One of full_auto, preview_only, plan_only; only full_auto merges passing changes (default full_auto)"`
}

// GetTaskParams defines parameters for get_task.
type GetTaskParams struct {
	ID string `json:"id" jsonschema:"Task id returned by submit_task"`
}

// QueueStatsParams defines parameters for queue_stats (none needed).
type QueueStatsParams struct{}

func (s *Server) handleSubmitTask(ctx context.Context, _ *mcpsdk.CallToolRequest, params *SubmitTaskParams) (*mcpsdk.CallToolResult, any, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return errorResult("title is required"), nil, nil
	}

	task := &tasks.Task{
		Title:       title,
		Description: params.Description,
		Context:     params.Context,
		Priority:    tasks.TaskPriority(params.Priority),
		TrustLevel:  tasks.TrustLevel(params.TrustLevel),
	}
	if err := s.store.Enqueue(ctx, task); err != nil {
		if errors.Is(err, tasks.ErrInvalidSpec) {
			return errorResult(err.Error()), nil, nil
		}
		return nil, nil, fmt.Errorf("queue task: %w", err)
	}

	slog.Info("task queued via mcp", "task_id", task.ID, "title", task.Title)
	return textResult(fmt.Sprintf("Task queued.\n\nID: %s\nPriority: %s\nTrust: %s", task.ID, task.Priority, task.TrustLevel)), nil, nil
}

func (s *Server) handleGetTask(ctx context.Context, _ *mcpsdk.CallToolRequest, params *GetTaskParams) (*mcpsdk.CallToolResult, any, error) {
	if _, err := uuid.Parse(params.ID); err != nil {
		return errorResult(fmt.Sprintf("invalid task id %q", params.ID)), nil, nil
	}

	task, err := s.store.Get(ctx, params.ID)
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			return errorResult(fmt.Sprintf("no task with id %s", params.ID)), nil, nil
		}
		return nil, nil, fmt.Errorf("load task: %w", err)
	}

	body, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode task: %w", err)
	}
	return textResult(string(body)), nil, nil
}

func (s *Server) handleQueueStats(ctx context.Context, _ *mcpsdk.CallToolRequest, _ *QueueStatsParams) (*mcpsdk.CallToolResult, any, error) {
	stats, err := s.store.DailyStats(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read stats: %w", err)
	}
	spent, err := s.store.DailyCost(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read spend: %w", err)
	}

	summary := struct {
		tasks.DayStats
		SpentCents  int `json:"spent_cents"`
		BudgetCents int `json:"budget_cents"`
	}{stats, spent, s.gate.Ceiling()}

	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode stats: %w", err)
	}
	return textResult(string(body)), nil, nil
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

// errorResult reports a tool-level failure to the client without failing
// the request itself.
func errorResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}
