package tasks

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a task ID does not exist.
var ErrNotFound = errors.New("task not found")

// ErrInvalidSpec marks a task rejected at enqueue time.
var ErrInvalidSpec = errors.New("invalid task spec")

// EventKind classifies ledger entries.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventApproved  EventKind = "approved"
	EventRejected  EventKind = "rejected"
	EventFailed    EventKind = "failed"
)

// EventRecord is one immutable row in the task event ledger.
// Rows are only ever appended; cost accounting reads them back by day.
type EventRecord struct {
	ID              int64     `json:"id"`
	TaskID          string    `json:"task_id"`
	Agent           string    `json:"agent"` // planner|coder|reviewer|tester|deployer|pipeline
	Kind            EventKind `json:"kind"`
	InputSummary    string    `json:"input_summary,omitempty"`
	OutputSummary   string    `json:"output_summary,omitempty"`
	TokensUsed      int       `json:"tokens_used"`
	CostCents       int       `json:"cost_cents"`
	DurationSeconds int       `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// DayStats summarizes today's queue activity.
type DayStats struct {
	Done         int `json:"done"`
	Failed       int `json:"failed"`
	Queued       int `json:"queued"`
	InProgress   int `json:"in_progress"`
	TotalSeconds int `json:"total_seconds"`
}

// ListFilter defines criteria for filtering task lists.
type ListFilter struct {
	Status TaskStatus `json:"status,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// Store defines the persistence interface for tasks and their event ledger.
type Store interface {
	// Enqueue inserts a new task in queued state, filling ID and CreatedAt.
	Enqueue(ctx context.Context, t *Task) error

	// ClaimNext atomically picks the highest-priority oldest queued task and
	// moves it to planning. Returns (nil, nil) when the queue is empty.
	// Concurrent callers never receive the same task.
	ClaimNext(ctx context.Context) (*Task, error)

	// ClaimByID atomically claims one specific queued task.
	// Returns (nil, nil) if the task is not currently queued.
	ClaimByID(ctx context.Context, id string) (*Task, error)

	// Get returns a task by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns tasks matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Task, error)

	// Update persists all mutable fields of the task.
	Update(ctx context.Context, t *Task) error

	// Requeue resets a task to queued so the pipeline picks it up again.
	Requeue(ctx context.Context, id string) error

	// LogEvent appends a row to the event ledger.
	LogEvent(ctx context.Context, rec EventRecord) error

	// Events returns ledger rows, newest first. Empty taskID means all tasks.
	Events(ctx context.Context, taskID string, limit int) ([]EventRecord, error)

	// DailyCost returns total cost in cents of ledger rows from the current UTC day.
	DailyCost(ctx context.Context) (int, error)

	// DailyStats returns queue counters for tasks created in the current UTC day.
	DailyStats(ctx context.Context) (DayStats, error)
}
