package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK LIFECYCLE EVENTS
// =============================================================================

type TaskQueuedPayload struct {
	TaskID   string `json:"task_id"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Source   string `json:"source,omitempty"` // "api", "inbox", "cli"
}

func (TaskQueuedPayload) EventType() EventType { return EventTaskQueued }

type TaskClaimedPayload struct {
	TaskID   string `json:"task_id"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
}

func (TaskClaimedPayload) EventType() EventType { return EventTaskClaimed }

type TaskDonePayload struct {
	TaskID          string `json:"task_id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
	PRURL           string `json:"pr_url,omitempty"`
	Merged          bool   `json:"merged,omitempty"`
}

func (TaskDonePayload) EventType() EventType { return EventTaskDone }

type TaskFailedPayload struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Status string `json:"status"` // phase the task failed in
	Reason string `json:"reason"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskRequeuedPayload struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
}

func (TaskRequeuedPayload) EventType() EventType { return EventTaskRequeued }

// =============================================================================
// PHASE EVENTS
// =============================================================================

type PhaseStatus string

const (
	PhaseStatusStarted   PhaseStatus = "started"
	PhaseStatusCompleted PhaseStatus = "completed"
	PhaseStatusFailed    PhaseStatus = "failed"
)

type PhasePayload struct {
	TaskID  string      `json:"task_id"`
	Agent   string      `json:"agent"` // planner, coder, reviewer, tester, deployer
	Status  PhaseStatus `json:"status"`
	Attempt int         `json:"attempt,omitempty"` // review cycle, 1-based
	Detail  string      `json:"detail,omitempty"`
}

func (p PhasePayload) EventType() EventType {
	if p.Status == PhaseStatusStarted {
		return EventPhaseStarted
	}
	return EventPhaseCompleted
}

// =============================================================================
// REVIEW EVENTS
// =============================================================================

type ReviewPayload struct {
	TaskID     string  `json:"task_id"`
	Attempt    int     `json:"attempt"`
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary,omitempty"`
}

func (p ReviewPayload) EventType() EventType {
	if p.Approved {
		return EventReviewApproved
	}
	return EventReviewRejected
}

// =============================================================================
// CHANGE REQUEST EVENTS
// =============================================================================

type ChangeRequestPayload struct {
	TaskID string `json:"task_id"`
	Number int    `json:"number"`
	URL    string `json:"url"`
	Merged bool   `json:"merged"`
}

func (ChangeRequestPayload) EventType() EventType { return EventChangeRequestOpened }

// =============================================================================
// BUDGET EVENTS
// =============================================================================

type BudgetExhaustedPayload struct {
	SpentCents   int `json:"spent_cents"`
	CeilingCents int `json:"ceiling_cents"`
}

func (BudgetExhaustedPayload) EventType() EventType { return EventBudgetExhausted }

// =============================================================================
// INBOX EVENTS
// =============================================================================

type InboxIngestedPayload struct {
	Count int    `json:"count"`
	Path  string `json:"path"`
}

func (InboxIngestedPayload) EventType() EventType { return EventInboxIngested }

// =============================================================================
// INTERNAL EVENTS
// =============================================================================

type LLMCallPayload struct {
	Agent        string        `json:"agent"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider,omitempty"`
	TokensInput  int           `json:"tokens_input,omitempty"`
	TokensOutput int           `json:"tokens_output,omitempty"`
	CostCents    int           `json:"cost_cents"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMCall }

// =============================================================================
// DIGEST EVENTS
// =============================================================================

type DigestPayload struct {
	Done       int `json:"done"`
	Failed     int `json:"failed"`
	SpentCents int `json:"spent_cents"`
}

func (DigestPayload) EventType() EventType { return EventDigestSent }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return NewEvent(payload.EventType(), source, toMap(payload))
}

func NewTypedEventWithTask(source EventSource, payload EventPayload, taskID string) Event {
	return NewEventWithTask(payload.EventType(), source, toMap(payload), taskID)
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTION
// =============================================================================

// ExtractPayload decodes an event's generic payload map back into its typed
// form. ok is false when the shapes do not line up.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
