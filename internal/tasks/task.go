// Package tasks provides the persistent task queue behind the agent pipeline.
package tasks

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
// Tasks move queued → planning → coding → reviewing → testing → deploying →
// done, with a bounded back edge from reviewing to coding on rejection, and
// may land in failed from any phase.
type TaskStatus string

const (
	StatusQueued    TaskStatus = "queued"
	StatusPlanning  TaskStatus = "planning"
	StatusCoding    TaskStatus = "coding"
	StatusReviewing TaskStatus = "reviewing"
	StatusTesting   TaskStatus = "testing"
	StatusDeploying TaskStatus = "deploying"
	StatusDone      TaskStatus = "done"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// InFlight reports whether a task is mid-pipeline (claimed but not finished).
func (s TaskStatus) InFlight() bool {
	return !s.Terminal() && s != StatusQueued
}

// TaskPriority orders queued tasks. Urgent drains first; ties break on age.
type TaskPriority string

const (
	PriorityUrgent TaskPriority = "urgent"
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// Rank returns the sort weight: lower runs first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether p is a known priority.
func (p TaskPriority) Valid() bool {
	return p.Rank() < 4
}

// TrustLevel controls how far the pipeline carries a finished change.
type TrustLevel string

const (
	TrustFullAuto    TrustLevel = "full_auto"
	TrustPlanOnly    TrustLevel = "plan_only"
	TrustPreviewOnly TrustLevel = "preview_only"
)

// AutoMerge reports whether an approved change request may be merged without a human.
func (t TrustLevel) AutoMerge() bool {
	return t == TrustFullAuto
}

// Valid reports whether t is a known trust level.
func (t TrustLevel) Valid() bool {
	return t == TrustFullAuto || t == TrustPlanOnly || t == TrustPreviewOnly
}

// PlanStep is a single ordered step in an implementation plan.
type PlanStep struct {
	Order       int    `json:"order"`
	Description string `json:"description"`
	File        string `json:"file,omitempty"`
	Action      string `json:"action,omitempty"` // modify|create|delete
}

// Plan is the planner's structured output.
type Plan struct {
	Summary             string     `json:"summary"`
	Complexity          string     `json:"complexity"` // simple|medium|complex|unknown
	FilesToModify       []string   `json:"files_to_modify"`
	FilesToCreate       []string   `json:"files_to_create"`
	FilesToRead         []string   `json:"files_to_read"`
	Steps               []PlanStep `json:"steps"`
	Risks               []string   `json:"risks,omitempty"`
	Testing             string     `json:"testing,omitempty"`
	ConventionsToFollow []string   `json:"conventions_to_follow,omitempty"`
}

// Actionable reports whether the plan is concrete enough to implement.
func (p *Plan) Actionable() bool {
	return p != nil && p.Complexity != "unknown" && len(p.Steps) > 0
}

// FileChange is one file the coder wants written, rewritten or removed.
type FileChange struct {
	Path        string `json:"path"`
	Action      string `json:"action"` // modify|create|delete
	Content     string `json:"content,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// CodeChange is the coder's structured output: full file contents, not diffs.
type CodeChange struct {
	Files         []FileChange `json:"files"`
	CommitMessage string       `json:"commit_message"`
	Notes         string       `json:"notes,omitempty"`
}

// ReviewIssue is one problem the reviewer found.
type ReviewIssue struct {
	Severity    string `json:"severity"` // critical|warning|nitpick
	File        string `json:"file,omitempty"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// ReviewNotes is the reviewer's verdict on a code change.
type ReviewNotes struct {
	Decision             string        `json:"decision"` // approve|reject
	Confidence           float64       `json:"confidence"`
	Issues               []ReviewIssue `json:"issues"`
	Summary              string        `json:"summary"`
	ProductAlignment     string        `json:"product_alignment,omitempty"`
	ConventionViolations []string      `json:"convention_violations,omitempty"`
	SecurityConcerns     []string      `json:"security_concerns,omitempty"`
	MissingTests         string        `json:"missing_tests,omitempty"`
}

// Approved reports whether the reviewer decided to ship.
func (r *ReviewNotes) Approved() bool {
	return r != nil && r.Decision == "approve"
}

// CriticalIssues returns the subset of issues marked critical.
func (r *ReviewNotes) CriticalIssues() []ReviewIssue {
	if r == nil {
		return nil
	}
	var out []ReviewIssue
	for _, issue := range r.Issues {
		if issue.Severity == "critical" {
			out = append(out, issue)
		}
	}
	return out
}

// TestCheck is one static check the tester performed.
type TestCheck struct {
	Check   string `json:"check"`
	Result  string `json:"result"` // pass|fail|warning
	Details string `json:"details,omitempty"`
}

// TestReport is the tester's static analysis of a change.
type TestReport struct {
	Verdict              string      `json:"verdict"` // pass|fail|warning
	Checks               []TestCheck `json:"checks"`
	SuggestedManualTests []string    `json:"suggested_manual_tests,omitempty"`
}

// LogEntry is one line in a task's append-only agent log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Agent     string         `json:"agent"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Task represents one unit of work moving through the pipeline.
type Task struct {
	ID                    string       `json:"id"`
	Title                 string       `json:"title"`
	Description           string       `json:"description"`
	Context               string       `json:"context,omitempty"`
	Priority              TaskPriority `json:"priority"`
	TrustLevel            TrustLevel   `json:"trust_level"`
	Status                TaskStatus   `json:"status"`
	Plan                  *Plan        `json:"plan,omitempty"`
	CodeChange            *CodeChange  `json:"code_change,omitempty"`
	ReviewNotes           *ReviewNotes `json:"review_notes,omitempty"`
	TestReport            *TestReport  `json:"test_report,omitempty"`
	ReviewAttempts        int          `json:"review_attempts"`
	BranchName            string       `json:"branch_name,omitempty"`
	CommitSHA             string       `json:"commit_sha,omitempty"`
	PRNumber              int          `json:"pr_number,omitempty"`
	PRURL                 string       `json:"pr_url,omitempty"`
	FilesChanged          []string     `json:"files_changed,omitempty"`
	ErrorMessage          string       `json:"error_message,omitempty"`
	AgentLog              []LogEntry   `json:"agent_log,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	StartedAt             *time.Time   `json:"started_at,omitempty"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
	ActualDurationSeconds int          `json:"actual_duration_seconds,omitempty"`
}

// AppendLog adds an entry to the task's agent log with the current timestamp.
func (t *Task) AppendLog(agent, action string, detail map[string]any) {
	t.AgentLog = append(t.AgentLog, LogEntry{
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Action:    action,
		Detail:    detail,
	})
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	return uuid.New().String()
}

// BranchName builds the working branch ref for a task:
// {prefix}{first 8 hex of id}-{slug of title, max 30}.
func BranchName(prefix, id, title string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return prefix + short + "-" + Slug(title, 30)
}

// Slug lowercases s, maps runs of non-alphanumerics to single dashes,
// and truncates to maxLen.
func Slug(s string, maxLen int) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > maxLen {
		out = strings.TrimRight(out[:maxLen], "-")
	}
	return out
}
