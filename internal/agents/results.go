package agents

import (
	"time"

	"github.com/dohr-michael/foundry/internal/tasks"
)

// Completion is the raw outcome of one model call.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Usage is the accounting side of one phase call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostCents    int
	Duration     time.Duration
}

// Tokens returns the total token count for ledger records.
func (u Usage) Tokens() int { return u.InputTokens + u.OutputTokens }

// Pricing converts token usage to integer cents.
type Pricing struct {
	InputCentsPerMtok  int
	OutputCentsPerMtok int
}

// Cost computes the cost of a call in cents, rounded down.
func (p Pricing) Cost(inputTokens, outputTokens int) int {
	return (inputTokens*p.InputCentsPerMtok + outputTokens*p.OutputCentsPerMtok) / 1_000_000
}

// PlanResult is the planner's output. Parsed is false when the model did not
// return valid JSON; the embedded Plan then holds the documented safe default
// and Raw preserves the original text for audit.
type PlanResult struct {
	tasks.Plan
	Parsed bool
	Raw    string
}

// CodeResult is the coder's output.
type CodeResult struct {
	tasks.CodeChange
	Parsed bool
	Raw    string
}

// ReviewResult is the reviewer's output. An unparsable review approves at low
// confidence rather than blocking the pipeline.
type ReviewResult struct {
	tasks.ReviewNotes
	Parsed bool
	Raw    string
}

// TestResult is the tester's output. An unparsable report degrades to a
// warning verdict, which does not block delivery.
type TestResult struct {
	tasks.TestReport
	Parsed bool
	Raw    string
}
