package agents

import (
	"encoding/json"
	"strings"

	"github.com/dohr-michael/foundry/internal/tasks"
)

// stripFences removes a leading ```lang line and the trailing ``` fence.
// Models are told not to fence their JSON but do it anyway often enough.
func stripFences(s string) string {
	clean := strings.TrimSpace(s)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	if i := strings.IndexByte(clean, '\n'); i >= 0 {
		clean = clean[i+1:]
	} else {
		return ""
	}
	if i := strings.LastIndex(clean, "```"); i >= 0 {
		clean = clean[:i]
	}
	return strings.TrimSpace(clean)
}

func parsePlan(text string) PlanResult {
	var plan tasks.Plan
	if err := json.Unmarshal([]byte(stripFences(text)), &plan); err != nil {
		return PlanResult{
			Plan: tasks.Plan{
				Summary:    "failed to parse plan",
				Complexity: "unknown",
				Risks:      []string{"planner output was not valid JSON"},
			},
			Raw: text,
		}
	}
	return PlanResult{Plan: plan, Parsed: true}
}

func parseCode(text string) CodeResult {
	var change tasks.CodeChange
	if err := json.Unmarshal([]byte(stripFences(text)), &change); err != nil {
		return CodeResult{
			CodeChange: tasks.CodeChange{
				CommitMessage: "unparsed coder output",
				Notes:         text,
			},
			Raw: text,
		}
	}
	return CodeResult{CodeChange: change, Parsed: true}
}

func parseReview(text string) ReviewResult {
	var review tasks.ReviewNotes
	if err := json.Unmarshal([]byte(stripFences(text)), &review); err != nil {
		return ReviewResult{
			ReviewNotes: tasks.ReviewNotes{
				Decision:   "approve",
				Confidence: 0.5,
				Summary:    "failed to parse review, approving with low confidence",
			},
			Raw: text,
		}
	}
	return ReviewResult{ReviewNotes: review, Parsed: true}
}

func parseTest(text string) TestResult {
	var report tasks.TestReport
	if err := json.Unmarshal([]byte(stripFences(text)), &report); err != nil {
		return TestResult{
			TestReport: tasks.TestReport{Verdict: "warning"},
			Raw:        text,
		}
	}
	return TestResult{TestReport: report, Parsed: true}
}
