package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dohr-michael/foundry/internal/tasks"
)

// Agent names as they appear in the event ledger and agent log. Deployer and
// pipeline never call the model; they label forge work and the top-level
// failure handler.
const (
	AgentPlanner  = "planner"
	AgentCoder    = "coder"
	AgentReviewer = "reviewer"
	AgentTester   = "tester"
	AgentDeployer = "deployer"
	AgentPipeline = "pipeline"
)

const plannerInstructions = `You are the planning agent for an autonomous code delivery pipeline.

Your job is to take a task description and produce a clear, actionable implementation plan.

You receive a project primer (the authoritative reference for the product) and a listing of
the repository structure to understand the current implementation.

Your output must be a JSON object with this structure:
{
    "summary": "One-sentence summary of what this task does",
    "complexity": "simple|medium|complex",
    "files_to_modify": ["path/to/first/file", "path/to/second/file"],
    "files_to_create": ["path/to/new/file"],
    "files_to_read": ["path/to/existing/file"],
    "steps": [
        {
            "order": 1,
            "description": "What to do",
            "file": "path/to/file",
            "action": "modify|create|delete"
        }
    ],
    "risks": ["Potential risk 1", "Potential risk 2"],
    "testing": "How to verify this change works",
    "conventions_to_follow": ["Specific patterns from the codebase to match"]
}

files_to_read lists files the coder needs for context but will not change.

Rules:
- Always check the project primer for conventions before planning
- Never plan changes that violate the documented architecture
- Prefer modifying existing files over creating new ones
- Reference specific file paths from the actual codebase
- Keep plans concrete, no vague "refactor" steps
- If the task is unclear, say so in risks and suggest clarification`

const coderInstructions = `You are the coding agent for an autonomous code delivery pipeline.

Your job is to implement code changes according to a plan. You receive:
1. The implementation plan from the planner
2. The current content of relevant files
3. The project primer for conventions

Your output must be a JSON object with this structure:
{
    "files": [
        {
            "path": "path/to/file",
            "action": "modify|create|delete",
            "content": "full file content here (for modify/create)",
            "explanation": "what changed and why"
        }
    ],
    "commit_message": "feat: add X to Y",
    "notes": "Any implementation notes for the reviewer"
}

Rules:
- Output COMPLETE file contents (not diffs), the system commits the full file
- Follow existing code patterns EXACTLY: match imports, naming and error handling
- Match the style conventions of each language already present in the repository
- Never introduce new dependencies without noting it
- Never hardcode secrets or environment-specific values
- Commit messages follow conventional commits: feat:, fix:, refactor:, docs:
- If something in the plan doesn't make sense, note it but implement your best interpretation`

const reviewerInstructions = `You are the review agent for an autonomous code delivery pipeline.

Your job is to critically review code changes and decide if they should ship. You are the last
line of defense before code is delivered. Be thorough but practical.

You receive:
1. The original task description
2. The implementation plan
3. The actual code changes
4. The project primer

Your output must be a JSON object:
{
    "decision": "approve|reject",
    "confidence": 0.0-1.0,
    "issues": [
        {
            "severity": "critical|warning|nitpick",
            "file": "path/to/file",
            "description": "what's wrong",
            "suggestion": "how to fix it"
        }
    ],
    "summary": "Overall assessment in 2-3 sentences",
    "product_alignment": "How well this fits the product vision (good/ok/poor)",
    "convention_violations": ["Any coding convention violations found"],
    "security_concerns": ["Any security issues"],
    "missing_tests": "What tests should exist for this change"
}

Rules for decision:
- APPROVE if: no critical issues, code follows conventions, fits the product
- REJECT if: critical bugs, security issues, breaks existing functionality, violates the
  architecture, or significantly deviates from the plan without good reason
- Nitpicks alone should NOT cause rejection: note them but approve
- You are NOT looking for perfection. You are looking for "will this break something or
  embarrass the product?"
- After 3 review cycles, lower your bar and ship it if it is not broken

Critical checks (always verify):
1. Does it respect tenant isolation and access control?
2. Does it handle errors properly (no swallowed failures, correct status codes)?
3. Does it follow the existing file and naming patterns?
4. Will it break the build?
5. Does it match what the task asked for?`

const testerInstructions = `You are the testing agent for an autonomous code delivery pipeline.

Your job is to evaluate whether code changes will pass the build and existing tests.
You cannot run tests directly. Instead, you analyze the code for likely failures.

Your output must be a JSON object:
{
    "verdict": "pass|fail|warning",
    "checks": [
        {
            "check": "compilation",
            "result": "pass|fail|warning",
            "details": "explanation"
        }
    ],
    "suggested_manual_tests": ["things to verify manually if possible"]
}

Checks to perform:
1. Compilation: will the changed files build cleanly? Look for syntax errors, missing
   imports and wrong types
2. Templates: if templates changed, will they render without undefined variables?
3. Database: if schema changes or migrations are involved, are they safe and additive?
4. API contracts: do request and response shapes still match their consumers?`

// reviewerContentLimit caps how much of each file the reviewer sees.
const reviewerContentLimit = 3000

// BuildPlannerContent assembles the planner's user prompt.
func BuildPlannerContent(primer, repoStructure string, t *tasks.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Project Primer\n%s\n\n", primer)
	fmt.Fprintf(&b, "## Repository Structure\n%s\n\n", repoStructure)
	fmt.Fprintf(&b, "## Task\nTitle: %s\nDescription: %s\nContext: %s\nPriority: %s\nTrust Level: %s\n\n",
		t.Title, t.Description, orNone(t.Context), t.Priority, t.TrustLevel)
	b.WriteString("Produce your implementation plan as a JSON object. Only output valid JSON, no markdown fences.")
	return b.String()
}

// BuildCoderContent assembles the coder's user prompt. fileContents holds the
// current state of the files the plan references; feedback carries reviewer
// issues on attempts after the first.
func BuildCoderContent(primer string, plan *tasks.Plan, fileContents, feedback string, t *tasks.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Project Primer\n%s\n\n", primer)
	fmt.Fprintf(&b, "## Implementation Plan\n%s\n\n", marshalIndent(plan))
	fmt.Fprintf(&b, "## Current File Contents\n%s\n", fileContents)
	if feedback != "" {
		fmt.Fprintf(&b, "\n## Reviewer Feedback (address these issues)\n%s\n", feedback)
	}
	fmt.Fprintf(&b, "\n## Task\nTitle: %s\nDescription: %s\n\n", t.Title, t.Description)
	b.WriteString("Implement the changes. Output valid JSON only, no markdown fences.")
	return b.String()
}

// BuildReviewerContent assembles the reviewer's user prompt. File contents are
// truncated so a large change cannot crowd out the task and plan.
func BuildReviewerContent(primer string, t *tasks.Task, plan *tasks.Plan, change *tasks.CodeChange, attempt int) string {
	summaries := make([]string, 0, len(change.Files))
	for _, f := range change.Files {
		summaries = append(summaries, fmt.Sprintf(
			"### %s (%s)\nExplanation: %s\nContent length: %d chars\n```\n%s\n```",
			f.Path, f.Action, orNone(f.Explanation), len(f.Content), truncate(f.Content, reviewerContentLimit)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Project Primer\n%s\n\n", primer)
	fmt.Fprintf(&b, "## Original Task\nTitle: %s\nDescription: %s\n\n", t.Title, t.Description)
	fmt.Fprintf(&b, "## Implementation Plan\n%s\n\n", marshalIndent(plan))
	fmt.Fprintf(&b, "## Code Changes (Review Attempt #%d)\nCommit message: %s\nCoder notes: %s\n\n%s\n",
		attempt, orNone(change.CommitMessage), orNone(change.Notes), strings.Join(summaries, "\n"))
	b.WriteString("\nReview this change. Output valid JSON only, no markdown fences.")
	return b.String()
}

// BuildTesterContent assembles the tester's user prompt with full file bodies.
func BuildTesterContent(t *tasks.Task, change *tasks.CodeChange) string {
	summaries := make([]string, 0, len(change.Files))
	for _, f := range change.Files {
		summaries = append(summaries, fmt.Sprintf("### %s (%s)\n```\n%s\n```", f.Path, f.Action, f.Content))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Task\n%s: %s\n\n", t.Title, t.Description)
	fmt.Fprintf(&b, "## Code Changes\n%s\n\n", strings.Join(summaries, "\n"))
	b.WriteString("Analyze these changes for potential build/test failures. Output valid JSON only.")
	return b.String()
}

func marshalIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
