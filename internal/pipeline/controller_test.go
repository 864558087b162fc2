package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dohr-michael/foundry/internal/agents"
	"github.com/dohr-michael/foundry/internal/budget"
	"github.com/dohr-michael/foundry/internal/config"
	"github.com/dohr-michael/foundry/internal/forge"
	"github.com/dohr-michael/foundry/internal/tasks"
)

const (
	planJSON = `{
		"summary": "Add a rate limiter to the API server",
		"complexity": "simple",
		"files_to_modify": ["api/server.go"],
		"files_to_create": [],
		"files_to_read": ["api/middleware.go"],
		"steps": [{"order": 1, "description": "wrap handler with limiter", "file": "api/server.go", "action": "modify"}],
		"risks": [],
		"testing": "unit test the limiter"
	}`

	vaguePlanJSON = `{
		"summary": "Not sure what this task wants",
		"complexity": "unknown",
		"files_to_modify": [],
		"files_to_create": [],
		"files_to_read": [],
		"steps": [],
		"risks": ["task is too vague"]
	}`

	codeJSON = `{
		"files": [{"path": "api/server.go", "action": "modify", "content": "package api\n", "explanation": "added limiter"}],
		"commit_message": "feat: add rate limiter",
		"notes": ""
	}`

	fixedCodeJSON = `{
		"files": [{"path": "api/server.go", "action": "modify", "content": "package api\n\n// fixed\n", "explanation": "plugged leak"}],
		"commit_message": "fix: plug limiter goroutine leak",
		"notes": ""
	}`

	approveJSON = `{"decision": "approve", "confidence": 0.9, "issues": [], "summary": "looks correct"}`

	rejectJSON = `{
		"decision": "reject",
		"confidence": 0.8,
		"issues": [{"severity": "critical", "file": "api/server.go", "description": "limiter leaks goroutines", "suggestion": "stop the ticker"}],
		"summary": "goroutine leak"
	}`

	testPassJSON = `{"verdict": "pass", "checks": [{"check": "compilation", "result": "pass"}]}`
	testFailJSON = `{"verdict": "fail", "checks": [{"check": "compilation", "result": "fail", "details": "missing import"}]}`
)

type scriptedCall struct {
	instructions string
	content      string
	maxTokens    int
}

// scriptedClient returns canned responses in order. Every call reports
// 1000 input and 500 output tokens, which costs exactly 1 cent at the
// 300/1500 cents-per-Mtok test pricing.
type scriptedClient struct {
	responses []string
	err       error
	calls     []scriptedCall
}

func (s *scriptedClient) Complete(ctx context.Context, instructions, content string, maxTokens int) (agents.Completion, error) {
	s.calls = append(s.calls, scriptedCall{instructions: instructions, content: content, maxTokens: maxTokens})
	if s.err != nil {
		return agents.Completion{}, s.err
	}
	idx := len(s.calls) - 1
	if idx >= len(s.responses) {
		return agents.Completion{}, fmt.Errorf("unexpected completion call %d", idx+1)
	}
	return agents.Completion{Text: s.responses[idx], InputTokens: 1000, OutputTokens: 500}, nil
}

type forgeWrite struct {
	path    string
	content string
	message string
	branch  string
}

type forgeDelete struct {
	path    string
	message string
	branch  string
}

// memForge is an in-memory forge. Reads come from the seeded files map;
// writes and deletes are recorded. OpenChangeRequest reports merged only
// when auto-integration was requested and mergeErr is unset.
type memForge struct {
	files       map[string]string
	rootEntries []string
	branches    []string
	writes      []forgeWrite
	deletes     []forgeDelete
	cr          *forge.ChangeRequestSpec
	mergeErr    string
}

func (f *memForge) CreateBranch(ctx context.Context, name string) error {
	f.branches = append(f.branches, name)
	return nil
}

func (f *memForge) ReadFile(ctx context.Context, path, ref string) (string, bool, error) {
	content, ok := f.files[path]
	return content, ok, nil
}

func (f *memForge) ListDirectory(ctx context.Context, path, ref string) ([]string, error) {
	return f.rootEntries, nil
}

func (f *memForge) TreePaths(ctx context.Context, path, ref string, maxDepth int) ([]string, error) {
	var out []string
	for p := range f.files {
		out = append(out, p)
	}
	return out, nil
}

func (f *memForge) WriteFile(ctx context.Context, path, content, message, branch string) (string, error) {
	f.writes = append(f.writes, forgeWrite{path: path, content: content, message: message, branch: branch})
	return fmt.Sprintf("sha-%d", len(f.writes)+len(f.deletes)), nil
}

func (f *memForge) DeleteFile(ctx context.Context, path, message, branch string) (string, error) {
	f.deletes = append(f.deletes, forgeDelete{path: path, message: message, branch: branch})
	return fmt.Sprintf("sha-%d", len(f.writes)+len(f.deletes)), nil
}

func (f *memForge) OpenChangeRequest(ctx context.Context, spec forge.ChangeRequestSpec) (*forge.ChangeRequest, error) {
	f.cr = &spec
	cr := &forge.ChangeRequest{Number: 7, URL: "https://example.test/pull/7", Title: spec.Title}
	if spec.AutoIntegrate {
		if f.mergeErr != "" {
			cr.MergeError = f.mergeErr
		} else {
			cr.Merged = true
		}
	}
	return cr, nil
}

var _ forge.Client = (*memForge)(nil)

func newController(t *testing.T, client agents.CompletionClient, fc forge.Client, ceilingCents int) (*Controller, *tasks.SQLStore) {
	t.Helper()
	store, err := tasks.Open(filepath.Join(t.TempDir(), "foundry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	exec := agents.NewExecutor(client, agents.ExecutorConfig{
		Pricing: agents.Pricing{InputCentsPerMtok: 300, OutputCentsPerMtok: 1500},
		Limits:  config.PhaseTokensConfig{Planner: 4000, Coder: 16000, Reviewer: 4000, Tester: 3000},
		Primer:  "Widgets is a demo service.",
	}, nil)

	ctrl := New(Config{MaxReviewCycles: 3, BranchPrefix: "agent/"}, Deps{
		Store: store,
		Exec:  exec,
		Forge: fc,
		Gate:  budget.NewGate(store, ceilingCents),
		Guard: forge.NewPathGuard([]string{".github/**"}),
	})
	return ctrl, store
}

func claimTask(t *testing.T, store *tasks.SQLStore, task *tasks.Task) *tasks.Task {
	t.Helper()
	ctx := context.Background()
	if err := store.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed task")
	}
	return claimed
}

func TestRunFullAutoDeliversAndMerges(t *testing.T) {
	client := &scriptedClient{responses: []string{planJSON, codeJSON, approveJSON, testPassJSON}}
	fc := &memForge{files: map[string]string{"api/middleware.go": "package api\n"}}
	ctrl, store := newController(t, client, fc, 10_000)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{Title: "Add rate limiting", Description: "Throttle the public API"})
	if err := ctrl.Run(ctx, task); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != tasks.StatusDone {
		t.Fatalf("expected status done, got %s", got.Status)
	}
	if !strings.HasPrefix(got.BranchName, "agent/") || !strings.HasSuffix(got.BranchName, "-add-rate-limiting") {
		t.Errorf("unexpected branch name %q", got.BranchName)
	}
	if got.PRNumber != 7 || got.PRURL != "https://example.test/pull/7" {
		t.Errorf("expected change request 7, got #%d %s", got.PRNumber, got.PRURL)
	}
	if len(got.FilesChanged) != 1 || got.FilesChanged[0] != "api/server.go" {
		t.Errorf("expected files changed [api/server.go], got %v", got.FilesChanged)
	}
	if got.CommitSHA == "" {
		t.Error("expected commit sha recorded")
	}
	if got.ReviewAttempts != 1 {
		t.Errorf("expected 1 review attempt, got %d", got.ReviewAttempts)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at set")
	}
	if got.Plan == nil || got.CodeChange == nil || got.ReviewNotes == nil || got.TestReport == nil {
		t.Error("expected all phase artifacts stored")
	}

	if len(client.calls) != 4 {
		t.Fatalf("expected 4 completion calls, got %d", len(client.calls))
	}
	if !strings.Contains(client.calls[1].content, "=== api/middleware.go ===") {
		t.Error("expected coder prompt to include current file contents")
	}

	if len(fc.branches) != 1 || fc.branches[0] != got.BranchName {
		t.Errorf("expected branch %q created, got %v", got.BranchName, fc.branches)
	}
	if len(fc.writes) != 1 {
		t.Fatalf("expected 1 file write, got %d", len(fc.writes))
	}
	w := fc.writes[0]
	if w.path != "api/server.go" || w.message != "feat: add rate limiter" || w.branch != got.BranchName {
		t.Errorf("unexpected write %+v", w)
	}
	if fc.cr == nil {
		t.Fatal("expected a change request")
	}
	if fc.cr.Title != "[agent] feat: add rate limiter" {
		t.Errorf("unexpected change request title %q", fc.cr.Title)
	}
	if !fc.cr.AutoIntegrate {
		t.Error("expected auto-integration for full_auto trust")
	}
	for _, want := range []string{"## Task", "Add rate limiting", "- `api/server.go`", "*Automated by foundry*"} {
		if !strings.Contains(fc.cr.Body, want) {
			t.Errorf("expected change request body to contain %q", want)
		}
	}

	ledger, err := store.Events(ctx, task.ID, 50)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(ledger) != 9 {
		t.Fatalf("expected 9 ledger rows, got %d", len(ledger))
	}
	kinds := map[tasks.EventKind]int{}
	for _, rec := range ledger {
		kinds[rec.Kind]++
	}
	if kinds[tasks.EventApproved] != 1 {
		t.Errorf("expected 1 approved row, got %d", kinds[tasks.EventApproved])
	}

	spent, err := store.DailyCost(ctx)
	if err != nil {
		t.Fatalf("daily cost: %v", err)
	}
	if spent != 4 {
		t.Errorf("expected 4 cents spent, got %d", spent)
	}
}

func TestRunPlannerSeesRepositoryRoot(t *testing.T) {
	client := &scriptedClient{responses: []string{planJSON, codeJSON, approveJSON, testPassJSON}}
	fc := &memForge{
		files:       map[string]string{"api/middleware.go": "package api\n"},
		rootEntries: []string{"api", "cmd", "go.mod"},
	}
	ctrl, store := newController(t, client, fc, 10_000)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{Title: "Add rate limiting", Description: "Throttle the public API"})
	if err := ctrl.Run(ctx, task); err != nil {
		t.Fatalf("run: %v", err)
	}

	// No context dirs configured, so the planner prompt falls back to the
	// repository's top-level entries.
	if !strings.Contains(client.calls[0].content, "go.mod") {
		t.Errorf("expected planner prompt to list the repository root, got:\n%s", client.calls[0].content)
	}
}

func TestRunRejectionFeedsBackToCoder(t *testing.T) {
	client := &scriptedClient{responses: []string{planJSON, codeJSON, rejectJSON, fixedCodeJSON, approveJSON, testPassJSON}}
	fc := &memForge{files: map[string]string{"api/middleware.go": "package api\n"}}
	ctrl, store := newController(t, client, fc, 10_000)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{
		Title:       "Add rate limiting",
		Description: "Throttle the public API",
		TrustLevel:  tasks.TrustPreviewOnly,
	})
	if err := ctrl.Run(ctx, task); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(client.calls) != 6 {
		t.Fatalf("expected 6 completion calls, got %d", len(client.calls))
	}
	second := client.calls[3].content
	if !strings.Contains(second, "## Reviewer Feedback") || !strings.Contains(second, "limiter leaks goroutines") {
		t.Error("expected second coder attempt to carry the rejection issues")
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != tasks.StatusDone {
		t.Fatalf("expected status done, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.ReviewAttempts != 2 {
		t.Errorf("expected 2 review attempts, got %d", got.ReviewAttempts)
	}
	if fc.cr == nil {
		t.Fatal("expected a change request")
	}
	if fc.cr.AutoIntegrate {
		t.Error("expected no auto-integration for preview_only trust")
	}
	if !strings.Contains(fc.cr.Body, "Review attempts: 2") {
		t.Error("expected change request body to report 2 attempts")
	}
	if len(fc.writes) != 1 {
		t.Fatalf("expected 1 file write, got %d", len(fc.writes))
	}
	if fc.writes[0].message != "fix: plug limiter goroutine leak" {
		t.Errorf("expected the approved attempt's commit message, got %q", fc.writes[0].message)
	}
}

func TestRunReviewExhausted(t *testing.T) {
	client := &scriptedClient{responses: []string{planJSON, codeJSON, rejectJSON, codeJSON, rejectJSON, codeJSON, rejectJSON}}
	fc := &memForge{}
	ctrl, store := newController(t, client, fc, 10_000)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{Title: "Add rate limiting", Description: "Throttle the public API"})
	err := ctrl.Run(ctx, task)
	if !errors.Is(err, ErrReviewExhausted) {
		t.Fatalf("expected ErrReviewExhausted, got %v", err)
	}

	got, _ := store.Get(ctx, task.ID)
	if got.Status != tasks.StatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if got.ErrorMessage != "change review rejected after 3 attempts" {
		t.Errorf("unexpected error message %q", got.ErrorMessage)
	}
	if got.ReviewAttempts != 3 {
		t.Errorf("expected 3 review attempts, got %d", got.ReviewAttempts)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at set on failure")
	}
	if len(fc.writes) != 0 || fc.cr != nil {
		t.Error("expected no delivery after exhausted review")
	}
}

func TestRunTesterFailureStopsDelivery(t *testing.T) {
	client := &scriptedClient{responses: []string{planJSON, codeJSON, approveJSON, testFailJSON}}
	fc := &memForge{}
	ctrl, store := newController(t, client, fc, 10_000)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{Title: "Add rate limiting", Description: "Throttle the public API"})
	err := ctrl.Run(ctx, task)
	if !errors.Is(err, ErrTestFailure) {
		t.Fatalf("expected ErrTestFailure, got %v", err)
	}

	got, _ := store.Get(ctx, task.ID)
	if got.Status != tasks.StatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if got.ErrorMessage != "tester flagged likely build or test failures" {
		t.Errorf("unexpected error message %q", got.ErrorMessage)
	}
	if got.TestReport == nil || got.TestReport.Verdict != "fail" {
		t.Error("expected failing test report stored")
	}
	if len(fc.writes) != 0 || fc.cr != nil {
		t.Error("expected no delivery after failing verdict")
	}
}

func TestRunAmbiguousPlanFails(t *testing.T) {
	client := &scriptedClient{responses: []string{vaguePlanJSON}}
	fc := &memForge{}
	ctrl, store := newController(t, client, fc, 10_000)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{Title: "Do the thing", Description: "???"})
	err := ctrl.Run(ctx, task)
	if !errors.Is(err, ErrAmbiguousTask) {
		t.Fatalf("expected ErrAmbiguousTask, got %v", err)
	}

	got, _ := store.Get(ctx, task.ID)
	if got.Status != tasks.StatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if got.ErrorMessage != "planner could not produce an actionable plan" {
		t.Errorf("unexpected error message %q", got.ErrorMessage)
	}
	if len(client.calls) != 1 {
		t.Errorf("expected pipeline to stop after planning, got %d calls", len(client.calls))
	}
	if len(fc.branches) != 0 {
		t.Error("expected no branch for an unplannable task")
	}
}

func TestRunMalformedPlannerOutputFailsSafely(t *testing.T) {
	client := &scriptedClient{responses: []string{"I could not produce JSON, sorry."}}
	fc := &memForge{}
	ctrl, store := newController(t, client, fc, 10_000)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{Title: "Do the thing", Description: "???"})
	if err := ctrl.Run(ctx, task); !errors.Is(err, ErrAmbiguousTask) {
		t.Fatalf("expected ErrAmbiguousTask, got %v", err)
	}

	got, _ := store.Get(ctx, task.ID)
	if got.Plan == nil || got.Plan.Complexity != "unknown" {
		t.Fatal("expected safe-default plan stored")
	}
	if len(got.AgentLog) == 0 {
		t.Fatal("expected agent log entries")
	}
	if got.AgentLog[0].Detail["parse_failed"] != true {
		t.Error("expected parse failure recorded in agent log")
	}
}

func TestRunBudgetExhaustedMidLoop(t *testing.T) {
	// Each completion costs 1 cent. After plan (1), code (1) and a rejected
	// review (1) the 3-cent ceiling is reached, so attempt 2 must not start.
	client := &scriptedClient{responses: []string{planJSON, codeJSON, rejectJSON}}
	fc := &memForge{}
	ctrl, store := newController(t, client, fc, 3)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{Title: "Add rate limiting", Description: "Throttle the public API"})
	err := ctrl.Run(ctx, task)
	if !errors.Is(err, budget.ErrExhausted) {
		t.Fatalf("expected budget.ErrExhausted, got %v", err)
	}
	if len(client.calls) != 3 {
		t.Fatalf("expected 3 completion calls before cutoff, got %d", len(client.calls))
	}

	got, _ := store.Get(ctx, task.ID)
	if got.Status != tasks.StatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if got.ErrorMessage != "daily budget exhausted" {
		t.Errorf("unexpected error message %q", got.ErrorMessage)
	}

	// Budget failures stay eligible for a manual re-run.
	if err := store.Requeue(ctx, task.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	requeued, _ := store.Get(ctx, task.ID)
	if requeued.Status != tasks.StatusQueued {
		t.Errorf("expected status queued after requeue, got %s", requeued.Status)
	}
}

func TestRunCompletionFailureFailsTask(t *testing.T) {
	client := &scriptedClient{err: errors.New("api down")}
	fc := &memForge{}
	ctrl, store := newController(t, client, fc, 10_000)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{Title: "Add rate limiting", Description: "Throttle the public API"})
	err := ctrl.Run(ctx, task)

	var svcErr *agents.ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected a ServiceError, got %v", err)
	}
	if svcErr.Agent != agents.AgentPlanner {
		t.Errorf("expected planner failure, got %s", svcErr.Agent)
	}

	got, _ := store.Get(ctx, task.ID)
	if got.Status != tasks.StatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "planner completion failed") {
		t.Errorf("unexpected error message %q", got.ErrorMessage)
	}
}

func TestRunSkipsProtectedPathsAndDeletes(t *testing.T) {
	code := `{
		"files": [
			{"path": "api/server.go", "action": "modify", "content": "package api\n"},
			{"path": "docs/old.md", "action": "delete"},
			{"path": ".github/workflows/ci.yml", "action": "modify", "content": "jobs: {}\n"}
		],
		"commit_message": "feat: add rate limiter",
		"notes": ""
	}`
	client := &scriptedClient{responses: []string{planJSON, code, approveJSON, testPassJSON}}
	fc := &memForge{files: map[string]string{"docs/old.md": "stale\n"}}
	ctrl, store := newController(t, client, fc, 10_000)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{Title: "Add rate limiting", Description: "Throttle the public API"})
	if err := ctrl.Run(ctx, task); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := store.Get(ctx, task.ID)
	if len(got.FilesChanged) != 2 || got.FilesChanged[0] != "api/server.go" || got.FilesChanged[1] != "docs/old.md" {
		t.Errorf("expected protected path excluded from files changed, got %v", got.FilesChanged)
	}
	if len(fc.deletes) != 1 {
		t.Fatalf("expected 1 delete, got %d", len(fc.deletes))
	}
	if fc.deletes[0].message != "chore: delete docs/old.md" {
		t.Errorf("unexpected delete message %q", fc.deletes[0].message)
	}
	for _, w := range fc.writes {
		if strings.HasPrefix(w.path, ".github/") {
			t.Errorf("protected path was written: %s", w.path)
		}
	}

	var skipped bool
	for _, entry := range got.AgentLog {
		if entry.Action == "protected_path_skipped" {
			skipped = true
		}
	}
	if !skipped {
		t.Error("expected a protected_path_skipped log entry")
	}
}

func TestRunMergeFailureStillCompletes(t *testing.T) {
	client := &scriptedClient{responses: []string{planJSON, codeJSON, approveJSON, testPassJSON}}
	fc := &memForge{mergeErr: "required status checks pending"}
	ctrl, store := newController(t, client, fc, 10_000)
	ctx := context.Background()

	task := claimTask(t, store, &tasks.Task{Title: "Add rate limiting", Description: "Throttle the public API"})
	if err := ctrl.Run(ctx, task); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := store.Get(ctx, task.ID)
	if got.Status != tasks.StatusDone {
		t.Fatalf("expected status done despite merge failure, got %s", got.Status)
	}
	if got.PRNumber != 7 {
		t.Errorf("expected change request recorded, got #%d", got.PRNumber)
	}
}
