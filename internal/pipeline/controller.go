// Package pipeline drives a claimed task through the agent phases: planning,
// coding, reviewing, testing and delivery. The controller owns every status
// transition and ledger write; the executor owns the model calls.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dohr-michael/foundry/internal/agents"
	"github.com/dohr-michael/foundry/internal/budget"
	"github.com/dohr-michael/foundry/internal/events"
	"github.com/dohr-michael/foundry/internal/forge"
	"github.com/dohr-michael/foundry/internal/tasks"
)

const (
	defaultMaxReviewCycles = 3
	defaultBranchPrefix    = "agent/"
)

// Config tunes the controller.
type Config struct {
	MaxReviewCycles int
	BranchPrefix    string
	ContextDirs     []string
}

// Deps are the collaborators the controller drives. Guard and Bus may be nil.
type Deps struct {
	Store tasks.Store
	Exec  *agents.Executor
	Forge forge.Client
	Gate  *budget.Gate
	Guard *forge.PathGuard
	Bus   *events.Bus
}

// Controller runs the full pipeline on one task at a time.
type Controller struct {
	cfg   Config
	store tasks.Store
	exec  *agents.Executor
	forge forge.Client
	gate  *budget.Gate
	guard *forge.PathGuard
	bus   *events.Bus
}

// New creates a controller, filling config defaults.
func New(cfg Config, deps Deps) *Controller {
	if cfg.MaxReviewCycles <= 0 {
		cfg.MaxReviewCycles = defaultMaxReviewCycles
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = defaultBranchPrefix
	}
	return &Controller{
		cfg:   cfg,
		store: deps.Store,
		exec:  deps.Exec,
		forge: deps.Forge,
		gate:  deps.Gate,
		guard: deps.Guard,
		bus:   deps.Bus,
	}
}

// Run drives t through the pipeline. t must already be claimed (status
// planning). On any error the task lands in failed with the error text as its
// error_message; Run never leaves a task in a non-terminal status.
func (c *Controller) Run(ctx context.Context, t *tasks.Task) error {
	start := time.Now()
	slog.Info("processing task",
		"task_id", t.ID,
		"title", t.Title,
		"priority", t.Priority,
		"trust", t.TrustLevel,
	)

	if err := c.run(ctx, t, start); err != nil {
		c.fail(ctx, t, start, err)
		return err
	}
	return nil
}

func (c *Controller) run(ctx context.Context, t *tasks.Task, start time.Time) error {
	plan, err := c.plan(ctx, t)
	if err != nil {
		return err
	}
	if err := c.prepareBranch(ctx, t); err != nil {
		return err
	}
	change, review, err := c.codeAndReview(ctx, t, plan)
	if err != nil {
		return err
	}
	report, err := c.test(ctx, t, change)
	if err != nil {
		return err
	}
	cr, err := c.deliver(ctx, t, plan, change, review, report)
	if err != nil {
		return err
	}
	return c.finish(ctx, t, start, cr)
}

// plan runs the planner and stores its output. A plan with unknown complexity
// or no steps fails the task: retrying the same vague description would spend
// the same tokens for the same answer.
func (c *Controller) plan(ctx context.Context, t *tasks.Task) (*tasks.Plan, error) {
	slog.Info("planning", "task_id", t.ID)
	c.ledger(ctx, tasks.EventRecord{
		TaskID:       t.ID,
		Agent:        agents.AgentPlanner,
		Kind:         tasks.EventStarted,
		InputSummary: t.Description,
	})
	c.phaseEvent(t, agents.AgentPlanner, events.PhaseStatusStarted, 0, "")

	res, usage, err := c.exec.RunPlanner(ctx, t, c.repoStructure(ctx))
	if err != nil {
		return nil, err
	}

	t.Plan = &res.Plan
	detail := map[string]any{
		"complexity":      res.Plan.Complexity,
		"files_to_modify": res.Plan.FilesToModify,
		"files_to_create": res.Plan.FilesToCreate,
	}
	if !res.Parsed {
		detail["parse_failed"] = true
	}
	t.AppendLog(agents.AgentPlanner, "plan_created", detail)
	if err := c.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist plan: %w", err)
	}
	c.ledger(ctx, usageRecord(t.ID, agents.AgentPlanner, tasks.EventCompleted, res.Plan.Summary, usage))
	c.phaseEvent(t, agents.AgentPlanner, events.PhaseStatusCompleted, 0, res.Plan.Summary)

	if !res.Plan.Actionable() {
		return nil, ErrAmbiguousTask
	}
	return t.Plan, nil
}

func (c *Controller) prepareBranch(ctx context.Context, t *tasks.Task) error {
	t.BranchName = tasks.BranchName(c.cfg.BranchPrefix, t.ID, t.Title)
	if err := c.forge.CreateBranch(ctx, t.BranchName); err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	t.Status = tasks.StatusCoding
	if err := c.store.Update(ctx, t); err != nil {
		return fmt.Errorf("persist branch: %w", err)
	}
	return nil
}

// codeAndReview loops coder and reviewer until approval or the cycle budget
// runs out. The spend gate is checked before every coding attempt, so a task
// that starts under budget can still be cut off mid-loop.
func (c *Controller) codeAndReview(ctx context.Context, t *tasks.Task, plan *tasks.Plan) (*tasks.CodeChange, *tasks.ReviewNotes, error) {
	fileContents := c.gatherFiles(ctx, plan)

	var feedback string
	for attempt := 1; attempt <= c.cfg.MaxReviewCycles; attempt++ {
		ok, spent, err := c.gate.Allow(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("budget check: %w", err)
		}
		if !ok {
			c.publish(events.NewTypedEventWithTask(events.SourcePipeline, events.BudgetExhaustedPayload{
				SpentCents:   spent,
				CeilingCents: c.gate.Ceiling(),
			}, t.ID))
			return nil, nil, budget.ErrExhausted
		}

		if attempt > 1 {
			t.Status = tasks.StatusCoding
			if err := c.store.Update(ctx, t); err != nil {
				return nil, nil, fmt.Errorf("persist status: %w", err)
			}
		}

		slog.Info("coding", "task_id", t.ID, "attempt", attempt)
		c.ledger(ctx, tasks.EventRecord{
			TaskID:       t.ID,
			Agent:        agents.AgentCoder,
			Kind:         tasks.EventStarted,
			InputSummary: fmt.Sprintf("attempt %d", attempt),
		})
		c.phaseEvent(t, agents.AgentCoder, events.PhaseStatusStarted, attempt, "")

		codeRes, codeUsage, err := c.exec.RunCoder(ctx, t, plan, fileContents, feedback)
		if err != nil {
			return nil, nil, err
		}
		t.CodeChange = &codeRes.CodeChange
		detail := map[string]any{
			"attempt":        attempt,
			"files_count":    len(codeRes.Files),
			"commit_message": codeRes.CommitMessage,
		}
		if !codeRes.Parsed {
			detail["parse_failed"] = true
		}
		t.AppendLog(agents.AgentCoder, "code_written", detail)
		if err := c.store.Update(ctx, t); err != nil {
			return nil, nil, fmt.Errorf("persist code change: %w", err)
		}
		c.ledger(ctx, usageRecord(t.ID, agents.AgentCoder, tasks.EventCompleted, codeRes.CommitMessage, codeUsage))
		c.phaseEvent(t, agents.AgentCoder, events.PhaseStatusCompleted, attempt, codeRes.CommitMessage)

		slog.Info("reviewing", "task_id", t.ID, "attempt", attempt)
		t.Status = tasks.StatusReviewing
		t.ReviewAttempts = attempt
		if err := c.store.Update(ctx, t); err != nil {
			return nil, nil, fmt.Errorf("persist status: %w", err)
		}
		c.ledger(ctx, tasks.EventRecord{
			TaskID:       t.ID,
			Agent:        agents.AgentReviewer,
			Kind:         tasks.EventStarted,
			InputSummary: fmt.Sprintf("review attempt %d", attempt),
		})
		c.phaseEvent(t, agents.AgentReviewer, events.PhaseStatusStarted, attempt, "")

		revRes, revUsage, err := c.exec.RunReviewer(ctx, t, plan, t.CodeChange, attempt)
		if err != nil {
			return nil, nil, err
		}
		t.ReviewNotes = &revRes.ReviewNotes
		rdetail := map[string]any{
			"attempt":      attempt,
			"decision":     revRes.Decision,
			"confidence":   revRes.Confidence,
			"issues_count": len(revRes.Issues),
		}
		if !revRes.Parsed {
			rdetail["parse_failed"] = true
		}
		t.AppendLog(agents.AgentReviewer, "review_complete", rdetail)
		if err := c.store.Update(ctx, t); err != nil {
			return nil, nil, fmt.Errorf("persist review: %w", err)
		}

		kind := tasks.EventRejected
		if revRes.Approved() {
			kind = tasks.EventApproved
		}
		c.ledger(ctx, usageRecord(t.ID, agents.AgentReviewer, kind, revRes.Summary, revUsage))
		c.publish(events.NewTypedEventWithTask(events.SourcePipeline, events.ReviewPayload{
			TaskID:     t.ID,
			Attempt:    attempt,
			Approved:   revRes.Approved(),
			Confidence: revRes.Confidence,
			Summary:    revRes.Summary,
		}, t.ID))

		if revRes.Approved() {
			slog.Info("review approved", "task_id", t.ID, "attempt", attempt, "confidence", revRes.Confidence)
			return t.CodeChange, t.ReviewNotes, nil
		}

		slog.Info("review rejected",
			"task_id", t.ID,
			"attempt", attempt,
			"critical_issues", len(revRes.CriticalIssues()),
		)
		feedback = issuesJSON(revRes.Issues)
	}

	return nil, nil, fmt.Errorf("%w after %d attempts", ErrReviewExhausted, c.cfg.MaxReviewCycles)
}

// test runs the tester. A fail verdict is terminal; warnings are recorded and
// delivery proceeds.
func (c *Controller) test(ctx context.Context, t *tasks.Task, change *tasks.CodeChange) (*tasks.TestReport, error) {
	slog.Info("testing", "task_id", t.ID)
	t.Status = tasks.StatusTesting
	if err := c.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist status: %w", err)
	}
	c.ledger(ctx, tasks.EventRecord{TaskID: t.ID, Agent: agents.AgentTester, Kind: tasks.EventStarted})
	c.phaseEvent(t, agents.AgentTester, events.PhaseStatusStarted, 0, "")

	res, usage, err := c.exec.RunTester(ctx, t, change)
	if err != nil {
		return nil, err
	}
	t.TestReport = &res.TestReport
	if err := c.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist test report: %w", err)
	}

	verdict := res.Verdict
	if verdict == "" {
		verdict = "unknown"
	}
	kind := tasks.EventCompleted
	status := events.PhaseStatusCompleted
	if res.Verdict == "fail" {
		kind = tasks.EventFailed
		status = events.PhaseStatusFailed
	}
	c.ledger(ctx, usageRecord(t.ID, agents.AgentTester, kind, verdict, usage))
	c.phaseEvent(t, agents.AgentTester, status, 0, verdict)

	if res.Verdict == "fail" {
		return nil, ErrTestFailure
	}
	if res.Verdict == "warning" {
		slog.Warn("tester raised warnings, proceeding", "task_id", t.ID)
	}
	return t.TestReport, nil
}

// deliver commits the approved change to the task branch and opens a change
// request. A failed auto-merge leaves the request open and is not an error.
func (c *Controller) deliver(ctx context.Context, t *tasks.Task, plan *tasks.Plan, change *tasks.CodeChange, review *tasks.ReviewNotes, report *tasks.TestReport) (*forge.ChangeRequest, error) {
	slog.Info("deploying", "task_id", t.ID, "files", len(change.Files))
	t.Status = tasks.StatusDeploying
	if err := c.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist status: %w", err)
	}

	var filesChanged []string
	var lastSHA string
	for _, f := range change.Files {
		if c.guard != nil && c.guard.Protected(f.Path) {
			slog.Warn("skipping protected path", "task_id", t.ID, "path", f.Path)
			t.AppendLog(agents.AgentDeployer, "protected_path_skipped", map[string]any{"path": f.Path})
			continue
		}

		var sha string
		var err error
		if f.Action == "delete" {
			sha, err = c.forge.DeleteFile(ctx, f.Path, "chore: delete "+f.Path, t.BranchName)
		} else {
			sha, err = c.forge.WriteFile(ctx, f.Path, f.Content, commitMessage(change, t), t.BranchName)
		}
		if err != nil {
			return nil, fmt.Errorf("deliver %s: %w", f.Path, err)
		}
		lastSHA = sha
		filesChanged = append(filesChanged, f.Path)
	}

	t.CommitSHA = lastSHA
	t.FilesChanged = filesChanged
	if err := c.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist delivery: %w", err)
	}

	title := change.CommitMessage
	if title == "" {
		title = t.Title
	}
	cr, err := c.forge.OpenChangeRequest(ctx, forge.ChangeRequestSpec{
		Branch:        t.BranchName,
		Title:         "[agent] " + title,
		Body:          changeRequestBody(t, plan, review, report, filesChanged),
		AutoIntegrate: t.TrustLevel.AutoMerge(),
	})
	if err != nil {
		return nil, fmt.Errorf("open change request: %w", err)
	}

	t.PRNumber = cr.Number
	t.PRURL = cr.URL
	t.AppendLog(agents.AgentDeployer, "pr_created", map[string]any{
		"pr_number":   cr.Number,
		"pr_url":      cr.URL,
		"auto_merged": cr.Merged,
	})
	if err := c.store.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist change request: %w", err)
	}
	c.ledger(ctx, tasks.EventRecord{
		TaskID:        t.ID,
		Agent:         agents.AgentDeployer,
		Kind:          tasks.EventCompleted,
		OutputSummary: cr.URL,
	})
	c.publish(events.NewTypedEventWithTask(events.SourcePipeline, events.ChangeRequestPayload{
		TaskID: t.ID,
		Number: cr.Number,
		URL:    cr.URL,
		Merged: cr.Merged,
	}, t.ID))

	if cr.MergeError != "" {
		slog.Warn("auto-merge failed, change request left open",
			"task_id", t.ID, "number", cr.Number, "error", cr.MergeError)
	}
	return cr, nil
}

func (c *Controller) finish(ctx context.Context, t *tasks.Task, start time.Time, cr *forge.ChangeRequest) error {
	now := time.Now().UTC()
	t.Status = tasks.StatusDone
	t.CompletedAt = &now
	t.ActualDurationSeconds = int(time.Since(start).Seconds())
	if err := c.store.Update(ctx, t); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}

	c.publish(events.NewTypedEventWithTask(events.SourcePipeline, events.TaskDonePayload{
		TaskID:          t.ID,
		Title:           t.Title,
		DurationSeconds: t.ActualDurationSeconds,
		PRURL:           cr.URL,
		Merged:          cr.Merged,
	}, t.ID))

	slog.Info("task complete",
		"task_id", t.ID,
		"title", t.Title,
		"pr_url", cr.URL,
		"merged", cr.Merged,
		"files", len(t.FilesChanged),
		"duration_seconds", t.ActualDurationSeconds,
	)
	return nil
}

// fail parks the task in failed with the cause preserved. It runs on a
// detached context so a canceled shutdown context cannot leave the task
// in-flight.
func (c *Controller) fail(ctx context.Context, t *tasks.Task, start time.Time, cause error) {
	ctx = context.WithoutCancel(ctx)
	phase := string(t.Status)
	slog.Error("task failed", "task_id", t.ID, "phase", phase, "error", cause)

	now := time.Now().UTC()
	t.Status = tasks.StatusFailed
	t.ErrorMessage = cause.Error()
	t.CompletedAt = &now
	t.ActualDurationSeconds = int(time.Since(start).Seconds())
	if err := c.store.Update(ctx, t); err != nil {
		slog.Error("could not persist task failure", "task_id", t.ID, "error", err)
	}

	c.ledger(ctx, tasks.EventRecord{
		TaskID:        t.ID,
		Agent:         agents.AgentPipeline,
		Kind:          tasks.EventFailed,
		OutputSummary: cause.Error(),
	})
	c.publish(events.NewTypedEventWithTask(events.SourcePipeline, events.TaskFailedPayload{
		TaskID: t.ID,
		Title:  t.Title,
		Status: phase,
		Reason: cause.Error(),
	}, t.ID))
}

// repoStructure lists the configured context directories for the planner
// prompt. Without configured dirs it falls back to the repository's
// top-level entries. Listing failures degrade to a partial or empty
// listing.
func (c *Controller) repoStructure(ctx context.Context) string {
	var b strings.Builder
	if len(c.cfg.ContextDirs) == 0 {
		entries, err := c.forge.ListDirectory(ctx, "", "")
		if err != nil {
			slog.Warn("could not list repository root", "error", err)
			return ""
		}
		for _, e := range entries {
			b.WriteString(e)
			b.WriteByte('\n')
		}
		return b.String()
	}
	for _, dir := range c.cfg.ContextDirs {
		paths, err := c.forge.TreePaths(ctx, dir, "", 0)
		if err != nil {
			slog.Warn("could not list context directory", "dir", dir, "error", err)
			continue
		}
		for _, p := range paths {
			b.WriteString(p)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// gatherFiles reads the current content of every file the plan references,
// formatted for the coder prompt. Missing files are skipped: files_to_create
// do not exist yet, and an unreadable path should not sink the attempt.
func (c *Controller) gatherFiles(ctx context.Context, plan *tasks.Plan) string {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, path := range append(append([]string(nil), plan.FilesToRead...), plan.FilesToModify...) {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		content, found, err := c.forge.ReadFile(ctx, path, "")
		if err != nil {
			slog.Warn("could not read file for coder context", "path", path, "error", err)
			continue
		}
		if !found {
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", path, content)
	}
	return b.String()
}

// ledger appends to the immutable event ledger. Append failures are logged
// and swallowed.
func (c *Controller) ledger(ctx context.Context, rec tasks.EventRecord) {
	if err := c.store.LogEvent(ctx, rec); err != nil {
		slog.Error("could not append ledger event", "task_id", rec.TaskID, "agent", rec.Agent, "error", err)
	}
}

func (c *Controller) phaseEvent(t *tasks.Task, agent string, status events.PhaseStatus, attempt int, detail string) {
	c.publish(events.NewTypedEventWithTask(events.SourcePipeline, events.PhasePayload{
		TaskID:  t.ID,
		Agent:   agent,
		Status:  status,
		Attempt: attempt,
		Detail:  detail,
	}, t.ID))
}

func (c *Controller) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func usageRecord(taskID, agent string, kind tasks.EventKind, summary string, u agents.Usage) tasks.EventRecord {
	return tasks.EventRecord{
		TaskID:          taskID,
		Agent:           agent,
		Kind:            kind,
		OutputSummary:   summary,
		TokensUsed:      u.Tokens(),
		CostCents:       u.CostCents,
		DurationSeconds: int(u.Duration.Seconds()),
	}
}

// commitMessage falls back to a conventional message when the coder omitted
// one.
func commitMessage(change *tasks.CodeChange, t *tasks.Task) string {
	if change.CommitMessage != "" {
		return change.CommitMessage
	}
	return "feat: " + t.Title
}

func issuesJSON(issues []tasks.ReviewIssue) string {
	data, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func changeRequestBody(t *tasks.Task, plan *tasks.Plan, review *tasks.ReviewNotes, report *tasks.TestReport, files []string) string {
	summary := plan.Summary
	if summary == "" {
		summary = "No summary"
	}
	verdict := report.Verdict
	if verdict == "" {
		verdict = "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Task\n%s\n\n", t.Title)
	fmt.Fprintf(&b, "## Description\n%s\n\n", t.Description)
	fmt.Fprintf(&b, "## Plan\n%s\n\n", summary)
	b.WriteString("## Files Changed\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	b.WriteString("\n## Review\n")
	fmt.Fprintf(&b, "- Reviewer: **Approved** (confidence: %.2f)\n", review.Confidence)
	fmt.Fprintf(&b, "- Review attempts: %d\n", t.ReviewAttempts)
	fmt.Fprintf(&b, "- Tester: **%s**\n", verdict)
	b.WriteString("\n---\n*Automated by foundry*\n")
	return b.String()
}
