package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/foundry/internal/config"
	"github.com/dohr-michael/foundry/internal/events"
	"github.com/dohr-michael/foundry/internal/tasks"
)

// ServiceError marks a transport or provider failure during a phase call, as
// opposed to the model returning something unusable.
type ServiceError struct {
	Agent string
	Err   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s completion failed: %v", e.Agent, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ExecutorConfig carries the accounting and labelling knobs for phase calls.
// Primer is the project context document, loaded once at startup.
type ExecutorConfig struct {
	Pricing  Pricing
	Limits   config.PhaseTokensConfig
	Provider string
	Model    string
	Primer   string
}

// Executor makes exactly one completion call per phase, converts token usage
// to cents, and parses the model's JSON into the phase artifact. Malformed
// output never surfaces as an error; each parse function substitutes the
// phase's safe default and keeps the raw text.
type Executor struct {
	client CompletionClient
	cfg    ExecutorConfig
	bus    *events.Bus
}

// NewExecutor creates a phase executor. bus may be nil in tests.
func NewExecutor(client CompletionClient, cfg ExecutorConfig, bus *events.Bus) *Executor {
	return &Executor{client: client, cfg: cfg, bus: bus}
}

// RunPlanner turns a task description into an implementation plan.
func (e *Executor) RunPlanner(ctx context.Context, t *tasks.Task, repoStructure string) (PlanResult, Usage, error) {
	content := BuildPlannerContent(e.cfg.Primer, repoStructure, t)
	comp, usage, err := e.complete(ctx, t, AgentPlanner, plannerInstructions, content, e.cfg.Limits.Planner)
	if err != nil {
		return PlanResult{}, usage, err
	}
	res := parsePlan(comp.Text)
	if !res.Parsed {
		slog.Warn("planner output was not valid JSON", "task_id", t.ID)
	}
	return res, usage, nil
}

// RunCoder implements the plan as full file contents. feedback carries the
// reviewer's issues on attempts after the first.
func (e *Executor) RunCoder(ctx context.Context, t *tasks.Task, plan *tasks.Plan, fileContents, feedback string) (CodeResult, Usage, error) {
	content := BuildCoderContent(e.cfg.Primer, plan, fileContents, feedback, t)
	comp, usage, err := e.complete(ctx, t, AgentCoder, coderInstructions, content, e.cfg.Limits.Coder)
	if err != nil {
		return CodeResult{}, usage, err
	}
	res := parseCode(comp.Text)
	if !res.Parsed {
		slog.Warn("coder output was not valid JSON", "task_id", t.ID)
	}
	return res, usage, nil
}

// RunReviewer judges a code change against the task, plan and primer.
func (e *Executor) RunReviewer(ctx context.Context, t *tasks.Task, plan *tasks.Plan, change *tasks.CodeChange, attempt int) (ReviewResult, Usage, error) {
	content := BuildReviewerContent(e.cfg.Primer, t, plan, change, attempt)
	comp, usage, err := e.complete(ctx, t, AgentReviewer, reviewerInstructions, content, e.cfg.Limits.Reviewer)
	if err != nil {
		return ReviewResult{}, usage, err
	}
	res := parseReview(comp.Text)
	if !res.Parsed {
		slog.Warn("reviewer output was not valid JSON, approving at low confidence", "task_id", t.ID)
	}
	return res, usage, nil
}

// RunTester statically evaluates whether the change is likely to build.
func (e *Executor) RunTester(ctx context.Context, t *tasks.Task, change *tasks.CodeChange) (TestResult, Usage, error) {
	content := BuildTesterContent(t, change)
	comp, usage, err := e.complete(ctx, t, AgentTester, testerInstructions, content, e.cfg.Limits.Tester)
	if err != nil {
		return TestResult{}, usage, err
	}
	res := parseTest(comp.Text)
	if !res.Parsed {
		slog.Warn("tester output was not valid JSON, recording warning verdict", "task_id", t.ID)
	}
	return res, usage, nil
}

func (e *Executor) complete(ctx context.Context, t *tasks.Task, agent, instructions, content string, maxTokens int) (Completion, Usage, error) {
	start := time.Now()
	comp, err := e.client.Complete(ctx, instructions, content, maxTokens)
	elapsed := time.Since(start)

	if err != nil {
		e.publishCall(t, agent, Usage{Duration: elapsed}, err)
		return Completion{}, Usage{Duration: elapsed}, &ServiceError{Agent: agent, Err: err}
	}

	usage := Usage{
		InputTokens:  comp.InputTokens,
		OutputTokens: comp.OutputTokens,
		CostCents:    e.cfg.Pricing.Cost(comp.InputTokens, comp.OutputTokens),
		Duration:     elapsed,
	}

	slog.Info("completion call",
		"agent", agent,
		"task_id", t.ID,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cost_cents", usage.CostCents,
		"duration", elapsed.Round(time.Millisecond),
	)

	e.publishCall(t, agent, usage, nil)
	return comp, usage, nil
}

func (e *Executor) publishCall(t *tasks.Task, agent string, usage Usage, err error) {
	if e.bus == nil {
		return
	}
	payload := events.LLMCallPayload{
		Agent:        agent,
		Model:        e.cfg.Model,
		Provider:     e.cfg.Provider,
		TokensInput:  usage.InputTokens,
		TokensOutput: usage.OutputTokens,
		CostCents:    usage.CostCents,
		Duration:     usage.Duration,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	e.bus.Publish(events.NewTypedEventWithTask(events.SourcePipeline, payload, t.ID))
}
