// Package daemon runs the long-lived worker loop: it ingests inbox
// submissions, claims queued tasks one at a time, and drives each through
// the pipeline until the queue drains or the budget closes.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/dohr-michael/foundry/internal/budget"
	"github.com/dohr-michael/foundry/internal/events"
	"github.com/dohr-michael/foundry/internal/tasks"
)

const defaultPollInterval = 30 * time.Second

// TaskRunner drives one claimed task through the pipeline phases.
type TaskRunner interface {
	Run(ctx context.Context, t *tasks.Task) error
}

// Ingestor pulls task submissions from the repository drop file.
type Ingestor interface {
	Ingest(ctx context.Context) (int, error)
}

// Presence mirrors the daemon's current task into the heartbeat file.
type Presence interface {
	SetTask(id string)
}

// Config holds daemon tuning knobs.
type Config struct {
	PollInterval time.Duration
}

// Deps bundles the daemon's collaborators. Ingestor, Hooks, Presence and
// Bus may be nil; Store, Runner and Gate are required.
type Deps struct {
	Store    tasks.Store
	Runner   TaskRunner
	Gate     *budget.Gate
	Ingestor Ingestor
	Hooks    *Hooks
	Presence Presence
	Bus      *events.Bus
}

// Daemon owns the poll loop.
type Daemon struct {
	store    tasks.Store
	runner   TaskRunner
	gate     *budget.Gate
	ingestor Ingestor
	hooks    *Hooks
	presence Presence
	bus      *events.Bus
	interval atomic.Int64 // poll interval in nanoseconds
}

func New(cfg Config, deps Deps) *Daemon {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	d := &Daemon{
		store:    deps.Store,
		runner:   deps.Runner,
		gate:     deps.Gate,
		ingestor: deps.Ingestor,
		hooks:    deps.Hooks,
		presence: deps.Presence,
		bus:      deps.Bus,
	}
	d.interval.Store(int64(interval))
	return d
}

// SetInterval changes the poll interval. It takes effect on the next idle
// wait, so a config reload never interrupts a running task.
func (d *Daemon) SetInterval(v time.Duration) {
	if v > 0 {
		d.interval.Store(int64(v))
	}
}

func (d *Daemon) pollInterval() time.Duration {
	return time.Duration(d.interval.Load())
}

// Run requeues tasks stranded by a previous crash, then polls until ctx is
// canceled. After a task runs to completion the next claim happens
// immediately, so a full queue drains without waiting out the interval.
// Cancellation is a clean shutdown and returns nil.
func (d *Daemon) Run(ctx context.Context) error {
	recovered, err := tasks.RecoverTasks(ctx, d.store)
	if err != nil {
		return fmt.Errorf("recover in-flight tasks: %w", err)
	}
	if recovered > 0 {
		slog.Info("requeued tasks from interrupted run", "count", recovered)
	}
	slog.Info("daemon started", "poll_interval", d.pollInterval(), "budget_cents", d.gate.Ceiling())

	for {
		processed := d.cycle(ctx)
		if ctx.Err() != nil {
			slog.Info("daemon stopped")
			return nil
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			slog.Info("daemon stopped")
			return nil
		case <-time.After(d.pollInterval()):
		}
	}
}

// cycle runs one poll iteration. A panic is contained so one poisoned task
// cannot take down the loop.
func (d *Daemon) cycle(ctx context.Context) (processed bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("poll cycle panicked", "panic", r, "stack", string(debug.Stack()))
			processed = false
		}
	}()

	if d.ingestor != nil {
		if _, err := d.ingestor.Ingest(ctx); err != nil {
			slog.Warn("inbox check failed", "error", err)
		}
	}

	var err error
	processed, err = d.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		slog.Error("poll cycle error", "error", err)
	}
	return processed
}

// RunOnce claims and runs at most one task. It reports whether a task ran
// to completion. A pipeline failure is recorded on the task itself and
// surfaces here as (false, nil); the error return is reserved for budget
// and storage probes.
func (d *Daemon) RunOnce(ctx context.Context) (bool, error) {
	open, spent, err := d.gate.Allow(ctx)
	if err != nil {
		return false, fmt.Errorf("budget check: %w", err)
	}
	if !open {
		slog.Debug("budget closed, skipping claim", "spent_cents", spent)
		return false, nil
	}

	t, err := d.store.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("claim next task: %w", err)
	}
	if t == nil {
		return false, nil
	}

	d.publishClaimed(t)
	err = d.runTask(ctx, t)
	d.notify(ctx, t)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// RunTask requeues one specific task and runs it straight away, whatever
// state it was left in.
func (d *Daemon) RunTask(ctx context.Context, id string) error {
	if err := d.store.Requeue(ctx, id); err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	t, err := d.store.ClaimByID(ctx, id)
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	if t == nil {
		return fmt.Errorf("task %s is not claimable", id)
	}
	d.publishClaimed(t)
	err = d.runTask(ctx, t)
	d.notify(ctx, t)
	return err
}

// runTask wraps the pipeline run with heartbeat presence.
func (d *Daemon) runTask(ctx context.Context, t *tasks.Task) error {
	if d.presence != nil {
		d.presence.SetTask(t.ID)
		defer d.presence.SetTask("")
	}
	return d.runner.Run(ctx, t)
}

func (d *Daemon) publishClaimed(t *tasks.Task) {
	slog.Info("claimed task", "task_id", t.ID, "title", t.Title, "priority", t.Priority)
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.NewTypedEventWithTask(events.SourceDaemon, events.TaskClaimedPayload{
		TaskID:   t.ID,
		Title:    t.Title,
		Priority: string(t.Priority),
	}, t.ID))
}

// notify fires the terminal-state hook. Shutdown must not suppress it, so
// the hook runs on an uncancelable context with its own timeout.
func (d *Daemon) notify(ctx context.Context, t *tasks.Task) {
	if d.hooks == nil || !t.Status.Terminal() {
		return
	}
	d.hooks.Notify(context.WithoutCancel(ctx), t)
}
