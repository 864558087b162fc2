package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/dohr-michael/foundry/internal/config"
	"github.com/dohr-michael/foundry/internal/tasks"
)

const hookTimeout = 30 * time.Second

// Hooks runs configured shell snippets when a task reaches a terminal
// status. Snippets execute in an embedded POSIX shell, so they work the
// same on hosts without /bin/sh.
type Hooks struct {
	onDone   string
	onFailed string
	stdout   io.Writer
	stderr   io.Writer
}

func NewHooks(cfg config.HooksConfig) *Hooks {
	return &Hooks{
		onDone:   cfg.OnTaskDone,
		onFailed: cfg.OnTaskFailed,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// Notify runs the hook matching the task's terminal status. Hook failures
// are logged, never propagated.
func (h *Hooks) Notify(ctx context.Context, t *tasks.Task) {
	var script string
	switch t.Status {
	case tasks.StatusDone:
		script = h.onDone
	case tasks.StatusFailed:
		script = h.onFailed
	}
	if script == "" {
		return
	}
	if err := h.run(ctx, script, t); err != nil {
		slog.Warn("notify hook failed", "task_id", t.ID, "status", t.Status, "error", err)
		return
	}
	slog.Debug("notify hook ran", "task_id", t.ID, "status", t.Status)
}

func (h *Hooks) run(ctx context.Context, script string, t *tasks.Task) error {
	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	file, err := syntax.NewParser().Parse(strings.NewReader(script), "hook")
	if err != nil {
		return fmt.Errorf("parse hook script: %w", err)
	}

	env := append(os.Environ(),
		"FOUNDRY_TASK_ID="+t.ID,
		"FOUNDRY_TASK_TITLE="+t.Title,
		"FOUNDRY_TASK_STATUS="+string(t.Status),
		"FOUNDRY_TASK_BRANCH="+t.BranchName,
		"FOUNDRY_TASK_PR_URL="+t.PRURL,
		"FOUNDRY_TASK_ERROR="+t.ErrorMessage,
	)
	runner, err := interp.New(
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, h.stdout, h.stderr),
	)
	if err != nil {
		return fmt.Errorf("hook interpreter: %w", err)
	}
	return runner.Run(ctx, file)
}
