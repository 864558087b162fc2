package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foundry/internal/agents"
	"github.com/dohr-michael/foundry/internal/budget"
	"github.com/dohr-michael/foundry/internal/config"
	"github.com/dohr-michael/foundry/internal/daemon"
	"github.com/dohr-michael/foundry/internal/events"
	"github.com/dohr-michael/foundry/internal/forge"
	"github.com/dohr-michael/foundry/internal/heartbeat"
	"github.com/dohr-michael/foundry/internal/inbox"
	"github.com/dohr-michael/foundry/internal/intake"
	"github.com/dohr-michael/foundry/internal/models"
	"github.com/dohr-michael/foundry/internal/pipeline"
	"github.com/dohr-michael/foundry/internal/tasks"
)

// NewRunCommand returns the worker subcommand.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the worker: poll the queue and drive tasks through the pipeline",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Process at most one task, then exit",
			},
			&cli.StringFlag{
				Name:  "task",
				Usage: "Requeue and run one specific task, then exit",
			},
		},
		Action: runRun,
	}
}

func runRun(ctx context.Context, cmd *cli.Command) error {
	// Setup debug logging
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	// Load config
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}
	if !cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Events.LogLevel)})))
	}

	// Task store
	store, err := tasks.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Model registry
	registry := models.NewRegistry(cfg.Models)
	chatModel, err := registry.Default(ctx)
	if err != nil {
		return fmt.Errorf("init default model: %w", err)
	}
	providerName := registry.DefaultName()
	modelName := registry.ModelName(providerName)

	// Forge is required; the pipeline cannot deliver without one.
	fc, err := forge.NewGitHub(ctx, cfg.Forge)
	if err != nil {
		return fmt.Errorf("init forge: %w", err)
	}

	// Live config: the budget ceiling is read through the reloader so a
	// SIGHUP takes effect on the next claim.
	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	gate := budget.NewDynamicGate(store, func() int {
		return reloader.Current().Budget.DailyCeilingCents
	})

	// Pipeline controller, rebuilt from scratch on each reload so pricing,
	// token limits and the primer follow the config file.
	buildController := func(c *config.Config) *pipeline.Controller {
		client := agents.NewModelClient(chatModel, c.Pipeline.CompletionTimeout.Duration())
		exec := agents.NewExecutor(client, agents.ExecutorConfig{
			Pricing: agents.Pricing{
				InputCentsPerMtok:  c.Budget.InputCentsPerMtok,
				OutputCentsPerMtok: c.Budget.OutputCentsPerMtok,
			},
			Limits:   c.Pipeline.MaxTokens,
			Provider: providerName,
			Model:    modelName,
			Primer:   loadPrimer(c.Pipeline.ProjectPrimer),
		}, bus)
		return pipeline.New(pipeline.Config{
			MaxReviewCycles: c.Pipeline.MaxReviewCycles,
			BranchPrefix:    c.Pipeline.BranchPrefix,
			ContextDirs:     c.Pipeline.ContextDirs,
		}, pipeline.Deps{
			Store: store,
			Exec:  exec,
			Forge: fc,
			Gate:  gate,
			Guard: forge.NewPathGuard(c.Pipeline.ProtectedPaths),
			Bus:   bus,
		})
	}
	runner := newSwappableRunner(buildController(cfg))

	ing := inbox.NewIngestor(fc, store, cfg.Inbox.Path, bus)
	hb := heartbeat.NewWriter(config.HeartbeatPath())

	worker := daemon.New(daemon.Config{PollInterval: cfg.Pipeline.PollInterval.Duration()}, daemon.Deps{
		Store:    store,
		Runner:   runner,
		Gate:     gate,
		Ingestor: ing,
		Hooks:    daemon.NewHooks(cfg.Hooks),
		Presence: hb,
		Bus:      bus,
	})

	// One-shot modes skip the intake server, heartbeat and reload loop.
	if id := cmd.String("task"); id != "" {
		return worker.RunTask(ctx, id)
	}
	if cmd.Bool("once") {
		recovered, err := tasks.RecoverTasks(ctx, store)
		if err != nil {
			return fmt.Errorf("recover in-flight tasks: %w", err)
		}
		if recovered > 0 {
			slog.Info("requeued tasks from interrupted run", "count", recovered)
		}
		if _, err := ing.Ingest(ctx); err != nil {
			slog.Warn("inbox check failed", "error", err)
		}
		processed, err := worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !processed {
			slog.Info("nothing to do")
		}
		return nil
	}

	reloader.Watch(func(next *config.Config) {
		runner.swap(buildController(next))
		worker.SetInterval(next.Pipeline.PollInterval.Duration())
	})

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := reloader.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			}
		}
	}()

	hb.Start()
	defer hb.Stop()

	if cfg.Digest.Enabled {
		digest, err := daemon.NewDigest(store, bus, cfg.Digest.Schedule)
		if err != nil {
			return fmt.Errorf("init digest: %w", err)
		}
		go digest.Run(ctx)
	}

	// Intake server
	srv := intake.NewServer(cfg.Intake, store, gate, bus)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- worker.Run(ctx)
	}()

	// Wait for signal or error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		if err := <-workerErr; err != nil {
			slog.Error("worker stopped with error", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-srvErr:
		return fmt.Errorf("intake server: %w", err)
	case err := <-workerErr:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			slog.Warn("intake shutdown failed", "error", serr)
		}
		return err
	}
}

// swappableRunner lets a config reload swap in a rebuilt pipeline while the
// daemon keeps one stable reference. An in-flight task finishes on the
// controller it started with.
type swappableRunner struct {
	ctl atomic.Pointer[pipeline.Controller]
}

func newSwappableRunner(c *pipeline.Controller) *swappableRunner {
	r := &swappableRunner{}
	r.ctl.Store(c)
	return r
}

func (r *swappableRunner) swap(c *pipeline.Controller) { r.ctl.Store(c) }

func (r *swappableRunner) Run(ctx context.Context, t *tasks.Task) error {
	return r.ctl.Load().Run(ctx, t)
}

// loadPrimer reads the project primer document. A missing file is not fatal;
// the planner just runs without project context.
func loadPrimer(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("project primer not readable", "path", path, "error", err)
		return ""
	}
	return string(data)
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
