package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foundry/internal/config"
	"github.com/dohr-michael/foundry/internal/heartbeat"
	"github.com/dohr-michael/foundry/internal/tasks"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show whether the worker is running and how deep the queue is",
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	status, hb, err := heartbeat.Check(config.HeartbeatPath(), 2*time.Minute)
	if err != nil {
		return fmt.Errorf("check heartbeat: %w", err)
	}

	switch status {
	case heartbeat.StatusAlive:
		fmt.Printf("Worker: ALIVE (PID %d, uptime %s)\n", hb.PID, hb.Uptime)
		if hb.CurrentTask != "" {
			fmt.Printf("Working on: %s\n", hb.CurrentTask)
		} else {
			fmt.Println("Idle, waiting for tasks.")
		}
	case heartbeat.StatusStale:
		fmt.Printf("Worker: STALE (PID %d, last heartbeat %s ago)\n",
			hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
	case heartbeat.StatusDead:
		fmt.Println("Worker: NOT RUNNING")
	}

	cfg := loadConfig(cmd)
	store, err := tasks.Open(cfg.Store.Path)
	if err != nil {
		// No store yet just means the worker never ran on this machine.
		fmt.Printf("Queue: unavailable (%v)\n", err)
		return nil
	}
	defer store.Close()

	queued, err := store.List(ctx, tasks.ListFilter{Status: tasks.StatusQueued})
	if err != nil {
		return fmt.Errorf("count queue: %w", err)
	}
	fmt.Printf("Queue: %d waiting\n", len(queued))
	return nil
}
