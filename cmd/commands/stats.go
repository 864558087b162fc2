package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foundry/internal/tasks"
)

// NewStatsCommand returns the stats subcommand.
func NewStatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show today's queue outcomes and spend",
		Action: runStats,
	}
}

func runStats(ctx context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)

	store, err := tasks.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	stats, err := store.DailyStats(ctx)
	if err != nil {
		return fmt.Errorf("daily stats: %w", err)
	}
	spent, err := store.DailyCost(ctx)
	if err != nil {
		return fmt.Errorf("daily cost: %w", err)
	}
	ceiling := cfg.Budget.DailyCeilingCents

	fmt.Printf("Today (%s UTC)\n", time.Now().UTC().Format("2006-01-02"))
	fmt.Printf("  Done:        %d\n", stats.Done)
	fmt.Printf("  Failed:      %d\n", stats.Failed)
	fmt.Printf("  Queued:      %d\n", stats.Queued)
	fmt.Printf("  In progress: %d\n", stats.InProgress)
	if stats.TotalSeconds > 0 {
		fmt.Printf("  Agent time:  %s\n", time.Duration(stats.TotalSeconds)*time.Second)
	}
	fmt.Printf("  Spend:       $%d.%02d of $%d.%02d", spent/100, spent%100, ceiling/100, ceiling%100)
	if spent >= ceiling {
		fmt.Print(" (budget closed)")
	}
	fmt.Println()
	return nil
}
