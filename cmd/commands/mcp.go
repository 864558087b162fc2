package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foundry/internal/budget"
	"github.com/dohr-michael/foundry/internal/config"
	foundrymcp "github.com/dohr-michael/foundry/internal/mcp"
	"github.com/dohr-michael/foundry/internal/tasks"
)

// NewMCPCommand returns the mcp subcommand.
func NewMCPCommand() *cli.Command {
	return &cli.Command{
		Name:   "mcp",
		Usage:  "Expose the task queue as an MCP server (stdio)",
		Action: runMCP,
	}
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	// Setup logging to stderr (stdout is used for the MCP stdio transport)
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Debug("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	store, err := tasks.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	gate := budget.NewGate(store, cfg.Budget.DailyCeilingCents)

	server := foundrymcp.NewServer(store, gate)
	return server.Run(ctx)
}
