package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foundry/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "foundry",
		Usage: "Autonomous coding pipeline: queue tasks, let agents plan, code, review and ship them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewInitCommand(),
			NewRunCommand(),
			NewEnqueueCommand(),
			NewTasksCommand(),
			NewStatsCommand(),
			NewStatusCommand(),
			NewWatchCommand(),
			NewSecretsCommand(),
			NewMCPCommand(),
		},
	}
}
