package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/foundry/internal/config"
	"github.com/dohr-michael/foundry/internal/tasks"
)

// taskSpec is the YAML shape accepted by --file. The fields mirror the inbox
// drop file format.
type taskSpec struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Context     string `yaml:"context"`
	Priority    string `yaml:"priority"`
	TrustLevel  string `yaml:"trust_level"`
}

// NewEnqueueCommand returns the enqueue subcommand.
func NewEnqueueCommand() *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "Queue a task for the pipeline",
		ArgsUsage: "<title>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Read the task spec from a YAML file instead of flags",
			},
			&cli.StringFlag{
				Name:    "description",
				Aliases: []string{"d"},
				Usage:   "What the coder should build",
			},
			&cli.StringFlag{
				Name:    "priority",
				Aliases: []string{"p"},
				Usage:   "urgent, high, medium or low (default: medium)",
			},
			&cli.StringFlag{
				Name:  "trust",
				Usage: "full_auto, preview_only or plan_only (default: full_auto)",
			},
			&cli.StringFlag{
				Name:  "context",
				Usage: "Extra context for the planner",
			},
		},
		Action: runEnqueue,
	}
}

func runEnqueue(ctx context.Context, cmd *cli.Command) error {
	spec := taskSpec{
		Title:       cmd.Args().First(),
		Description: cmd.String("description"),
		Context:     cmd.String("context"),
		Priority:    cmd.String("priority"),
		TrustLevel:  cmd.String("trust"),
	}

	if path := cmd.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read spec file: %w", err)
		}
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("parse spec file: %w", err)
		}
	}

	if spec.Title == "" {
		return fmt.Errorf("usage: foundry enqueue <title> [flags], or foundry enqueue -f spec.yaml")
	}

	cfg := loadConfig(cmd)
	store, err := tasks.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	t := &tasks.Task{
		Title:       spec.Title,
		Description: spec.Description,
		Context:     spec.Context,
		Priority:    tasks.TaskPriority(spec.Priority),
		TrustLevel:  tasks.TrustLevel(spec.TrustLevel),
	}
	if err := store.Enqueue(ctx, t); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	fmt.Printf("Queued %s (%s, %s)\n", t.ID, t.Priority, t.TrustLevel)
	fmt.Println("The next poll cycle will pick it up.")
	return nil
}

// loadConfig loads the config file named by --config, falling back to
// defaults so read-only commands work before `foundry init`.
func loadConfig(cmd *cli.Command) *config.Config {
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Default()
	}
	return cfg
}
