package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foundry/internal/config"
)

// NewInitCommand returns the onboarding subcommand.
func NewInitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Initialize the Foundry home directory (~/.foundry)",
		Action: runInit,
	}
}

func runInit(_ context.Context, _ *cli.Command) error {
	root := config.FoundryPath()
	created := false

	if _, err := os.Stat(root); err != nil {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", root, err)
		}
		fmt.Printf("  Created %s\n", root)
		created = true
	}

	// Write default config if missing.
	configPath := config.ConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("  Created %s\n", configPath)
		created = true
	}

	// Write default .env if missing.
	dotenvPath := config.DotenvPath()
	if _, err := os.Stat(dotenvPath); err != nil {
		if err := os.WriteFile(dotenvPath, []byte(defaultDotenv), 0o600); err != nil {
			return fmt.Errorf("write .env: %w", err)
		}
		fmt.Printf("  Created %s\n", dotenvPath)
		created = true
	}

	if !created {
		fmt.Printf("Already initialized, %s is complete. Nothing to do.\n", root)
		return nil
	}

	fmt.Printf(`
  Foundry home set up at %s

  Next steps:
    1. Drop your API key and GitHub token in %s/.env
    2. Point "forge" at your repository in %s/config.jsonc
    3. Run: foundry run

  Queue something with: foundry enqueue "Fix the flaky login test"
`, root, root, root)
	return nil
}

const defaultConfig = `{
	// Foundry configuration
	// Docs: https://github.com/dohr-michael/foundry

	"intake": {
		"host": "127.0.0.1",
		"port": 8080
		// Require a Bearer token on /api routes:
		// "secret": "${{ .Env.FOUNDRY_INTAKE_SECRET }}"
	},

	"budget": {
		// Daily spend ceiling. The worker stops claiming new tasks once crossed.
		"daily_ceiling_cents": 1500
	},

	"models": {
		"default": "claude",
		"providers": {
			"claude": {
				"driver": "anthropic",
				"model": "claude-sonnet-4-20250514",
				"auth": {
					"api_key": "${{ .Env.ANTHROPIC_API_KEY }}"
				}
			}

			// Local model via Ollama (no auth required)
			// "local": {
			// 	"driver": "ollama",
			// 	"model": "qwen2.5-coder:14b",
			// 	"base_url": "http://localhost:11434"
			// }
		}
	},

	"forge": {
		"owner": "you",
		"repo": "your-repo",
		"token": "${{ .Env.GITHUB_TOKEN }}",
		"base_branch": "main"
	},

	"pipeline": {
		"poll_interval": "30s",
		"max_review_cycles": 3,
		"protected_paths": [".github/**"]
	},

	"digest": {
		"enabled": false,
		"schedule": "0 9 * * *"
	}
}
`

const defaultDotenv = `# Foundry environment variables
# This file is loaded automatically. Existing env vars are never overridden.

# ANTHROPIC_API_KEY=sk-ant-...
# GITHUB_TOKEN=ghp_...
`
