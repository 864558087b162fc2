package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/foundry/internal/config"
	"github.com/dohr-michael/foundry/internal/secrets"
)

// NewSecretsCommand returns the secrets subcommand.
func NewSecretsCommand() *cli.Command {
	return &cli.Command{
		Name:  "secrets",
		Usage: "Manage encrypted credentials",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Generate the age key used to encrypt values",
				Action: runSecretsInit,
			},
			{
				Name:      "set",
				Usage:     "Prompt for a value, encrypt it and store it in .env",
				ArgsUsage: "<NAME>",
				Action:    runSecretsSet,
			},
			{
				Name:      "unset",
				Usage:     "Remove an entry from .env",
				ArgsUsage: "<NAME>",
				Action:    runSecretsUnset,
			},
		},
	}
}

func runSecretsInit(_ context.Context, _ *cli.Command) error {
	path := config.KeyPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Key already exists at %s\n", path)
		return nil
	}

	if err := secrets.Generate(path); err != nil {
		return err
	}
	fmt.Printf("Key written to %s\n", path)

	if ring, err := secrets.Open(path); err == nil {
		fmt.Printf("Public key: %s\n", ring.PublicKey())
	}
	return nil
}

func runSecretsSet(_ context.Context, cmd *cli.Command) error {
	name := strings.TrimSpace(cmd.Args().First())
	if name == "" {
		return fmt.Errorf("usage: foundry secrets set <NAME>")
	}

	ring, err := secrets.Open(config.KeyPath())
	if err != nil {
		return fmt.Errorf("load key (run `foundry secrets init` first): %w", err)
	}

	fmt.Printf("Value for %s: ", name)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read value: %w", err)
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return fmt.Errorf("empty value, nothing written")
	}

	blob, err := ring.Encrypt(value)
	if err != nil {
		return err
	}
	if err := secrets.SetEntry(config.DotenvPath(), name, blob); err != nil {
		return fmt.Errorf("write .env: %w", err)
	}

	fmt.Printf("%s stored encrypted in %s\n", name, config.DotenvPath())
	fmt.Println("A running worker picks it up on SIGHUP.")
	return nil
}

func runSecretsUnset(_ context.Context, cmd *cli.Command) error {
	name := strings.TrimSpace(cmd.Args().First())
	if name == "" {
		return fmt.Errorf("usage: foundry secrets unset <NAME>")
	}

	if err := secrets.RemoveEntry(config.DotenvPath(), name); err != nil {
		return fmt.Errorf("update .env: %w", err)
	}
	fmt.Printf("%s removed from %s\n", name, config.DotenvPath())
	return nil
}
