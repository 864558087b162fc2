package commands

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foundry/clients/tui"
	"github.com/dohr-michael/foundry/clients/watch"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow the live event stream in a dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Intake websocket URL (default: built from config)",
			},
			&cli.StringFlag{
				Name:  "secret",
				Usage: "Bearer secret (default: from config)",
			},
		},
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)

	url := cmd.String("url")
	if url == "" {
		url = fmt.Sprintf("ws://%s:%d/api/events/ws", cfg.Intake.Host, cfg.Intake.Port)
	}
	secret := cfg.Intake.Secret
	if cmd.IsSet("secret") {
		secret = cmd.String("secret")
	}

	client, err := watch.Dial(ctx, url, secret)
	if err != nil {
		return fmt.Errorf("connect to intake: %w", err)
	}
	defer client.Close()

	p := tea.NewProgram(tui.NewApp(url), tea.WithAltScreen())

	// Frames are pumped into the program from outside; the model itself
	// never blocks on the socket.
	go func() {
		p.Send(tui.ConnectedMsg{URL: url})
		for {
			frame, err := client.Next()
			if err != nil {
				p.Send(tui.DisconnectedMsg{Err: err})
				return
			}
			p.Send(tui.EventMsg{Frame: frame})
		}
	}()

	_, err = p.Run()
	return err
}
