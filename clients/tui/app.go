package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// App is the root bubbletea model for the watch dashboard.
// Layout: FEED | STATUS BAR.
type App struct {
	feed   Feed
	status StatusBar

	width    int
	height   int
	quitting bool
}

// NewApp creates the root model for a stream served at url.
func NewApp(url string) App {
	return App{
		feed:   NewFeed(80, 20),
		status: NewStatusBar(url),
	}
}

// Init does nothing; frames arrive via Program.Send.
func (a App) Init() tea.Cmd {
	return nil
}

// Update processes all incoming messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		feedHeight := a.height - 1
		if feedHeight < 1 {
			feedHeight = 1
		}
		a.feed.SetSize(a.width, feedHeight)
		a.status.SetWidth(a.width)
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			a.quitting = true
			return a, tea.Quit
		case "pgup":
			a.feed.PageUp()
			return a, nil
		case "pgdown":
			a.feed.PageDown()
			return a, nil
		}
		return a, nil

	case EventMsg:
		a.status.Observe(msg.Frame.Event, msg.Frame.Payload)
		a.feed.Append(renderFrame(time.Now(), msg.Frame))
		return a, nil

	case ConnectedMsg:
		a.status.SetConnected(true, nil)
		a.feed.Append(MutedStyle.Render(fmt.Sprintf("watching %s", msg.URL)))
		return a, nil

	case DisconnectedMsg:
		a.status.SetConnected(false, msg.Err)
		a.feed.Append(ErrorStyle.Render("stream disconnected"))
		return a, nil
	}

	// Pass through to the feed viewport.
	var cmd tea.Cmd
	a.feed, cmd = a.feed.Update(msg)
	return a, cmd
}

// View renders the full dashboard.
func (a App) View() string {
	if a.quitting {
		return ""
	}
	return a.feed.View() + "\n" + a.status.View()
}
