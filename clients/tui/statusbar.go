package tui

import "fmt"

// StatusBar summarizes the stream at the bottom of the screen.
type StatusBar struct {
	url        string
	connected  bool
	connErr    error
	queued     int
	done       int
	failed     int
	spentCents int
	width      int
}

// NewStatusBar creates the bar pointed at url.
func NewStatusBar(url string) StatusBar {
	return StatusBar{url: url}
}

// SetConnected updates the connection state.
func (s *StatusBar) SetConnected(connected bool, err error) {
	s.connected = connected
	s.connErr = err
}

// SetWidth updates the rendering width.
func (s *StatusBar) SetWidth(w int) { s.width = w }

// Observe updates the counters from a frame.
func (s *StatusBar) Observe(event string, payload map[string]any) {
	switch event {
	case "task.queued":
		s.queued++
	case "task.done":
		s.done++
	case "task.failed":
		s.failed++
	case "internal.llm.call":
		s.spentCents += intField(payload, "cost_cents")
	}
}

// View renders the status bar.
func (s StatusBar) View() string {
	connStatus := "connected"
	if !s.connected {
		connStatus = "disconnected"
		if s.connErr != nil {
			connStatus = fmt.Sprintf("disconnected (%v)", s.connErr)
		}
	}

	bar := fmt.Sprintf(" %s | %s | %d queued / %d done / %d failed | spent %s ",
		s.url, connStatus, s.queued, s.done, s.failed, formatCents(s.spentCents))
	return StatusBarStyle.Width(s.width).Render(bar)
}

func formatCents(cents int) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
