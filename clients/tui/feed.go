package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Older lines fall off so an overnight watch does not grow without bound.
const maxFeedLines = 500

// Feed is the scrollable event history.
type Feed struct {
	viewport viewport.Model
	lines    []string
}

// NewFeed creates the feed viewport.
func NewFeed(width, height int) Feed {
	vp := viewport.New(width, height)
	vp.SetContent("")
	// Scroll is handled explicitly via PageUp/PageDown in the app model.
	vp.KeyMap = viewport.KeyMap{}
	vp.MouseWheelEnabled = false
	return Feed{viewport: vp}
}

// SetSize updates the viewport dimensions.
func (f *Feed) SetSize(width, height int) {
	f.viewport.Width = width
	f.viewport.Height = height
	f.refresh()
}

// Append adds a rendered line and scrolls to the bottom.
func (f *Feed) Append(line string) {
	f.lines = append(f.lines, line)
	if len(f.lines) > maxFeedLines {
		f.lines = f.lines[len(f.lines)-maxFeedLines:]
	}
	f.refresh()
}

// PageUp scrolls up by one page.
func (f *Feed) PageUp() {
	f.viewport.PageUp()
}

// PageDown scrolls down by one page.
func (f *Feed) PageDown() {
	f.viewport.PageDown()
}

func (f *Feed) refresh() {
	f.viewport.SetContent(strings.Join(f.lines, "\n"))
	f.viewport.GotoBottom()
}

// Update handles viewport messages.
func (f Feed) Update(msg tea.Msg) (Feed, tea.Cmd) {
	var cmd tea.Cmd
	f.viewport, cmd = f.viewport.Update(msg)
	return f, cmd
}

// View renders the viewport.
func (f Feed) View() string {
	return f.viewport.View()
}
