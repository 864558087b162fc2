package tui

import "github.com/dohr-michael/foundry/internal/intake"

// EventMsg carries one frame from the live stream.
type EventMsg struct {
	Frame intake.EventFrame
}

// ConnectedMsg signals the stream is attached.
type ConnectedMsg struct {
	URL string
}

// DisconnectedMsg signals a lost stream connection.
type DisconnectedMsg struct {
	Err error
}
