// Package watch provides a client for the intake live event stream.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/dohr-michael/foundry/internal/intake"
)

// Client consumes event frames from /api/events/ws.
type Client struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the stream. The secret may be empty when the server
// runs without auth.
func Dial(ctx context.Context, url, secret string) (*Client, error) {
	var opts *websocket.DialOptions
	if secret != "" {
		opts = &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": []string{"Bearer " + secret}},
		}
	}

	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// Next blocks until the next event frame arrives.
func (c *Client) Next() (intake.EventFrame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return intake.EventFrame{}, err
	}

	var frame intake.EventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return intake.EventFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
