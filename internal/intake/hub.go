package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/foundry/internal/events"
)

// EventFrame is the envelope sent to websocket watchers. Clients decode
// the same shape on their end.
type EventFrame struct {
	Type    string         `json:"type"`
	Event   string         `json:"event"`
	TaskID  string         `json:"task_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

// hub fans bus events out to connected websocket watchers. The stream is
// one-way; submissions go through the JSON API.
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	cancel  func()
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(bus *events.Bus) *hub {
	h := &hub{clients: make(map[*wsClient]struct{})}
	ch, cancel := bus.Subscribe(256)
	h.cancel = cancel
	go h.pump(ch)
	return h
}

// pump encodes bus events and broadcasts them until the subscription is
// cancelled.
func (h *hub) pump(ch <-chan events.Event) {
	for e := range ch {
		data, err := json.Marshal(EventFrame{
			Type:    "event",
			Event:   string(e.Type),
			TaskID:  e.TaskID,
			Payload: e.Payload,
		})
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			continue
		}
		h.broadcast(data)
	}
}

func (h *hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// client too slow, skip
		}
	}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("watch client connected", "clients", len(h.clients))
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("watch client disconnected", "clients", len(h.clients))
	}
}

// serveWS upgrades the connection and streams events until either side
// hangs up.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // watchers may connect cross-origin
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 256)}
	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx, h)
}

// readPump discards inbound frames; it exists to notice the peer closing.
func (c *wsClient) readPump(ctx context.Context, h *hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close drops all live watchers.
func (h *hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
		close(c.send)
	}
}
