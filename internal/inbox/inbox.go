// Package inbox ingests task submissions dropped into the target repository.
// Anyone with push access can queue work by appending to a JSON file on the
// base branch; the daemon picks it up on the next poll cycle and clears it.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dohr-michael/foundry/internal/events"
	"github.com/dohr-michael/foundry/internal/forge"
	"github.com/dohr-michael/foundry/internal/tasks"
)

const defaultPath = "tasks/inbox.json"

// clearMessage is the commit message used when emptying the drop file.
const clearMessage = "chore: clear inbox (tasks queued)"

// entry is one submission in the drop file. Only title is required.
type entry struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Context     string `json:"context"`
	Priority    string `json:"priority"`
	TrustLevel  string `json:"trust_level"`
}

// Enqueuer is the queue surface the ingestor needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, t *tasks.Task) error
}

// Ingestor reads the drop file from the base branch, queues its entries and
// clears it.
type Ingestor struct {
	forge forge.Client
	store Enqueuer
	bus   *events.Bus
	path  string
}

// NewIngestor creates an Ingestor. An empty path falls back to
// tasks/inbox.json. bus may be nil.
func NewIngestor(fc forge.Client, store Enqueuer, path string, bus *events.Bus) *Ingestor {
	if path == "" {
		path = defaultPath
	}
	return &Ingestor{forge: fc, store: store, bus: bus, path: path}
}

// Ingest queues every valid entry in the drop file and clears it, returning
// the number queued. A missing, empty or unparseable file queues nothing.
// Entries that fail validation are skipped with a warning rather than
// blocking the rest of the batch.
func (i *Ingestor) Ingest(ctx context.Context) (int, error) {
	raw, found, err := i.forge.ReadFile(ctx, i.path, "")
	if err != nil {
		return 0, fmt.Errorf("read inbox %s: %w", i.path, err)
	}
	if !found {
		return 0, nil
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "[]" {
		return 0, nil
	}

	var entries []entry
	if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
		// Leave the file in place so a hand-edited typo can be fixed
		// instead of silently discarded.
		slog.Warn("inbox file is not a valid JSON list, skipping", "path", i.path, "error", err)
		return 0, nil
	}
	if len(entries) == 0 {
		return 0, nil
	}

	queued := 0
	for _, e := range entries {
		if strings.TrimSpace(e.Title) == "" {
			slog.Warn("skipping inbox entry without title", "path", i.path)
			continue
		}
		t := &tasks.Task{
			Title:       e.Title,
			Description: e.Description,
			Context:     e.Context,
			Priority:    tasks.TaskPriority(e.Priority),
			TrustLevel:  tasks.TrustLevel(e.TrustLevel),
		}
		if err := i.store.Enqueue(ctx, t); err != nil {
			slog.Warn("skipping invalid inbox entry", "title", e.Title, "error", err)
			continue
		}
		slog.Info("queued task from inbox", "task_id", t.ID, "title", t.Title, "priority", t.Priority)
		queued++
	}

	if queued > 0 && i.bus != nil {
		i.bus.Publish(events.NewTypedEvent(events.SourceInbox, events.InboxIngestedPayload{
			Count: queued,
			Path:  i.path,
		}))
	}

	if _, err := i.forge.WriteFile(ctx, i.path, "[]\n", clearMessage, ""); err != nil {
		return queued, fmt.Errorf("clear inbox %s: %w", i.path, err)
	}
	return queued, nil
}
