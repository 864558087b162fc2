package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cron "github.com/netresearch/go-cron"

	"github.com/dohr-michael/foundry/internal/events"
	"github.com/dohr-michael/foundry/internal/tasks"
)

// cronSpec wraps a parsed 5-field cron expression.
type cronSpec struct {
	raw      string
	schedule cron.Schedule
}

func parseCron(expr string) (*cronSpec, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &cronSpec{raw: expr, schedule: schedule}, nil
}

// matches reports whether t falls in the same minute as an activation.
func (c *cronSpec) matches(t time.Time) bool {
	truncated := t.Truncate(time.Minute)
	return c.schedule.Next(truncated.Add(-time.Minute)).Equal(truncated)
}

func (c *cronSpec) String() string { return c.raw }

// Digest periodically summarizes the current day's queue outcomes and
// spend, to the log and to the event bus.
type Digest struct {
	store   tasks.Store
	bus     *events.Bus
	cron    *cronSpec
	lastRun time.Time
}

// NewDigest builds a digest on a 5-field cron schedule such as "0 9 * * *".
func NewDigest(store tasks.Store, bus *events.Bus, schedule string) (*Digest, error) {
	spec, err := parseCron(schedule)
	if err != nil {
		return nil, err
	}
	return &Digest{store: store, bus: bus, cron: spec}, nil
}

// Run fires the digest at each scheduled activation until ctx is canceled.
func (g *Digest) Run(ctx context.Context) {
	slog.Info("digest scheduled", "cron", g.cron.String())
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !g.cron.matches(now) || now.Sub(g.lastRun) < time.Minute {
				continue
			}
			g.lastRun = now
			g.Emit(ctx)
		}
	}
}

// Emit publishes the digest for the current UTC day immediately.
func (g *Digest) Emit(ctx context.Context) {
	stats, err := g.store.DailyStats(ctx)
	if err != nil {
		slog.Warn("digest stats unavailable", "error", err)
		return
	}
	spent, err := g.store.DailyCost(ctx)
	if err != nil {
		slog.Warn("digest cost unavailable", "error", err)
		return
	}

	slog.Info("daily digest",
		"done", stats.Done,
		"failed", stats.Failed,
		"queued", stats.Queued,
		"in_progress", stats.InProgress,
		"spent_cents", spent,
	)
	if g.bus != nil {
		g.bus.Publish(events.NewTypedEvent(events.SourceDaemon, events.DigestPayload{
			Done:       stats.Done,
			Failed:     stats.Failed,
			SpentCents: spent,
		}))
	}
}
