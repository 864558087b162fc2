package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted marks work refused because the daily spend ceiling was hit.
// Tasks failed with it stay eligible for manual re-runs the next day.
var ErrExhausted = errors.New("daily budget exhausted")

// CostReader is the single store operation the gate needs.
type CostReader interface {
	DailyCost(ctx context.Context) (int, error)
}

// Gate is an advisory spend control: a pure read of today's ledger cost
// against a ceiling. It reserves nothing, so concurrent pipelines can
// transiently overshoot by up to one task's cost.
type Gate struct {
	store   CostReader
	ceiling func() int
}

// NewGate creates a gate with a fixed ceiling in cents.
func NewGate(store CostReader, ceilingCents int) *Gate {
	return NewDynamicGate(store, func() int { return ceilingCents })
}

// NewDynamicGate creates a gate whose ceiling is re-read on every check, so
// config reloads take effect without a restart.
func NewDynamicGate(store CostReader, ceiling func() int) *Gate {
	return &Gate{store: store, ceiling: ceiling}
}

// Allow reports whether more model spend is permitted today, along with the
// cents already spent.
func (g *Gate) Allow(ctx context.Context) (bool, int, error) {
	spent, err := g.store.DailyCost(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("read daily cost: %w", err)
	}

	ceiling := g.ceiling()
	if spent >= ceiling {
		slog.Warn("daily budget exhausted", "spent_cents", spent, "ceiling_cents", ceiling)
		return false, spent, nil
	}
	return true, spent, nil
}

// Ceiling returns the current ceiling in cents.
func (g *Gate) Ceiling() int { return g.ceiling() }
