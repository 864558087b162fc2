package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dohr-michael/foundry/internal/intake"
)

// renderFrame turns one stream frame into a feed line.
func renderFrame(at time.Time, frame intake.EventFrame) string {
	parts := []string{
		MutedStyle.Render(at.Format("15:04:05")),
		styleFor(frame.Event).Render(fmt.Sprintf("%-22s", frame.Event)),
	}
	if frame.TaskID != "" {
		parts = append(parts, MutedStyle.Render(shortID(frame.TaskID)))
	}
	if detail := summarize(frame.Event, frame.Payload); detail != "" {
		parts = append(parts, detail)
	}
	return strings.Join(parts, " ")
}

func styleFor(event string) lipgloss.Style {
	switch {
	case event == "task.done", event == "review.approved", event == "change_request.opened":
		return DoneStyle
	case event == "task.failed", event == "budget.exhausted", event == "review.rejected":
		return ErrorStyle
	case strings.HasPrefix(event, "task."):
		return QueuedStyle
	case strings.HasPrefix(event, "phase."):
		return PhaseStyle
	default:
		return MutedStyle
	}
}

// summarize picks the payload fields worth a line of screen.
func summarize(event string, payload map[string]any) string {
	switch event {
	case "task.queued", "task.claimed", "task.requeued":
		s := strField(payload, "title")
		if p := strField(payload, "priority"); p != "" {
			s += " " + MutedStyle.Render("["+p+"]")
		}
		return s

	case "task.done":
		s := strField(payload, "title")
		if url := strField(payload, "pr_url"); url != "" {
			s += " " + MutedStyle.Render(url)
		}
		return s

	case "task.failed":
		s := strField(payload, "title")
		if reason := strField(payload, "reason"); reason != "" {
			s += " " + ErrorStyle.Render(reason)
		}
		return s

	case "phase.started", "phase.completed":
		s := strField(payload, "agent")
		if attempt := intField(payload, "attempt"); attempt > 0 {
			s += fmt.Sprintf(" attempt %d", attempt)
		}
		if detail := strField(payload, "detail"); detail != "" {
			s += " " + MutedStyle.Render(detail)
		}
		return s

	case "review.approved", "review.rejected":
		s := fmt.Sprintf("attempt %d confidence %.2f",
			intField(payload, "attempt"), floatField(payload, "confidence"))
		if summary := strField(payload, "summary"); summary != "" {
			s += " " + MutedStyle.Render(summary)
		}
		return s

	case "change_request.opened":
		s := strField(payload, "url")
		if boolField(payload, "merged") {
			s += " " + DoneStyle.Render("merged")
		}
		return s

	case "budget.exhausted":
		return fmt.Sprintf("spent %s of %s",
			formatCents(intField(payload, "spent_cents")),
			formatCents(intField(payload, "ceiling_cents")))

	case "inbox.ingested":
		return fmt.Sprintf("%d task(s) from %s",
			intField(payload, "count"), strField(payload, "path"))

	case "internal.llm.call":
		return fmt.Sprintf("%s %s %d+%d tok %s",
			strField(payload, "agent"), strField(payload, "model"),
			intField(payload, "tokens_input"), intField(payload, "tokens_output"),
			formatCents(intField(payload, "cost_cents")))

	case "digest.sent":
		return fmt.Sprintf("%d done / %d failed, spent %s",
			intField(payload, "done"), intField(payload, "failed"),
			formatCents(intField(payload, "spent_cents")))

	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func strField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField reads a numeric payload field. Decoded JSON numbers arrive as
// float64.
func intField(m map[string]any, key string) int {
	f, _ := m[key].(float64)
	return int(f)
}

func floatField(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
