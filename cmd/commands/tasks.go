package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foundry/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and manage the task queue",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "status",
						Aliases: []string{"s"},
						Usage:   "Filter by status (queued, planning, coding, reviewing, testing, deploying, done, failed)",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of rows",
						Value:   50,
					},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details and its ledger",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "requeue",
				Usage:     "Reset a task to queued so the next poll picks it up again",
				ArgsUsage: "<task_id>",
				Action:    runTasksRequeue,
			},
		},
		DefaultCommand: "list",
	}
}

func openStore(cmd *cli.Command) (*tasks.SQLStore, error) {
	cfg := loadConfig(cmd)
	return tasks.Open(cfg.Store.Path)
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	store, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	filter := tasks.ListFilter{Limit: cmd.Int("limit")}
	if s := cmd.String("status"); s != "" {
		filter.Status = tasks.TaskStatus(s)
	}

	list, err := store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tCREATED\tTITLE")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Status,
			t.Priority,
			t.CreatedAt.Local().Format("2006-01-02 15:04"),
			t.Title,
		)
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: foundry tasks show <task_id>")
	}

	store, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	t, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Title:       %s\n", t.Title)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Priority:    %s\n", t.Priority)
	fmt.Printf("Trust:       %s\n", t.TrustLevel)
	fmt.Printf("Created:     %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if t.StartedAt != nil {
		fmt.Printf("Started:     %s\n", t.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if t.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", t.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if t.ActualDurationSeconds > 0 {
		fmt.Printf("Duration:    %ds\n", t.ActualDurationSeconds)
	}
	if t.BranchName != "" {
		fmt.Printf("Branch:      %s\n", t.BranchName)
	}
	if t.PRURL != "" {
		fmt.Printf("PR:          %s\n", t.PRURL)
	}

	if t.Description != "" {
		fmt.Printf("\nDescription:\n%s\n", renderMarkdown(t.Description))
	}

	if t.Plan != nil {
		fmt.Printf("\nPlan (%s):\n%s\n", t.Plan.Complexity, renderMarkdown(t.Plan.Summary))
		for _, step := range t.Plan.Steps {
			if step.File != "" {
				fmt.Printf("  %d. %s (%s %s)\n", step.Order, step.Description, step.Action, step.File)
			} else {
				fmt.Printf("  %d. %s\n", step.Order, step.Description)
			}
		}
	}

	if t.ReviewNotes != nil {
		fmt.Printf("\nReview:      %s after %d attempt(s), confidence %.2f\n",
			t.ReviewNotes.Decision, t.ReviewAttempts, t.ReviewNotes.Confidence)
		for _, issue := range t.ReviewNotes.Issues {
			fmt.Printf("  [%s] %s\n", issue.Severity, issue.Description)
		}
	}

	if t.TestReport != nil {
		fmt.Printf("\nTests:       %s\n", t.TestReport.Verdict)
		for _, check := range t.TestReport.Checks {
			fmt.Printf("  [%s] %s\n", check.Result, check.Check)
		}
	}

	if len(t.FilesChanged) > 0 {
		fmt.Println("\nFiles changed:")
		for _, f := range t.FilesChanged {
			fmt.Printf("  %s\n", f)
		}
	}

	if t.ErrorMessage != "" {
		fmt.Printf("\nError: %s\n", t.ErrorMessage)
	}

	// Ledger
	recs, err := store.Events(ctx, t.ID, 50)
	if err == nil && len(recs) > 0 {
		fmt.Println("\nLedger:")
		for i := len(recs) - 1; i >= 0; i-- {
			rec := recs[i]
			line := fmt.Sprintf("  [%s] %s %s", rec.CreatedAt.Local().Format("15:04:05"), rec.Agent, rec.Kind)
			if rec.CostCents > 0 {
				line += fmt.Sprintf(" (%d tokens, %d cents)", rec.TokensUsed, rec.CostCents)
			}
			fmt.Println(line)
		}
	}

	return nil
}

func runTasksRequeue(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: foundry tasks requeue <task_id>")
	}

	store, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	if err := store.Requeue(ctx, id); err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}

	fmt.Printf("Task %s requeued.\n", id)
	return nil
}

// renderMarkdown pretty-prints markdown for the terminal, falling back to the
// raw text when rendering fails.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}
