package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02 15:04:05.000000000"

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                      TEXT PRIMARY KEY,
	title                   TEXT NOT NULL,
	description             TEXT NOT NULL DEFAULT '',
	context                 TEXT NOT NULL DEFAULT '',
	priority                TEXT NOT NULL DEFAULT 'medium',
	trust_level             TEXT NOT NULL DEFAULT 'full_auto',
	status                  TEXT NOT NULL DEFAULT 'queued',
	plan                    TEXT,
	code_change             TEXT,
	review_notes            TEXT,
	test_report             TEXT,
	review_attempts         INTEGER NOT NULL DEFAULT 0,
	branch_name             TEXT NOT NULL DEFAULT '',
	commit_sha              TEXT NOT NULL DEFAULT '',
	pr_number               INTEGER NOT NULL DEFAULT 0,
	pr_url                  TEXT NOT NULL DEFAULT '',
	files_changed           TEXT,
	error_message           TEXT NOT NULL DEFAULT '',
	agent_log               TEXT,
	created_at              TEXT NOT NULL,
	started_at              TEXT,
	completed_at            TEXT,
	actual_duration_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tasks_queue ON tasks(status, priority, created_at);

CREATE TABLE IF NOT EXISTS task_events (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id          TEXT NOT NULL,
	agent            TEXT NOT NULL,
	kind             TEXT NOT NULL,
	input_summary    TEXT NOT NULL DEFAULT '',
	output_summary   TEXT NOT NULL DEFAULT '',
	tokens_used      INTEGER NOT NULL DEFAULT 0,
	cost_cents       INTEGER NOT NULL DEFAULT 0,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_events_day ON task_events(created_at);
CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id);
`

const taskColumns = `id, title, description, context, priority, trust_level, status,
	plan, code_change, review_notes, test_report, review_attempts,
	branch_name, commit_sha, pr_number, pr_url, files_changed, error_message,
	agent_log, created_at, started_at, completed_at, actual_duration_seconds`

// priorityOrder ranks urgent before high before medium before low.
const priorityOrder = `CASE priority
	WHEN 'urgent' THEN 0
	WHEN 'high' THEN 1
	WHEN 'medium' THEN 2
	WHEN 'low' THEN 3
	ELSE 4 END`

// SQLStore persists tasks in a single SQLite file.
// The single write connection serializes claims, so the claim-and-transition
// statement is atomic across goroutines.
type SQLStore struct {
	db *sql.DB
}

// Open creates (or opens) the task database at path and runs migrations.
func Open(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Enqueue inserts a new task in queued state.
func (s *SQLStore) Enqueue(ctx context.Context, t *Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidSpec)
	}
	if t.ID == "" {
		t.ID = GenerateTaskID()
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.TrustLevel == "" {
		t.TrustLevel = TrustFullAuto
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalidSpec, t.Priority)
	}
	if !t.TrustLevel.Valid() {
		return fmt.Errorf("%w: trust level %q", ErrInvalidSpec, t.TrustLevel)
	}
	t.Status = StatusQueued
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, context, priority, trust_level, status,
			plan, code_change, review_notes, test_report, review_attempts,
			branch_name, commit_sha, pr_number, pr_url, files_changed, error_message,
			agent_log, created_at, started_at, completed_at, actual_duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.Context, t.Priority, t.TrustLevel, t.Status,
		jsonColumn(t.Plan), jsonColumn(t.CodeChange), jsonColumn(t.ReviewNotes), jsonColumn(t.TestReport),
		t.ReviewAttempts, t.BranchName, t.CommitSHA, t.PRNumber, t.PRURL,
		sliceColumn(t.FilesChanged), t.ErrorMessage, logColumn(t.AgentLog),
		formatTime(t.CreatedAt), nullableTime(t.StartedAt), nullableTime(t.CompletedAt),
		t.ActualDurationSeconds)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// ClaimNext atomically moves the best queued task to planning and returns it.
// The nested SELECT and the status guard run in one statement, so two
// concurrent claimants can never take the same row.
func (s *SQLStore) ClaimNext(ctx context.Context) (*Task, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = 'planning', started_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'queued'
			ORDER BY `+priorityOrder+`, created_at ASC
			LIMIT 1
		)
		AND status = 'queued'
		RETURNING `+taskColumns,
		formatTime(now))

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	return t, nil
}

// ClaimByID atomically claims one specific queued task.
func (s *SQLStore) ClaimByID(ctx context.Context, id string) (*Task, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = 'planning', started_at = ?
		WHERE id = ? AND status = 'queued'
		RETURNING `+taskColumns,
		formatTime(now), id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task %s: %w", id, err)
	}
	return t, nil
}

// Get returns a task by ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// List returns tasks matching the filter, newest first.
func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update persists all mutable fields of the task.
func (s *SQLStore) Update(ctx context.Context, t *Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = ?, description = ?, context = ?, priority = ?, trust_level = ?,
			status = ?, plan = ?, code_change = ?, review_notes = ?, test_report = ?,
			review_attempts = ?, branch_name = ?, commit_sha = ?, pr_number = ?,
			pr_url = ?, files_changed = ?, error_message = ?, agent_log = ?,
			started_at = ?, completed_at = ?, actual_duration_seconds = ?
		WHERE id = ?`,
		t.Title, t.Description, t.Context, t.Priority, t.TrustLevel,
		t.Status, jsonColumn(t.Plan), jsonColumn(t.CodeChange), jsonColumn(t.ReviewNotes), jsonColumn(t.TestReport),
		t.ReviewAttempts, t.BranchName, t.CommitSHA, t.PRNumber,
		t.PRURL, sliceColumn(t.FilesChanged), t.ErrorMessage, logColumn(t.AgentLog),
		nullableTime(t.StartedAt), nullableTime(t.CompletedAt), t.ActualDurationSeconds,
		t.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Requeue resets a task to queued state, clearing its previous run outcome
// but keeping artifacts around for inspection.
func (s *SQLStore) Requeue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'queued', error_message = '', started_at = NULL,
			completed_at = NULL, actual_duration_seconds = 0, review_attempts = 0
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("requeue task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LogEvent appends a row to the event ledger.
func (s *SQLStore) LogEvent(ctx context.Context, rec EventRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, agent, kind, input_summary, output_summary,
			tokens_used, cost_cents, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.Agent, rec.Kind, rec.InputSummary, rec.OutputSummary,
		rec.TokensUsed, rec.CostCents, rec.DurationSeconds, formatTime(created))
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Events returns ledger rows, newest first.
func (s *SQLStore) Events(ctx context.Context, taskID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, task_id, agent, kind, input_summary, output_summary,
		tokens_used, cost_cents, duration_seconds, created_at
		FROM task_events`
	var args []any
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.Agent, &rec.Kind,
			&rec.InputSummary, &rec.OutputSummary, &rec.TokensUsed,
			&rec.CostCents, &rec.DurationSeconds, &created); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		rec.CreatedAt, _ = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DailyCost sums ledger cost for the current UTC day.
func (s *SQLStore) DailyCost(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_cents), 0) FROM task_events WHERE created_at >= ?`,
		dayStart()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("daily cost: %w", err)
	}
	return total, nil
}

// DailyStats returns queue counters for tasks created in the current UTC day.
func (s *SQLStore) DailyStats(ctx context.Context) (DayStats, error) {
	var st DayStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'done'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status NOT IN ('done', 'failed', 'queued')),
			COALESCE(SUM(actual_duration_seconds) FILTER (WHERE status = 'done'), 0)
		FROM tasks
		WHERE created_at >= ?`, dayStart()).
		Scan(&st.Done, &st.Failed, &st.Queued, &st.InProgress, &st.TotalSeconds)
	if err != nil {
		return DayStats{}, fmt.Errorf("daily stats: %w", err)
	}
	return st, nil
}

// ---- row mapping ----

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var plan, codeChange, reviewNotes, testReport, filesChanged, agentLog sql.NullString
	var created string
	var started, completed sql.NullString

	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Context, &t.Priority, &t.TrustLevel,
		&t.Status, &plan, &codeChange, &reviewNotes, &testReport, &t.ReviewAttempts,
		&t.BranchName, &t.CommitSHA, &t.PRNumber, &t.PRURL, &filesChanged, &t.ErrorMessage,
		&agentLog, &created, &started, &completed, &t.ActualDurationSeconds)
	if err != nil {
		return nil, err
	}

	if plan.Valid {
		t.Plan = &Plan{}
		if err := json.Unmarshal([]byte(plan.String), t.Plan); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
	}
	if codeChange.Valid {
		t.CodeChange = &CodeChange{}
		if err := json.Unmarshal([]byte(codeChange.String), t.CodeChange); err != nil {
			return nil, fmt.Errorf("decode code change: %w", err)
		}
	}
	if reviewNotes.Valid {
		t.ReviewNotes = &ReviewNotes{}
		if err := json.Unmarshal([]byte(reviewNotes.String), t.ReviewNotes); err != nil {
			return nil, fmt.Errorf("decode review notes: %w", err)
		}
	}
	if testReport.Valid {
		t.TestReport = &TestReport{}
		if err := json.Unmarshal([]byte(testReport.String), t.TestReport); err != nil {
			return nil, fmt.Errorf("decode test report: %w", err)
		}
	}
	if filesChanged.Valid {
		if err := json.Unmarshal([]byte(filesChanged.String), &t.FilesChanged); err != nil {
			return nil, fmt.Errorf("decode files changed: %w", err)
		}
	}
	if agentLog.Valid {
		if err := json.Unmarshal([]byte(agentLog.String), &t.AgentLog); err != nil {
			return nil, fmt.Errorf("decode agent log: %w", err)
		}
	}

	t.CreatedAt, err = parseTime(created)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if started.Valid {
		ts, err := parseTime(started.String)
		if err != nil {
			return nil, fmt.Errorf("decode started_at: %w", err)
		}
		t.StartedAt = &ts
	}
	if completed.Valid {
		ts, err := parseTime(completed.String)
		if err != nil {
			return nil, fmt.Errorf("decode completed_at: %w", err)
		}
		t.CompletedAt = &ts
	}
	return &t, nil
}

// jsonColumn marshals an artifact pointer, keeping NULL for absent artifacts.
func jsonColumn(v any) any {
	switch x := v.(type) {
	case *Plan:
		if x == nil {
			return nil
		}
	case *CodeChange:
		if x == nil {
			return nil
		}
	case *ReviewNotes:
		if x == nil {
			return nil
		}
	case *TestReport:
		if x == nil {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

func sliceColumn(v []string) any {
	if len(v) == 0 {
		return nil
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func logColumn(v []LogEntry) any {
	if len(v) == 0 {
		return nil
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

func dayStart() string {
	y, m, d := time.Now().UTC().Date()
	return formatTime(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}
