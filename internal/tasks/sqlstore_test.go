package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "foundry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnqueueGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &Task{
		Title:       "Add healthcheck",
		Description: "Expose /healthz",
		Priority:    PriorityHigh,
		TrustLevel:  TrustFullAuto,
	}
	if err := store.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected generated task ID")
	}
	if task.Status != StatusQueued {
		t.Errorf("status = %s, want queued", task.Status)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Add healthcheck" || got.Priority != PriorityHigh {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not persisted")
	}
}

func TestEnqueueDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "bare"}
	if err := store.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if task.Priority != PriorityMedium {
		t.Errorf("default priority = %s, want medium", task.Priority)
	}
	if task.TrustLevel != TrustFullAuto {
		t.Errorf("default trust = %s, want full_auto", task.TrustLevel)
	}
}

func TestEnqueueRejectsInvalidPriority(t *testing.T) {
	store := newTestStore(t)

	err := store.Enqueue(context.Background(), &Task{Title: "x", Priority: "asap"})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestEnqueueRejectsEmptyTitle(t *testing.T) {
	store := newTestStore(t)

	err := store.Enqueue(context.Background(), &Task{Title: "   "})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-id")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimNext_Empty(t *testing.T) {
	store := newTestStore(t)

	task, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim on empty queue: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil task, got %+v", task)
	}
}

func TestClaimNext_PriorityThenAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	enqueue := func(title string, p TaskPriority, offset time.Duration) {
		t.Helper()
		if err := store.Enqueue(ctx, &Task{Title: title, Priority: p, CreatedAt: base.Add(offset)}); err != nil {
			t.Fatalf("enqueue %s: %v", title, err)
		}
	}

	// Deliberately out of order
	enqueue("low-old", PriorityLow, 0)
	enqueue("medium", PriorityMedium, time.Minute)
	enqueue("urgent-new", PriorityUrgent, 10*time.Minute)
	enqueue("high", PriorityHigh, 2*time.Minute)
	enqueue("urgent-old", PriorityUrgent, 5*time.Minute)

	want := []string{"urgent-old", "urgent-new", "high", "medium", "low-old"}
	for i, title := range want {
		task, err := store.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if task == nil {
			t.Fatalf("claim %d: queue empty, want %s", i, title)
		}
		if task.Title != title {
			t.Errorf("claim %d = %s, want %s", i, task.Title, title)
		}
		if task.Status != StatusPlanning {
			t.Errorf("claimed task status = %s, want planning", task.Status)
		}
		if task.StartedAt == nil {
			t.Error("claimed task has no started_at")
		}
	}

	task, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("final claim: %v", err)
	}
	if task != nil {
		t.Errorf("queue should be drained, got %s", task.Title)
	}
}

func TestClaimNext_Concurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const total = 50
	for i := 0; i < total; i++ {
		if err := store.Enqueue(ctx, &Task{Title: "task"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	const workers = 8
	claimed := make(chan string, total+workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := store.ClaimNext(ctx)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if task == nil {
					return
				}
				claimed <- task.ID
			}
		}()
	}
	wg.Wait()
	close(claimed)

	seen := make(map[string]bool)
	for id := range claimed {
		if seen[id] {
			t.Errorf("task %s claimed twice", id)
		}
		seen[id] = true
	}
	if len(seen) != total {
		t.Errorf("claimed %d distinct tasks, want %d", len(seen), total)
	}
}

func TestClaimByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "specific"}
	if err := store.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := store.ClaimByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("claim by id: %v", err)
	}
	if claimed == nil || claimed.Status != StatusPlanning {
		t.Fatalf("expected planning task, got %+v", claimed)
	}

	// Second claim must not succeed: the task is no longer queued.
	again, err := store.ClaimByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again != nil {
		t.Error("claimed a non-queued task")
	}
}

func TestUpdateRoundTripsArtifacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "artifacts"}
	if err := store.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task.Status = StatusReviewing
	task.ReviewAttempts = 2
	task.BranchName = "agent/abc12345-artifacts"
	task.Plan = &Plan{
		Summary:    "do the thing",
		Complexity: "simple",
		Steps:      []PlanStep{{Order: 1, Description: "edit file", File: "a.go", Action: "modify"}},
	}
	task.CodeChange = &CodeChange{
		Files:         []FileChange{{Path: "a.go", Action: "modify", Content: "package a"}},
		CommitMessage: "feat: the thing",
	}
	task.ReviewNotes = &ReviewNotes{Decision: "approve", Confidence: 0.85, Summary: "fine"}
	task.TestReport = &TestReport{Verdict: "pass", Checks: []TestCheck{{Check: "compile", Result: "pass"}}}
	task.FilesChanged = []string{"a.go"}
	task.AppendLog("coder", "code_written", map[string]any{"attempt": 1})

	if err := store.Update(ctx, task); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusReviewing || got.ReviewAttempts != 2 {
		t.Errorf("status/attempts = %s/%d, want reviewing/2", got.Status, got.ReviewAttempts)
	}
	if got.Plan == nil || got.Plan.Summary != "do the thing" || len(got.Plan.Steps) != 1 {
		t.Errorf("plan did not round trip: %+v", got.Plan)
	}
	if got.CodeChange == nil || got.CodeChange.CommitMessage != "feat: the thing" {
		t.Errorf("code change did not round trip: %+v", got.CodeChange)
	}
	if !got.ReviewNotes.Approved() || got.ReviewNotes.Confidence != 0.85 {
		t.Errorf("review notes did not round trip: %+v", got.ReviewNotes)
	}
	if got.TestReport == nil || got.TestReport.Verdict != "pass" {
		t.Errorf("test report did not round trip: %+v", got.TestReport)
	}
	if len(got.FilesChanged) != 1 || got.FilesChanged[0] != "a.go" {
		t.Errorf("files changed did not round trip: %v", got.FilesChanged)
	}
	if len(got.AgentLog) != 1 || got.AgentLog[0].Agent != "coder" {
		t.Errorf("agent log did not round trip: %+v", got.AgentLog)
	}
}

func TestUpdateNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.Update(context.Background(), &Task{ID: "ghost", Title: "x"})
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		task := &Task{Title: "t", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.Enqueue(ctx, task); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	// Claim one so statuses differ.
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	all, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(all))
	}
	// Newest first
	if !all[0].CreatedAt.After(all[4].CreatedAt) {
		t.Error("expected newest-first ordering")
	}

	queued, err := store.List(ctx, ListFilter{Status: StatusQueued})
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 4 {
		t.Errorf("expected 4 queued, got %d", len(queued))
	}

	limited, err := store.List(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(limited))
	}
}

func TestRequeue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "retry me"}
	if err := store.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}

	claimed.Status = StatusFailed
	claimed.ErrorMessage = "tester flagged likely build or test failures"
	claimed.ReviewAttempts = 3
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := store.Requeue(ctx, task.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error message not cleared: %q", got.ErrorMessage)
	}
	if got.StartedAt != nil {
		t.Error("started_at not cleared")
	}
	if got.ReviewAttempts != 0 {
		t.Errorf("review attempts = %d, want 0", got.ReviewAttempts)
	}

	// Requeued task is claimable again.
	reclaimed, err := store.ClaimNext(ctx)
	if err != nil || reclaimed == nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed.ID != task.ID {
		t.Errorf("reclaimed %s, want %s", reclaimed.ID, task.ID)
	}
}

func TestRequeueNotFound(t *testing.T) {
	store := newTestStore(t)

	if err := store.Requeue(context.Background(), "ghost"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDailyCost(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	log := func(cents int, at time.Time) {
		t.Helper()
		err := store.LogEvent(ctx, EventRecord{
			TaskID:    "t1",
			Agent:     "planner",
			Kind:      EventCompleted,
			CostCents: cents,
			CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	now := time.Now().UTC()
	log(7, now)
	log(5, now.Add(-time.Minute))
	log(100, now.AddDate(0, 0, -1)) // yesterday, excluded

	total, err := store.DailyCost(ctx)
	if err != nil {
		t.Fatalf("daily cost: %v", err)
	}
	if total != 12 {
		t.Errorf("daily cost = %d, want 12", total)
	}
}

func TestDailyCost_Empty(t *testing.T) {
	store := newTestStore(t)

	total, err := store.DailyCost(context.Background())
	if err != nil {
		t.Fatalf("daily cost: %v", err)
	}
	if total != 0 {
		t.Errorf("daily cost = %d, want 0", total)
	}
}

func TestDailyStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	add := func(status TaskStatus, duration int, createdAt time.Time) {
		t.Helper()
		task := &Task{Title: "t", CreatedAt: createdAt}
		if err := store.Enqueue(ctx, task); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if status != StatusQueued {
			task.Status = status
			task.ActualDurationSeconds = duration
			if err := store.Update(ctx, task); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
	}

	now := time.Now().UTC()
	add(StatusDone, 120, now)
	add(StatusDone, 60, now)
	add(StatusFailed, 0, now)
	add(StatusQueued, 0, now)
	add(StatusCoding, 0, now)
	add(StatusDone, 999, now.AddDate(0, 0, -2)) // old, excluded

	st, err := store.DailyStats(ctx)
	if err != nil {
		t.Fatalf("daily stats: %v", err)
	}
	if st.Done != 2 || st.Failed != 1 || st.Queued != 1 || st.InProgress != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.TotalSeconds != 180 {
		t.Errorf("total seconds = %d, want 180", st.TotalSeconds)
	}
}

func TestEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := store.LogEvent(ctx, EventRecord{TaskID: "t1", Agent: "coder", Kind: EventStarted})
		if err != nil {
			t.Fatalf("log event: %v", err)
		}
	}
	if err := store.LogEvent(ctx, EventRecord{TaskID: "t2", Agent: "planner", Kind: EventStarted}); err != nil {
		t.Fatalf("log event: %v", err)
	}

	all, err := store.Events(ctx, "", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	// Newest first
	if all[0].ID < all[3].ID {
		t.Error("expected newest-first ordering")
	}

	forTask, err := store.Events(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("events for task: %v", err)
	}
	if len(forTask) != 3 {
		t.Errorf("expected 3 events for t1, got %d", len(forTask))
	}
}

func TestRecoverTasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	waiting := &Task{Title: "waiting"}
	if err := store.Enqueue(ctx, waiting); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stuck := &Task{Title: "stuck"}
	if err := store.Enqueue(ctx, stuck); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	finished := &Task{Title: "finished"}
	if err := store.Enqueue(ctx, finished); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Simulate a crash mid-pipeline.
	claimed, err := store.ClaimByID(ctx, stuck.ID)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}
	claimed.Status = StatusCoding
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("update: %v", err)
	}

	doneTask, err := store.ClaimByID(ctx, finished.ID)
	if err != nil || doneTask == nil {
		t.Fatalf("claim: %v", err)
	}
	doneTask.Status = StatusDone
	if err := store.Update(ctx, doneTask); err != nil {
		t.Fatalf("update: %v", err)
	}

	recovered, err := RecoverTasks(ctx, store)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered %d tasks, want 1", recovered)
	}

	got, err := store.Get(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusQueued {
		t.Errorf("recovered status = %s, want queued", got.Status)
	}
	if len(got.AgentLog) == 0 || got.AgentLog[len(got.AgentLog)-1].Action != "recovered" {
		t.Error("expected recovery log entry")
	}

	// done and queued tasks are untouched
	if d, _ := store.Get(ctx, finished.ID); d.Status != StatusDone {
		t.Error("done task should not be recovered")
	}
	if q, _ := store.Get(ctx, waiting.ID); q.Status != StatusQueued {
		t.Error("queued task should stay queued")
	}
}
