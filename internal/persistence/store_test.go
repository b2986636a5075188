package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestSaveAndGetWorkflow(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	wf := &WorkflowRecord{
		ID:          "wf-1",
		Name:        "recon",
		Description: "scan then report",
		State:       "created",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if err := store.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("failed to save workflow: %v", err)
	}

	// A later save changes state but keeps name and creation time.
	update := &WorkflowRecord{ID: "wf-1", Name: "ignored", State: "failed", Error: "step scan failed", UpdatedAt: created.Add(time.Minute)}
	if err := store.SaveWorkflow(ctx, update); err != nil {
		t.Fatalf("failed to update workflow: %v", err)
	}

	got, err := store.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("failed to get workflow: %v", err)
	}
	if got.Name != "recon" {
		t.Errorf("Name mismatch: got %s, want recon", got.Name)
	}
	if got.Description != "scan then report" {
		t.Errorf("Description mismatch: got %q", got.Description)
	}
	if got.State != "failed" || got.Error != "step scan failed" {
		t.Errorf("State/Error mismatch: got %s/%s", got.State, got.Error)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.Equal(created.Add(time.Minute)) {
		t.Errorf("UpdatedAt mismatch: got %v", got.UpdatedAt)
	}
	if len(got.Steps) != 0 {
		t.Errorf("expected no steps, got %d", len(got.Steps))
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetWorkflow(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteWorkflow(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
}

func TestSaveStep(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.SaveWorkflow(ctx, &WorkflowRecord{ID: "wf", Name: "n", State: "running"}); err != nil {
		t.Fatalf("failed to save workflow: %v", err)
	}

	submitted := &StepRecord{WorkflowID: "wf", Step: "scan", Module: "portscan", TaskID: "wf/scan", State: StepSubmitted, UpdatedAt: now}
	if err := store.SaveStep(ctx, submitted); err != nil {
		t.Fatalf("failed to save step: %v", err)
	}
	settled := &StepRecord{WorkflowID: "wf", Step: "scan", TaskID: "wf/scan#2", State: StepCompleted, Attempts: 2, Result: `{"open":3}`, UpdatedAt: now.Add(time.Second)}
	if err := store.SaveStep(ctx, settled); err != nil {
		t.Fatalf("failed to update step: %v", err)
	}

	got, err := store.GetWorkflow(ctx, "wf")
	if err != nil {
		t.Fatalf("failed to get workflow: %v", err)
	}
	if len(got.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(got.Steps))
	}
	st := got.Steps[0]
	if st.Module != "portscan" {
		t.Errorf("empty module should keep the stored one, got %q", st.Module)
	}
	if st.TaskID != "wf/scan#2" || st.State != StepCompleted || st.Attempts != 2 {
		t.Errorf("unexpected step: %+v", st)
	}
	if st.Result != `{"open":3}` {
		t.Errorf("Result mismatch: got %s", st.Result)
	}
}

func TestForeignKeyEnforced(t *testing.T) {
	store := testStore(t)

	err := store.SaveStep(context.Background(), &StepRecord{WorkflowID: "ghost", Step: "a", TaskID: "ghost/a", State: StepSubmitted})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown workflow, got %v", err)
	}
}

func TestDeleteWorkflowCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveWorkflow(ctx, &WorkflowRecord{ID: "wf", Name: "n", State: "completed"}); err != nil {
		t.Fatalf("failed to save workflow: %v", err)
	}
	if err := store.SaveStep(ctx, &StepRecord{WorkflowID: "wf", Step: "a", TaskID: "wf/a", State: StepCompleted}); err != nil {
		t.Fatalf("failed to save step: %v", err)
	}
	if err := store.DeleteWorkflow(ctx, "wf"); err != nil {
		t.Fatalf("failed to delete workflow: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps`).Scan(&count); err != nil {
		t.Fatalf("failed to count steps: %v", err)
	}
	if count != 0 {
		t.Errorf("expected steps to be deleted with their workflow, got %d", count)
	}
}

func TestListWorkflows(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		wf := &WorkflowRecord{ID: id, Name: id, State: "completed", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.SaveWorkflow(ctx, wf); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}

	all, err := store.ListWorkflows(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list workflows: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 workflows, got %d", len(all))
	}
	if all[0].ID != "new" || all[2].ID != "old" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	limited, err := store.ListWorkflows(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list workflows: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 workflows, got %d", len(limited))
	}
}

func TestRecordAndListTasks(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	records := []*TaskRecord{
		{TaskID: "wf-a/scan", State: TaskFailed, Error: "timeout", Duration: 1500 * time.Millisecond},
		{TaskID: "wf-a/scan#2", State: TaskCompleted, Duration: 20 * time.Millisecond},
		{TaskID: "wf-b/scan", State: TaskCancelled},
		{TaskID: "adhoc_1", State: TaskCompleted},
	}
	for _, rec := range records {
		if err := store.RecordTask(ctx, rec); err != nil {
			t.Fatalf("failed to record %s: %v", rec.TaskID, err)
		}
	}

	got, err := store.ListTasks(ctx, "wf-a/")
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 outcomes for wf-a, got %d", len(got))
	}
	if got[0].State != TaskFailed || got[0].Error != "timeout" || got[0].Duration != 1500*time.Millisecond {
		t.Errorf("unexpected first outcome: %+v", got[0])
	}
	if got[1].TaskID != "wf-a/scan#2" {
		t.Errorf("expected insertion order, got %s", got[1].TaskID)
	}

	// "_" is matched literally.
	got, err = store.ListTasks(ctx, "adhoc_")
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 adhoc outcome, got %d", len(got))
	}

	got, err = store.ListTasks(ctx, "")
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(got) != len(records) {
		t.Errorf("expected %d outcomes, got %d", len(records), len(got))
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.SaveWorkflow(ctx, &WorkflowRecord{ID: "wf", Name: "n", State: "completed"}); err != nil {
		t.Fatalf("failed to save workflow: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	store, err = NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store.Close()

	if _, err := store.GetWorkflow(ctx, "wf"); err != nil {
		t.Fatalf("workflow not persisted: %v", err)
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	ctx := context.Background()

	if err := a.SaveWorkflow(ctx, &WorkflowRecord{ID: "wf", Name: "n", State: "created"}); err != nil {
		t.Fatalf("failed to save workflow: %v", err)
	}
	if _, err := b.GetWorkflow(ctx, "wf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second store to be empty, got %v", err)
	}
}
