package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/taskmill/taskmill/pkg/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestStore_BeginAndFinishRun(t *testing.T) {
	store := setupTestStore(t)

	if err := store.BeginRun("run1", time.Now(), 5); err != nil {
		t.Fatalf("BeginRun returned %v", err)
	}

	run, err := store.GetRun("run1")
	if err != nil {
		t.Fatal(err)
	}
	if run == nil {
		t.Fatal("GetRun returned nil for a begun run")
	}
	if run.Outcome != "running" {
		t.Errorf("Outcome = %q, want %q", run.Outcome, "running")
	}
	if run.Total != 5 {
		t.Errorf("Total = %d, want 5", run.Total)
	}

	result := &models.RunResult{
		RunID:     "run1",
		Completed: []string{"a", "b", "c"},
		Failed:    []models.TaskFailure{{TaskID: "d", Reason: "boom"}},
		Skipped:   []string{"e"},
	}
	if err := store.FinishRun("run1", result, 2, 3, ""); err != nil {
		t.Fatalf("FinishRun returned %v", err)
	}

	run, err = store.GetRun("run1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Outcome != "failed" {
		t.Errorf("Outcome = %q, want %q", run.Outcome, "failed")
	}
	if run.Completed != 3 || run.Failed != 1 || run.Skipped != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/1/1", run.Completed, run.Failed, run.Skipped)
	}
	if run.CacheHits != 2 || run.CacheMisses != 3 {
		t.Errorf("cache counters = %d/%d, want 2/3", run.CacheHits, run.CacheMisses)
	}
	if run.FinishedAt.IsZero() {
		t.Error("FinishedAt should be set after FinishRun")
	}
}

func TestStore_FinishRun_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		result *models.RunResult
		want   string
	}{
		{"all completed", &models.RunResult{Completed: []string{"a"}}, "completed"},
		{"with failure", &models.RunResult{Failed: []models.TaskFailure{{TaskID: "a"}}}, "failed"},
		{"skip only", &models.RunResult{Skipped: []string{"a"}}, "failed"},
		{"cancelled wins", &models.RunResult{
			Failed:    []models.TaskFailure{{TaskID: "a"}},
			Cancelled: []string{"b"},
		}, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			if err := store.BeginRun("r", time.Now(), 2); err != nil {
				t.Fatal(err)
			}
			if err := store.FinishRun("r", tt.result, 0, 0, ""); err != nil {
				t.Fatal(err)
			}
			run, err := store.GetRun("r")
			if err != nil {
				t.Fatal(err)
			}
			if run.Outcome != tt.want {
				t.Errorf("Outcome = %q, want %q", run.Outcome, tt.want)
			}
		})
	}
}

func TestStore_FinishRun_UnknownRun(t *testing.T) {
	store := setupTestStore(t)
	err := store.FinishRun("ghost", &models.RunResult{}, 0, 0, "")
	if err == nil {
		t.Fatal("FinishRun of an unknown run should fail")
	}
}

func TestStore_RecordAndListTasks(t *testing.T) {
	store := setupTestStore(t)
	if err := store.BeginRun("run1", time.Now(), 2); err != nil {
		t.Fatal(err)
	}

	done := &models.Task{ID: "t1", Title: "first", Status: models.TaskStatusCompleted, Attempts: 1}
	failed := &models.Task{ID: "t2", ParentID: "t1", Title: "second", Status: models.TaskStatusFailed, Attempts: 3, LastError: "boom"}

	if err := store.RecordTask("run1", done, 420, 1500*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordTask("run1", failed, 0, 300*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	tasks, err := store.RunTasks("run1")
	if err != nil {
		t.Fatalf("RunTasks returned %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("RunTasks returned %d rows, want 2", len(tasks))
	}
	if tasks[0].TaskID != "t1" || tasks[1].TaskID != "t2" {
		t.Errorf("rows out of order: %s, %s", tasks[0].TaskID, tasks[1].TaskID)
	}
	if tasks[0].Tokens != 420 || tasks[0].DurationMS != 1500 {
		t.Errorf("t1 row = %+v, want 420 tokens, 1500ms", tasks[0])
	}
	if tasks[1].Status != "failed" || tasks[1].Error != "boom" {
		t.Errorf("t2 row = %+v, want failed/boom", tasks[1])
	}
	if tasks[0].ParentID != "" || tasks[1].ParentID != "t1" {
		t.Errorf("parent ids = %q, %q; want \"\", \"t1\"", tasks[0].ParentID, tasks[1].ParentID)
	}
}

func TestStore_RecentRuns_NewestFirst(t *testing.T) {
	store := setupTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		if err := store.BeginRun(id, base.Add(time.Duration(i)*time.Minute), 1); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns returned %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("RecentRuns returned %d rows, want 2", len(runs))
	}
	if runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("order = %s, %s; want new, mid", runs[0].ID, runs[1].ID)
	}
}

func TestStore_GetRun_Missing(t *testing.T) {
	store := setupTestStore(t)
	run, err := store.GetRun("ghost")
	if err != nil {
		t.Fatalf("GetRun returned error %v, want nil for a miss", err)
	}
	if run != nil {
		t.Errorf("GetRun = %+v, want nil", run)
	}
}
