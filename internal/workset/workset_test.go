package workset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskmill/taskmill/pkg/models"
)

func writeWorkset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write workset: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeWorkset(t, `
version: 1
defaults:
  scope: docs
  priority: 5
tasks:
  - id: t1
    title: Write intro
    source: docs/intro.md
  - id: t2
    parent: t1
    title: Write outro
    scope: api
    priority: 9
`)

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tasks, err := ws.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}

	if tasks[0].Scope != "docs" || tasks[0].Priority != 5 {
		t.Errorf("t1 should inherit defaults, got scope=%q priority=%d", tasks[0].Scope, tasks[0].Priority)
	}
	if tasks[1].Scope != "api" || tasks[1].Priority != 9 {
		t.Errorf("t2 should keep its own values, got scope=%q priority=%d", tasks[1].Scope, tasks[1].Priority)
	}
	if tasks[0].ParentID != "" || tasks[1].ParentID != "t1" {
		t.Errorf("parent ids = %q, %q, want \"\", \"t1\"", tasks[0].ParentID, tasks[1].ParentID)
	}
	if tasks[0].Status != models.TaskStatusPending {
		t.Errorf("expected pending status, got %s", tasks[0].Status)
	}
}

func TestLoad_ZeroPriorityOverridesDefault(t *testing.T) {
	path := writeWorkset(t, `
version: 1
defaults:
  priority: 5
tasks:
  - id: t1
    priority: 0
`)

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tasks, err := ws.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if tasks[0].Priority != 0 {
		t.Errorf("explicit priority 0 should beat the default, got %d", tasks[0].Priority)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeWorkset(t, `
version: 1
tasks:
  - id: t1
    titel: Typo Field
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_RejectsUnsupportedVersion(t *testing.T) {
	path := writeWorkset(t, `
version: 2
tasks:
  - id: t1
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Fatalf("expected unsupported version error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTasks_DuplicateID(t *testing.T) {
	path := writeWorkset(t, `
version: 1
tasks:
  - id: t1
  - id: t1
`)

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := ws.Tasks(); err == nil || !strings.Contains(err.Error(), "duplicate task id") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestTasks_MissingID(t *testing.T) {
	path := writeWorkset(t, `
version: 1
tasks:
  - title: no id here
`)

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := ws.Tasks(); err == nil || !strings.Contains(err.Error(), "missing id") {
		t.Fatalf("expected missing id error, got %v", err)
	}
}

func TestTasks_EmptyWorkset(t *testing.T) {
	path := writeWorkset(t, `version: 1`)

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := ws.Tasks(); err == nil {
		t.Fatal("expected error for workset with no tasks")
	}
}

func TestTasks_TitleFallsBackToID(t *testing.T) {
	path := writeWorkset(t, `
version: 1
tasks:
  - id: build-index
`)

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tasks, err := ws.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if tasks[0].Title != "build-index" {
		t.Errorf("expected title to fall back to id, got %q", tasks[0].Title)
	}
}

func TestSources_DedupedInOrder(t *testing.T) {
	path := writeWorkset(t, `
version: 1
tasks:
  - id: t1
    source: a.md
  - id: t2
    source: b.md
  - id: t3
    source: a.md
  - id: t4
`)

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dir := filepath.Dir(path)
	want := []string{filepath.Join(dir, "a.md"), filepath.Join(dir, "b.md")}
	sources := ws.Sources()
	if len(sources) != 2 || sources[0] != want[0] || sources[1] != want[1] {
		t.Errorf("expected %v, got %v", want, sources)
	}
}

func TestSources_ResolvedAgainstWorksetDir(t *testing.T) {
	path := writeWorkset(t, `
version: 1
tasks:
  - id: t1
    source: sub/in.md
  - id: t2
    source: /abs/in.md
`)

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tasks, err := ws.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}

	wantRel := filepath.Join(filepath.Dir(path), "sub", "in.md")
	if tasks[0].Source != wantRel {
		t.Errorf("relative source = %q, want %q", tasks[0].Source, wantRel)
	}
	if tasks[1].Source != filepath.Clean("/abs/in.md") {
		t.Errorf("absolute source = %q, want it kept as-is", tasks[1].Source)
	}
}

func TestTasks_FileOrderPreserved(t *testing.T) {
	path := writeWorkset(t, `
version: 1
tasks:
  - id: zulu
  - id: alpha
  - id: mike
`)

	ws, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tasks, err := ws.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	want := []string{"zulu", "alpha", "mike"}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, tasks[i].ID)
		}
	}
}
