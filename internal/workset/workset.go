// Package workset loads task definitions from YAML files.
package workset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskmill/taskmill/pkg/models"
)

// Defaults are applied to tasks that leave the matching field empty.
type Defaults struct {
	Scope    string `yaml:"scope"`
	Priority int    `yaml:"priority"`
}

// TaskDef is one task as written in the workset file.
type TaskDef struct {
	ID            string   `yaml:"id"`
	Parent        string   `yaml:"parent"`
	Title         string   `yaml:"title"`
	Detail        string   `yaml:"detail"`
	DependsOn     []string `yaml:"depends_on"`
	Priority      *int     `yaml:"priority"`
	Scope         string   `yaml:"scope"`
	Target        string   `yaml:"target"`
	Source        string   `yaml:"source"`
	EstimatedCost int      `yaml:"estimated_cost"`
}

// Workset is a parsed task file.
type Workset struct {
	Version  int       `yaml:"version"`
	Defaults Defaults  `yaml:"defaults"`
	TaskDefs []TaskDef `yaml:"tasks"`

	// dir is the directory of the workset file; relative sources resolve
	// against it.
	dir string
}

// Load reads and parses a workset file. Unknown fields are rejected so
// typos surface instead of silently dropping configuration.
func Load(path string) (*Workset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workset %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var ws Workset
	if err := dec.Decode(&ws); err != nil {
		return nil, fmt.Errorf("parse workset %s: %w", path, err)
	}

	if ws.Version == 0 {
		ws.Version = 1
	}
	if ws.Version != 1 {
		return nil, fmt.Errorf("workset %s: unsupported version %d", path, ws.Version)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve workset path %s: %w", path, err)
	}
	ws.dir = filepath.Dir(abs)
	return &ws, nil
}

// resolveSource makes a source path absolute, relative to the workset
// file's directory. Cache entries, fingerprints, and the file watcher
// all key on the resolved path, so every consumer sees one spelling.
func (ws *Workset) resolveSource(src string) string {
	if src == "" {
		return ""
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(ws.dir, src)
	}
	return filepath.Clean(src)
}

// Tasks converts the definitions into tasks, applying defaults and
// validating that IDs are unique and non-empty. Tasks come back in file
// order.
func (ws *Workset) Tasks() ([]*models.Task, error) {
	if len(ws.TaskDefs) == 0 {
		return nil, fmt.Errorf("workset has no tasks")
	}

	seen := make(map[string]bool, len(ws.TaskDefs))
	tasks := make([]*models.Task, 0, len(ws.TaskDefs))
	now := time.Now()

	for i, def := range ws.TaskDefs {
		if def.ID == "" {
			return nil, fmt.Errorf("task %d: missing id", i)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate task id %q", def.ID)
		}
		seen[def.ID] = true

		title := def.Title
		if title == "" {
			title = def.ID
		}
		scope := def.Scope
		if scope == "" {
			scope = ws.Defaults.Scope
		}
		priority := ws.Defaults.Priority
		if def.Priority != nil {
			priority = *def.Priority
		}

		tasks = append(tasks, &models.Task{
			ID:            def.ID,
			ParentID:      def.Parent,
			Title:         title,
			Detail:        def.Detail,
			Status:        models.TaskStatusPending,
			DependsOn:     append([]string(nil), def.DependsOn...),
			Priority:      priority,
			Scope:         scope,
			Target:        def.Target,
			Source:        ws.resolveSource(def.Source),
			EstimatedCost: def.EstimatedCost,
			CreatedAt:     now,
		})
	}

	return tasks, nil
}

// Sources returns the distinct non-empty source paths across all tasks,
// in first-appearance order. The run command registers these with the
// cache watcher.
func (ws *Workset) Sources() []string {
	seen := make(map[string]bool)
	var sources []string
	for _, def := range ws.TaskDefs {
		src := ws.resolveSource(def.Source)
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		sources = append(sources, src)
	}
	return sources
}
