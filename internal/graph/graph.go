// Package graph provides the dependency graph tasks execute over.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/taskmill/taskmill/pkg/models"
)

// CycleError indicates a circular dependency in the task graph. Path holds
// the task IDs along the cycle, ending where it started.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// UnknownDependencyError indicates a task depends on an ID that was never
// added to the graph.
type UnknownDependencyError struct {
	TaskID    string
	DependsOn string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unknown task %s", e.TaskID, e.DependsOn)
}

// DuplicateIDError indicates an Add with an ID the graph already holds.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate task ID %q", e.ID)
}

// Graph is a directed acyclic graph of task dependencies. Edges point from
// a task to the tasks it depends on. Task status is the single source of
// truth for scheduling: a task is ready when it is pending and every
// dependency is completed.
type Graph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on.
	edges map[string][]string
	// order records task IDs in insertion order; ties among equal
	// priorities dispatch in this order.
	order []string
	// finalized is set once Finalize has verified the graph.
	finalized bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*models.Task),
		edges:    make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *Graph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Add registers a task. It rejects empty and duplicate IDs, and rejects the
// task immediately if its edges close a cycle among tasks already present.
// Dependencies on tasks not yet added are allowed (forward references);
// Finalize verifies them.
func (g *Graph) Add(task *models.Task) error {
	if task == nil {
		return fmt.Errorf("add: nil task")
	}
	if task.ID == "" {
		return fmt.Errorf("add: task has empty ID")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[task.ID]; exists {
		return &DuplicateIDError{ID: task.ID}
	}
	for _, depID := range task.DependsOn {
		if depID == task.ID {
			return &CycleError{Path: []string{task.ID, task.ID}}
		}
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}

	g.nodes[task.ID] = task
	g.edges[task.ID] = append([]string(nil), task.DependsOn...)
	g.finalized = false

	// A new task can only close a cycle through edges that already exist,
	// so a DFS from the new node suffices.
	if path := g.findCycleLocked(task.ID); path != nil {
		delete(g.nodes, task.ID)
		delete(g.edges, task.ID)
		return &CycleError{Path: path}
	}
	g.order = append(g.order, task.ID)

	g.debugLog("[graph.Add] added task id=%s depends_on=%v", task.ID, task.DependsOn)
	return nil
}

// Finalize verifies every dependency references a known task and that the
// graph is acyclic. It must be called before execution.
func (g *Graph) Finalize() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, deps := range g.edges {
		for _, depID := range deps {
			if _, exists := g.nodes[depID]; !exists {
				return &UnknownDependencyError{TaskID: id, DependsOn: depID}
			}
		}
	}

	ids := g.sortedIDsLocked()
	for _, id := range ids {
		if path := g.findCycleLocked(id); path != nil {
			return &CycleError{Path: path}
		}
	}

	g.finalized = true
	g.debugLog("[graph.Finalize] graph verified with %d nodes", len(g.nodes))
	return nil
}

// Finalized reports whether Finalize has run since the last mutation.
func (g *Graph) Finalized() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.finalized
}

// findCycleLocked runs a three-color DFS from start and returns the cycle
// path if one is reachable, nil otherwise. Edges to unknown tasks are
// skipped; Finalize rejects those separately.
func (g *Graph) findCycleLocked(start string) []string {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int)
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = 1
		stack = append(stack, id)

		for _, depID := range g.edges[id] {
			if _, exists := g.nodes[depID]; !exists {
				continue
			}
			switch colors[depID] {
			case 1:
				// Back edge: slice the stack from the repeated node.
				for i, sid := range stack {
					if sid == depID {
						path := append([]string(nil), stack[i:]...)
						return append(path, depID)
					}
				}
				return []string{depID, depID}
			case 0:
				if path := visit(depID); path != nil {
					return path
				}
			}
		}

		colors[id] = 2
		stack = stack[:len(stack)-1]
		return nil
	}

	return visit(start)
}

// Ready returns tasks that are pending with every dependency completed,
// ordered by priority descending with ties in insertion order.
func (g *Graph) Ready() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.Task
	for _, id := range g.order {
		task := g.nodes[id]
		if task.Status != models.TaskStatusPending {
			continue
		}
		if g.depsCompleteLocked(id) {
			ready = append(ready, task)
		}
	}

	// Stable sort keeps insertion order among equal priorities.
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority > ready[j].Priority
	})

	g.debugLog("[graph.Ready] %d of %d tasks ready", len(ready), len(g.nodes))
	return ready
}

// Blocked returns pending tasks with at least one dependency not yet
// completed, in the same order Ready uses.
func (g *Graph) Blocked() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var blocked []*models.Task
	for _, id := range g.order {
		task := g.nodes[id]
		if task.Status != models.TaskStatusPending {
			continue
		}
		if !g.depsCompleteLocked(id) {
			blocked = append(blocked, task)
		}
	}

	sort.SliceStable(blocked, func(i, j int) bool {
		return blocked[i].Priority > blocked[j].Priority
	})
	return blocked
}

func (g *Graph) depsCompleteLocked(id string) bool {
	for _, depID := range g.edges[id] {
		dep, exists := g.nodes[depID]
		if !exists || dep.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// Dependents returns the IDs of tasks that directly depend on the given task.
func (g *Graph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependentsLocked(taskID)
}

func (g *Graph) dependentsLocked(taskID string) []string {
	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// TransitiveDependents returns every task downstream of the given task,
// breadth-first, deduplicated. Used to skip the whole cone below a failure.
func (g *Graph) TransitiveDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var result []string
	queue := g.dependentsLocked(taskID)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
		queue = append(queue, g.dependentsLocked(id)...)
	}

	return result
}

// Dependencies returns the IDs of tasks the given task depends on.
func (g *Graph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

// Get returns the task for a given ID, or nil if not found.
func (g *Graph) Get(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Tasks returns all tasks sorted by ID.
func (g *Graph) Tasks() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(g.nodes))
	for _, id := range g.sortedIDsLocked() {
		tasks = append(tasks, g.nodes[id])
	}
	return tasks
}

// Counts returns the number of tasks in each status.
func (g *Graph) Counts() map[models.TaskStatus]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[models.TaskStatus]int)
	for _, task := range g.nodes {
		counts[task.Status]++
	}
	return counts
}

// Waves returns task IDs grouped by dependency depth: wave 0 holds tasks
// with no dependencies, wave k tasks whose longest dependency chain has
// length k. Used by dry-run output to show potential parallelism.
func (g *Graph) Waves() ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	depth := make(map[string]int)
	var resolve func(id string, trail map[string]bool) (int, error)
	resolve = func(id string, trail map[string]bool) (int, error) {
		if d, ok := depth[id]; ok {
			return d, nil
		}
		if trail[id] {
			return 0, &CycleError{Path: []string{id, id}}
		}
		trail[id] = true
		defer delete(trail, id)

		max := -1
		for _, depID := range g.edges[id] {
			if _, exists := g.nodes[depID]; !exists {
				return 0, &UnknownDependencyError{TaskID: id, DependsOn: depID}
			}
			d, err := resolve(depID, trail)
			if err != nil {
				return 0, err
			}
			if d > max {
				max = d
			}
		}
		depth[id] = max + 1
		return max + 1, nil
	}

	maxDepth := 0
	for _, id := range g.sortedIDsLocked() {
		d, err := resolve(id, make(map[string]bool))
		if err != nil {
			return nil, err
		}
		if d > maxDepth {
			maxDepth = d
		}
	}
	if len(g.nodes) == 0 {
		return nil, nil
	}

	waves := make([][]string, maxDepth+1)
	for _, id := range g.sortedIDsLocked() {
		d := depth[id]
		waves[d] = append(waves[d], id)
	}
	return waves, nil
}

func (g *Graph) sortedIDsLocked() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
