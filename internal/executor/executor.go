// Package executor drains a task graph with bounded concurrency, consulting
// the result cache before doing work and wrapping every work call in the
// resilience guard.
package executor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskmill/taskmill/internal/cache"
	"github.com/taskmill/taskmill/internal/graph"
	"github.com/taskmill/taskmill/internal/resilience"
	"github.com/taskmill/taskmill/internal/state"
	"github.com/taskmill/taskmill/pkg/models"
)

// DefaultMaxWorkers bounds concurrency when Options.MaxWorkers is unset.
const DefaultMaxWorkers = 4

// Result is what a work function produces for one task. The payload is
// opaque to the executor; Tokens is the call's actual metered cost, or 0
// when the work has no meter.
type Result struct {
	Payload string
	Tokens  int64
}

// WorkFunc performs the work for a single task. It must respect ctx and
// return promptly once ctx is done. Transient upstream failures should come
// back marked retryable (see the resilience package); any other error is
// permanent and fails the task.
type WorkFunc func(ctx context.Context, task *models.Task) (*Result, error)

// Options configures an Executor. Everything except the graph is optional.
type Options struct {
	// MaxWorkers is the maximum number of tasks in flight. Defaults to
	// DefaultMaxWorkers.
	MaxWorkers int
	// Cache is the result cache consulted before dispatching work.
	Cache *cache.Cache
	// KeyFunc derives the cache key for a task. Tasks for which it returns
	// a key with an empty fingerprint bypass the cache, as does everything
	// when KeyFunc or Cache is nil.
	KeyFunc func(*models.Task) cache.Key
	// Guard wraps every work call. Nil means work runs unguarded.
	Guard *resilience.Guard
	// GuardFor selects a guard for a specific task, letting callers route
	// scopes to different rate windows and breakers. When it is nil or
	// returns nil the task falls back to Guard.
	GuardFor func(*models.Task) *resilience.Guard
	// Store records run history when present.
	Store *state.Store
	// Events receives execution events. Sends never block; events are
	// dropped when the channel is full. The executor does not close it.
	Events chan<- models.Event
	// Logger receives operational log lines. Defaults to the standard
	// logger.
	Logger *log.Logger
}

// completion is what a worker goroutine reports back to the run loop.
// Every dispatched worker sends exactly one.
type completion struct {
	task     *models.Task
	res      *Result
	err      error
	cacheHit bool
	duration time.Duration
}

// Executor runs the tasks of one graph. It is not reusable across graphs;
// build a new Executor per run.
type Executor struct {
	graph *graph.Graph
	opts  Options

	mu          sync.Mutex
	work        map[string]WorkFunc
	defaultWork WorkFunc
	tally       map[models.TaskStatus]int
	failures    []models.TaskFailure

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// New creates an executor over the given graph.
func New(g *graph.Graph, opts Options) *Executor {
	return &Executor{
		graph: g,
		opts:  opts,
		work:  make(map[string]WorkFunc),
		tally: make(map[models.TaskStatus]int),
	}
}

// SetWork registers a work function for one task, overriding the default.
// Must be called before Run.
func (e *Executor) SetWork(taskID string, fn WorkFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.work[taskID] = fn
}

// SetDefaultWork registers the work function used by every task without a
// per-task override. Must be called before Run.
func (e *Executor) SetDefaultWork(fn WorkFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaultWork = fn
}

func (e *Executor) workFor(taskID string) WorkFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn, ok := e.work[taskID]; ok {
		return fn
	}
	return e.defaultWork
}

// guardFor resolves the guard that wraps a task's work call. The same
// guard must see the call and its RecordActual correction.
func (e *Executor) guardFor(task *models.Task) *resilience.Guard {
	if e.opts.GuardFor != nil {
		if g := e.opts.GuardFor(task); g != nil {
			return g
		}
	}
	return e.opts.Guard
}

// checkWork verifies every pending task has a work function before anything
// is dispatched. A missing work function is a wiring bug, not a task
// failure.
func (e *Executor) checkWork() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.defaultWork != nil {
		return nil
	}
	for _, task := range e.graph.Tasks() {
		if task.Status.Terminal() {
			continue
		}
		if _, ok := e.work[task.ID]; !ok {
			return fmt.Errorf("no work function registered for task %s", task.ID)
		}
	}
	return nil
}

// Progress returns a snapshot of the run. Safe to call from any goroutine
// while the run is executing.
func (e *Executor) Progress() models.Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.Progress{
		Total:       e.graph.Len(),
		Pending:     e.tally[models.TaskStatusPending],
		Running:     e.tally[models.TaskStatusInProgress],
		Completed:   e.tally[models.TaskStatusCompleted],
		Failed:      e.tally[models.TaskStatusFailed],
		Skipped:     e.tally[models.TaskStatusSkipped],
		Cancelled:   e.tally[models.TaskStatusCancelled],
		CacheHits:   e.cacheHits.Load(),
		CacheMisses: e.cacheMisses.Load(),
		Errors:      append([]models.TaskFailure(nil), e.failures...),
	}
}

// resetTally seeds the status tally from the graph. Called once at the top
// of Run, before any worker exists.
func (e *Executor) resetTally() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tally = make(map[models.TaskStatus]int)
	for _, task := range e.graph.Tasks() {
		status := task.Status
		if status == "" {
			status = models.TaskStatusPending
		}
		e.tally[status]++
	}
	e.failures = nil
	e.cacheHits.Store(0)
	e.cacheMisses.Store(0)
}

func (e *Executor) adjust(from, to models.TaskStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tally[from]--
	e.tally[to]++
}

func (e *Executor) addFailure(taskID, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, models.TaskFailure{TaskID: taskID, Reason: reason})
}

// emit sends an event without ever blocking the run loop. A full channel
// means a slow consumer; dropping is better than stalling execution.
func (e *Executor) emit(ev models.Event) {
	if e.opts.Events == nil {
		return
	}
	ev.Timestamp = time.Now()
	select {
	case e.opts.Events <- ev:
	default:
	}
}

func (e *Executor) logf(format string, args ...interface{}) {
	if e.opts.Logger != nil {
		e.opts.Logger.Printf("[executor] "+format, args...)
		return
	}
	log.Printf("[executor] "+format, args...)
}

// cacheKey returns the task's cache key and whether the task is cacheable.
func (e *Executor) cacheKey(task *models.Task) (cache.Key, bool) {
	if e.opts.Cache == nil || e.opts.KeyFunc == nil {
		return cache.Key{}, false
	}
	key := e.opts.KeyFunc(task)
	if key.Fingerprint == "" {
		return cache.Key{}, false
	}
	return key, true
}
