package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskmill/taskmill/internal/cancel"
	"github.com/taskmill/taskmill/internal/resilience"
	"github.com/taskmill/taskmill/pkg/models"
)

// Run executes the graph until every task reaches a terminal status or the
// run is cancelled. Task failures do not abort the run: the failed task's
// downstream cone is skipped and the rest of the graph keeps executing. The
// error return is reserved for structural problems (unfinalized graph,
// missing work function); inspect the RunResult for per-task outcomes.
func (e *Executor) Run(ctx context.Context, run *cancel.Run) (*models.RunResult, error) {
	if run == nil {
		return nil, fmt.Errorf("run must not be nil")
	}
	if !e.graph.Finalized() {
		return nil, fmt.Errorf("graph must be finalized before Run")
	}
	if err := e.checkWork(); err != nil {
		return nil, err
	}

	workers := e.opts.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}

	// Workers stop when either the run is cancelled or the caller's context
	// dies; wctx merges the two.
	wctx, stopWorkers := context.WithCancel(run.Context())
	defer stopWorkers()
	unhook := context.AfterFunc(ctx, stopWorkers)
	defer unhook()

	e.resetTally()
	start := time.Now()

	if e.opts.Store != nil {
		if err := e.opts.Store.BeginRun(run.ID(), start, e.graph.Len()); err != nil {
			e.logf("begin run %s: %v", run.ID(), err)
		}
	}
	e.logf("run %s: %d tasks, %d workers", run.ID(), e.graph.Len(), workers)

	completionCh := make(chan completion, workers)
	inflight := 0
	var wg sync.WaitGroup

	for {
		// Dispatch into free slots unless the run is shutting down. Status
		// transitions all happen on this goroutine; workers only do work.
		if wctx.Err() == nil {
			for _, task := range e.graph.Ready() {
				if inflight >= workers {
					break
				}
				if err := task.SetStatus(models.TaskStatusInProgress); err != nil {
					e.logf("dispatch %s: %v", task.ID, err)
					continue
				}
				e.adjust(models.TaskStatusPending, models.TaskStatusInProgress)
				inflight++
				e.emit(models.Event{
					Type:      models.EventTaskStarted,
					TaskID:    task.ID,
					TaskTitle: task.Title,
				})

				wg.Add(1)
				go e.worker(wctx, task, completionCh, &wg)
			}
		}

		if inflight == 0 {
			// Nothing running and nothing dispatched: the graph is drained,
			// stuck, or the run is cancelled. All three mean stop.
			break
		}

		comp := <-completionCh
		inflight--
		e.finish(wctx, run, comp)
	}
	wg.Wait()

	cancelled := wctx.Err() != nil
	result := e.collect(run, start, cancelled)

	if cancelled {
		e.emit(models.Event{Type: models.EventRunCancelled, Message: run.Reason()})
	}
	e.emit(models.Event{
		Type: models.EventRunDone,
		Message: fmt.Sprintf("%d completed, %d failed, %d skipped, %d cancelled",
			len(result.Completed), len(result.Failed), len(result.Skipped), len(result.Cancelled)),
	})

	if e.opts.Store != nil {
		err := e.opts.Store.FinishRun(run.ID(), result, e.cacheHits.Load(), e.cacheMisses.Load(), run.Reason())
		if err != nil {
			e.logf("finish run %s: %v", run.ID(), err)
		}
	}
	e.logf("run %s done in %s: %d completed, %d failed, %d skipped, %d cancelled",
		run.ID(), result.Duration.Round(time.Millisecond),
		len(result.Completed), len(result.Failed), len(result.Skipped), len(result.Cancelled))

	return result, nil
}

func (e *Executor) worker(ctx context.Context, task *models.Task, ch chan<- completion, wg *sync.WaitGroup) {
	defer wg.Done()
	startedAt := time.Now()
	res, cacheHit, err := e.execute(ctx, task)
	ch <- completion{
		task:     task,
		res:      res,
		err:      err,
		cacheHit: cacheHit,
		duration: time.Since(startedAt),
	}
}

// execute resolves one task: cache first, then the guarded work function.
func (e *Executor) execute(ctx context.Context, task *models.Task) (*Result, bool, error) {
	key, cacheable := e.cacheKey(task)
	if cacheable {
		if entry, ok := e.opts.Cache.Get(key); ok {
			e.cacheHits.Add(1)
			return &Result{Payload: entry.Payload, Tokens: entry.TokensUsed}, true, nil
		}
		e.cacheMisses.Add(1)
	}

	work := e.workFor(task.ID)
	if work == nil {
		return nil, false, fmt.Errorf("no work function registered for task %s", task.ID)
	}

	var res *Result
	call := resilience.Call{
		Name:          task.ID,
		EstimatedCost: task.EstimatedCost,
		Fn: func(fnCtx context.Context) error {
			r, err := work(fnCtx, task)
			if err != nil {
				return err
			}
			if r == nil {
				r = &Result{}
			}
			res = r
			return nil
		},
	}

	guard := e.guardFor(task)

	var err error
	if guard != nil {
		err = guard.Do(ctx, call)
	} else {
		err = call.Fn(ctx)
	}
	if err != nil {
		return nil, false, err
	}

	if guard != nil && res.Tokens > 0 {
		guard.RecordActual(int(res.Tokens))
	}

	if cacheable {
		if perr := e.opts.Cache.Put(key, res.Payload, task.Source, res.Tokens); perr != nil {
			e.logf("cache put for task %s: %v", task.ID, perr)
		}
	}
	return res, false, nil
}

// finish applies one completion to the graph. Runs on the loop goroutine.
func (e *Executor) finish(wctx context.Context, run *cancel.Run, comp completion) {
	task := comp.task

	switch {
	case comp.err == nil:
		if err := task.SetStatus(models.TaskStatusCompleted); err != nil {
			e.logf("complete %s: %v", task.ID, err)
			return
		}
		e.adjust(models.TaskStatusInProgress, models.TaskStatusCompleted)

		ev := models.Event{
			Type:      models.EventTaskCompleted,
			TaskID:    task.ID,
			TaskTitle: task.Title,
			Duration:  comp.duration,
		}
		if comp.res != nil {
			ev.TokensUsed = comp.res.Tokens
		}
		if comp.cacheHit {
			ev.Type = models.EventTaskCacheHit
			ev.Message = "satisfied from cache"
		}
		e.emit(ev)
		e.record(run, task, ev.TokensUsed, comp.duration)

	case isCancellation(wctx, comp.err):
		if err := task.SetStatus(models.TaskStatusCancelled); err != nil {
			e.logf("cancel %s: %v", task.ID, err)
			return
		}
		e.adjust(models.TaskStatusInProgress, models.TaskStatusCancelled)
		e.record(run, task, 0, comp.duration)

	default:
		reason := comp.err.Error()
		if err := task.Fail(reason); err != nil {
			e.logf("fail %s: %v", task.ID, err)
			return
		}
		e.adjust(models.TaskStatusInProgress, models.TaskStatusFailed)
		e.addFailure(task.ID, reason)
		e.emit(models.Event{
			Type:      models.EventTaskFailed,
			TaskID:    task.ID,
			TaskTitle: task.Title,
			Err:       reason,
			Duration:  comp.duration,
		})
		e.record(run, task, 0, comp.duration)
		e.skipDependents(run, task.ID)
	}
}

// skipDependents marks every still-pending transitive dependent of a failed
// task as skipped. Skipped tasks never unblock anything downstream, so one
// failure takes out exactly its cone.
func (e *Executor) skipDependents(run *cancel.Run, failedID string) {
	for _, depID := range e.graph.TransitiveDependents(failedID) {
		task := e.graph.Get(depID)
		if task == nil || task.Status != models.TaskStatusPending {
			continue
		}
		if err := task.SetStatus(models.TaskStatusSkipped); err != nil {
			e.logf("skip %s: %v", depID, err)
			continue
		}
		e.adjust(models.TaskStatusPending, models.TaskStatusSkipped)
		e.emit(models.Event{
			Type:      models.EventTaskSkipped,
			TaskID:    task.ID,
			TaskTitle: task.Title,
			Message:   fmt.Sprintf("upstream task %s failed", failedID),
		})
		e.record(run, task, 0, 0)
	}
}

// collect resolves leftover pending tasks and assembles the run result.
// After the loop exits nothing is in flight, so any task still pending is
// unreachable: cancelled runs report them cancelled, otherwise they sit
// downstream of a cancelled task and are skipped.
func (e *Executor) collect(run *cancel.Run, start time.Time, cancelled bool) *models.RunResult {
	for _, task := range e.graph.Tasks() {
		if task.Status != models.TaskStatusPending && task.Status != "" {
			continue
		}
		to := models.TaskStatusSkipped
		if cancelled {
			to = models.TaskStatusCancelled
		}
		if err := task.SetStatus(to); err != nil {
			e.logf("resolve %s: %v", task.ID, err)
			continue
		}
		e.adjust(models.TaskStatusPending, to)
		e.record(run, task, 0, 0)
	}

	result := &models.RunResult{RunID: run.ID(), Duration: time.Since(start)}
	for _, task := range e.graph.Tasks() {
		switch task.Status {
		case models.TaskStatusCompleted:
			result.Completed = append(result.Completed, task.ID)
		case models.TaskStatusFailed:
			result.Failed = append(result.Failed, models.TaskFailure{TaskID: task.ID, Reason: task.LastError})
		case models.TaskStatusSkipped:
			result.Skipped = append(result.Skipped, task.ID)
		case models.TaskStatusCancelled:
			result.Cancelled = append(result.Cancelled, task.ID)
		}
	}
	sort.Strings(result.Completed)
	sort.Strings(result.Skipped)
	sort.Strings(result.Cancelled)
	sort.Slice(result.Failed, func(i, j int) bool {
		return result.Failed[i].TaskID < result.Failed[j].TaskID
	})
	return result
}

func (e *Executor) record(run *cancel.Run, task *models.Task, tokens int64, d time.Duration) {
	if e.opts.Store == nil {
		return
	}
	if err := e.opts.Store.RecordTask(run.ID(), task, tokens, d); err != nil {
		e.logf("record task %s: %v", task.ID, err)
	}
}

// isCancellation distinguishes "the run was stopped" from "the work failed".
// A cancelled task is not a failure: it does not skip dependents and does
// not count toward the breaker.
func isCancellation(wctx context.Context, err error) bool {
	var cerr *cancel.CancelledError
	if errors.As(err, &cerr) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	// A bare deadline error can only come from outside the guard stack;
	// treat it as cancellation when the run context is indeed dead.
	return errors.Is(err, context.DeadlineExceeded) && wctx.Err() != nil
}
