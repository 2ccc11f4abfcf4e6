package cancel

import "sync"

// Registry tracks live runs so callers can cancel by ID or sweep
// everything on shutdown. Construct with NewRegistry; there is no package
// global.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Register adds a run to the registry.
func (reg *Registry) Register(run *Run) {
	if run == nil {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.runs[run.ID()] = run
}

// Get returns the run with the given ID.
func (reg *Registry) Get(id string) (*Run, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	run, ok := reg.runs[id]
	return run, ok
}

// Remove drops a run from the registry. It does not cancel the run.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.runs, id)
}

// CancelAll cancels every registered run and returns how many this call
// actually cancelled (runs already cancelled do not count).
func (reg *Registry) CancelAll(reason string) int {
	reg.mu.RLock()
	runs := make([]*Run, 0, len(reg.runs))
	for _, run := range reg.runs {
		runs = append(runs, run)
	}
	reg.mu.RUnlock()

	cancelled := 0
	for _, run := range runs {
		if run.Cancel(reason) {
			cancelled++
		}
	}
	return cancelled
}

// Active returns the registered runs that have not been cancelled.
func (reg *Registry) Active() []*Run {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var active []*Run
	for _, run := range reg.runs {
		if !run.Cancelled() {
			active = append(active, run)
		}
	}
	return active
}
