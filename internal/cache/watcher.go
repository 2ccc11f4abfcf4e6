package cache

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates cache entries when their source files change on
// disk. Parent directories are watched rather than the files themselves so
// editors that replace files atomically still produce events.
type Watcher struct {
	cache   *Cache
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	sources map[string]bool
	dirs    map[string]bool
	timers  map[string]*time.Timer

	// debounce coalesces the burst of events a single save produces.
	debounce time.Duration
}

// NewWatcher creates a watcher over the given cache.
func NewWatcher(cache *Cache) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		cache:    cache,
		watcher:  fsw,
		sources:  make(map[string]bool),
		dirs:     make(map[string]bool),
		timers:   make(map[string]*time.Timer),
		debounce: 500 * time.Millisecond,
	}, nil
}

// Add registers a source path. Events for unregistered paths in the same
// directory are ignored.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sources[abs] = true
	dir := filepath.Dir(abs)
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.dirs[dir] = true
	return nil
}

// Run consumes filesystem events until ctx ends. Watch errors are logged
// and watching continues.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				log.Printf("[watcher] error: %v", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	if event.Op&relevant == 0 {
		return
	}

	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.sources[path] {
		return
	}

	// Restart the per-path timer; only the last event in a burst fires.
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.invalidate(path)
	})
}

func (w *Watcher) invalidate(path string) {
	n, err := w.cache.InvalidateSource(path)
	if err != nil {
		log.Printf("[watcher] invalidate %s: %v", path, err)
		return
	}
	if n > 0 {
		log.Printf("[watcher] %s changed, invalidated %d cached results", path, n)
	}
}

// Close stops the watcher and cancels pending debounce timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
