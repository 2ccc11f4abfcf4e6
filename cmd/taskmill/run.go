package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskmill/taskmill/internal/cache"
	"github.com/taskmill/taskmill/internal/cancel"
	"github.com/taskmill/taskmill/internal/config"
	"github.com/taskmill/taskmill/internal/executor"
	"github.com/taskmill/taskmill/internal/graph"
	"github.com/taskmill/taskmill/internal/llm"
	"github.com/taskmill/taskmill/internal/resilience"
	"github.com/taskmill/taskmill/internal/state"
	"github.com/taskmill/taskmill/internal/workset"
	"github.com/taskmill/taskmill/pkg/models"
)

var (
	runWorkers int
	runNoCache bool
	runWatch   bool
	runTUI     bool
	runDryRun  bool
	runModel   string
	runTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <workset.yaml>",
	Short: "Execute a workset",
	Long: `Run every task in a workset, respecting dependencies and priorities.

Tasks run in parallel up to the worker limit. Each task's prompt is sent
to the Anthropic API behind a resilience stack: per-task timeout, sliding
rate limit on requests and tokens, circuit breaker, and retry with
backoff for transient failures.

Results are cached by content fingerprint. A task whose prompt and source
file are unchanged is served from the cache instead of calling the API
again. Use --no-cache to bypass, or --watch to invalidate entries live
when source files change during the run.

Workset format (YAML):

  version: 1
  defaults:
    scope: docs
  tasks:
    - id: outline
      title: Outline the report
      detail: Draft a section outline for the Q3 report.
    - id: summary
      title: Summarize the design doc
      detail: Summarize doc.md in five bullet points.
      source: doc.md
      depends_on: [outline]
      priority: 10

Use --dry-run to preview the execution waves without calling the API.
Press Ctrl+C to cancel; in-flight tasks stop at the next safe point and
everything still pending is marked cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkset,
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Maximum tasks in flight (overrides config)")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "Bypass the result cache entirely")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Invalidate cached results when source files change during the run")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a live progress monitor")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Print the execution waves without running anything")
	runCmd.Flags().StringVar(&runModel, "model", "", "Claude model to use (overrides config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-task timeout including retries (overrides config)")
}

func runWorkset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ws, err := workset.Load(args[0])
	if err != nil {
		return err
	}
	tasks, err := ws.Tasks()
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	g := graph.New()
	if os.Getenv("TASKMILL_DEBUG") != "" {
		g.SetDebugLog(log.Printf)
	}
	for _, t := range tasks {
		if err := g.Add(t); err != nil {
			return fmt.Errorf("build graph: %w", err)
		}
	}
	if err := g.Finalize(); err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	if runDryRun {
		return printWaves(g)
	}

	client, err := llm.NewClient(llm.Config{
		Model:      anthropic.Model(cfg.Anthropic.Model),
		APIKey:     cfg.Anthropic.APIKey,
		UseBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:  cfg.Anthropic.AWSRegion,
		AWSProfile: cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return err
	}

	var store *state.Store
	statePath := state.DefaultDBPath()
	if cfg.State.Dir != "" {
		statePath = filepath.Join(cfg.State.Dir, "history.db")
	}
	store, err = state.Open(statePath)
	if err != nil {
		log.Printf("[run] run history disabled: %v", err)
		store = nil
	} else {
		defer store.Close()
	}

	var resultCache *cache.Cache
	if !runNoCache {
		cachePath := cache.DefaultDBPath()
		if cfg.Cache.Dir != "" {
			cachePath = filepath.Join(cfg.Cache.Dir, "cache.db")
		}
		cstore, err := cache.OpenStore(cachePath)
		if err != nil {
			log.Printf("[run] cache disabled: %v", err)
		} else {
			defer cstore.Close()
			resultCache = cache.New(cstore, cfg.Cache.MaxAge)
		}
	}

	runHandle := cancel.NewRun(context.Background())
	registry := cancel.NewRegistry()
	registry.Register(runHandle)
	defer registry.Remove(runHandle.ID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nReceived interrupt, cancelling run...")
			registry.CancelAll("interrupted")
		case <-runHandle.Done():
		}
	}()

	if cfg.Run.Watch && resultCache != nil {
		watcher, err := cache.NewWatcher(resultCache)
		if err != nil {
			log.Printf("[run] source watching disabled: %v", err)
		} else {
			defer watcher.Close()
			for _, src := range ws.Sources() {
				if err := watcher.Add(src); err != nil {
					log.Printf("[run] cannot watch %s: %v", src, err)
				}
			}
			go watcher.Run(runHandle.Context())
		}
	}

	policy, err := resilience.LoadPolicy(".")
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	guard := resilience.NewGuard("anthropic", cfg.GuardConfig())
	// Scopes with policy overrides get their own rate window and breaker;
	// everything else shares the base guard.
	scopeGuards := make(map[string]*resilience.Guard, len(policy.Scopes))
	for scope := range policy.Scopes {
		scopeGuards[scope] = resilience.NewGuard("anthropic/"+scope, policy.GuardFor(scope, cfg.GuardConfig()))
	}
	events := make(chan models.Event, 64)

	exec := executor.New(g, executor.Options{
		MaxWorkers: cfg.Run.Workers,
		Cache:      resultCache,
		KeyFunc:    buildKeyFunc(ws.Sources()),
		Guard:      guard,
		GuardFor: func(t *models.Task) *resilience.Guard {
			return scopeGuards[t.Scope]
		},
		Store:  store,
		Events: events,
	})
	exec.SetDefaultWork(llm.WorkFunc(client))

	var result *models.RunResult
	if runTUI {
		result, err = runWithTUI(exec, runHandle, g.Len(), events)
	} else {
		result, err = runPlain(exec, runHandle, events)
	}
	if err != nil {
		return err
	}

	printSummary(result, resultCache, client.Tracker())

	if n := len(result.Failed); n > 0 {
		return fmt.Errorf("%d of %d tasks failed", n, g.Len())
	}
	if len(result.Cancelled) > 0 {
		return fmt.Errorf("run cancelled: %s", runHandle.Reason())
	}
	return nil
}

// applyFlagOverrides folds explicit run flags into the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("workers") {
		cfg.Run.Workers = runWorkers
	}
	if cmd.Flags().Changed("model") {
		cfg.Anthropic.Model = runModel
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Run.TaskTimeout = runTimeout
	}
	if runWatch {
		cfg.Run.Watch = true
	}
}

// buildKeyFunc fingerprints each source file once up front and derives
// cache keys from the source fingerprint plus the prompt text. Tasks
// whose source cannot be read bypass the cache rather than serve a
// result for content we cannot verify.
func buildKeyFunc(sources []string) func(*models.Task) cache.Key {
	fps := make(map[string]string, len(sources))
	for _, src := range sources {
		fp, err := cache.FingerprintFile(src)
		if err != nil {
			log.Printf("[run] cannot fingerprint %s: %v", src, err)
			continue
		}
		fps[src] = fp
	}

	return func(t *models.Task) cache.Key {
		prompt := t.Detail
		if prompt == "" {
			prompt = t.Title
		}
		material := prompt
		if t.Source != "" {
			fp, ok := fps[t.Source]
			if !ok {
				return cache.Key{}
			}
			material = fp + "\x00" + prompt
		}
		target := t.Target
		if target == "" {
			target = t.ID
		}
		return cache.Key{
			Fingerprint: cache.Fingerprint([]byte(material)),
			Scope:       t.Scope,
			Target:      target,
		}
	}
}

// runPlain executes the run while printing events to stdout.
func runPlain(exec *executor.Executor, run *cancel.Run, events chan models.Event) (*models.RunResult, error) {
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		for ev := range events {
			printEvent(ev)
		}
	}()

	result, err := exec.Run(context.Background(), run)

	// The run loop has returned, so no more events will be sent.
	close(events)
	<-printerDone
	return result, err
}

// printWaves prints the dependency waves without executing anything.
// Wave k holds the tasks whose longest dependency chain has length k;
// tasks in the same wave could run concurrently.
func printWaves(g *graph.Graph) error {
	waves, err := g.Waves()
	if err != nil {
		return err
	}
	fmt.Printf("%d tasks in %d waves\n", g.Len(), len(waves))
	for i, wave := range waves {
		fmt.Printf("\nwave %d:\n", i+1)
		for _, id := range wave {
			t := g.Get(id)
			line := fmt.Sprintf("  %s  %s", id, t.Title)
			if t.ParentID != "" {
				line += fmt.Sprintf("  (under %s)", t.ParentID)
			}
			if len(t.DependsOn) > 0 {
				line += fmt.Sprintf("  (after %s)", strings.Join(t.DependsOn, ", "))
			}
			fmt.Println(line)
		}
	}
	return nil
}

func printEvent(ev models.Event) {
	switch ev.Type {
	case models.EventTaskStarted:
		fmt.Printf("⏳ %s %s\n", ev.TaskID, ev.TaskTitle)
	case models.EventTaskCompleted:
		detail := fmt.Sprintf("%s %s (%.1fs, %s tokens)",
			ev.TaskID, ev.TaskTitle, ev.Duration.Seconds(), formatNumber(int(ev.TokensUsed)))
		printStatus("✓", detail, color.FgGreen)
	case models.EventTaskCacheHit:
		printStatus("↻", fmt.Sprintf("%s %s (cached)", ev.TaskID, ev.TaskTitle), color.FgCyan)
	case models.EventTaskFailed:
		printStatus("✗", fmt.Sprintf("%s %s: %s", ev.TaskID, ev.TaskTitle, ev.Err), color.FgRed)
	case models.EventTaskSkipped:
		printStatus("-", fmt.Sprintf("%s %s (%s)", ev.TaskID, ev.TaskTitle, ev.Message), color.FgYellow)
	case models.EventRunCancelled:
		printStatus("✗", "run cancelled: "+ev.Message, color.FgRed)
	}
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

func printSummary(result *models.RunResult, c *cache.Cache, tracker *llm.TokenTracker) {
	fmt.Println()
	fmt.Printf("Run %s finished in %s\n", result.RunID, formatDuration(result.Duration))
	fmt.Printf("  Completed: %d  Failed: %d  Skipped: %d  Cancelled: %d\n",
		len(result.Completed), len(result.Failed), len(result.Skipped), len(result.Cancelled))
	if c != nil {
		if st := c.Stats(); st.Hits+st.Misses > 0 {
			fmt.Printf("  Cache: %d hits / %d misses (%.0f%% hit rate)\n",
				st.Hits, st.Misses, st.HitRate()*100)
		}
	}
	if tracker != nil {
		if in, out := tracker.Total(); in+out > 0 {
			fmt.Printf("  Tokens: %s in / %s out over %d calls ($%.2f)\n",
				formatNumber(int(in)), formatNumber(int(out)), tracker.Calls(), tracker.Cost())
		}
	}
	for _, f := range result.Failed {
		printStatus("✗", f.TaskID+": "+f.Reason, color.FgRed)
	}
}
