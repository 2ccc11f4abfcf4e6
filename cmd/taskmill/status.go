package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmill/taskmill/internal/cache"
	"github.com/taskmill/taskmill/internal/state"
)

var statusRunID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and cache state",
	Long: `Display recent run history from the state store.

Shows:
  - Recent runs with outcome, task counts, and timing
  - Cache entry count and size
  - Per-task detail for one run with --run <id>`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusRunID, "run", "", "Show task detail for one run ID")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath := state.DefaultDBPath()
	if cfg.State.Dir != "" {
		dbPath = filepath.Join(cfg.State.Dir, "history.db")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No run history yet. Run 'taskmill run <workset.yaml>' to start.")
		return nil
	}

	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	if statusRunID != "" {
		return displayRun(store, statusRunID)
	}

	if err := displayRecentRuns(store); err != nil {
		return err
	}

	displayCacheStats(cfg.Cache.Dir)
	return nil
}

func displayRecentRuns(store *state.Store) error {
	runs, err := store.RecentRuns(10)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No run history yet. Run 'taskmill run <workset.yaml>' to start.")
		return nil
	}

	fmt.Println("Recent Runs:")
	for _, r := range runs {
		line := fmt.Sprintf("  %s  %-9s  %d/%d tasks  %s  (%s ago)",
			r.ID, r.Outcome, r.Completed, r.Total,
			runDuration(r), formatDuration(time.Since(r.StartedAt)))
		if r.Failed > 0 {
			line += fmt.Sprintf("  %d failed", r.Failed)
		}
		fmt.Println(line)
	}
	return nil
}

// runDuration renders a run's wall time. Runs without a finish timestamp
// (still running, or the process died) have no duration to show.
func runDuration(r *state.RunRecord) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return formatDuration(r.FinishedAt.Sub(r.StartedAt))
}

func displayRun(store *state.Store, runID string) error {
	rec, err := store.GetRun(runID)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("run %q not found", runID)
	}

	fmt.Printf("Run %s: %s\n", rec.ID, rec.Outcome)
	fmt.Printf("  Started: %s (%s ago)\n",
		rec.StartedAt.Format("2006-01-02 15:04:05"),
		formatDuration(time.Since(rec.StartedAt)))
	fmt.Printf("  Duration: %s\n", runDuration(rec))
	fmt.Printf("  Tasks: %d completed, %d failed, %d skipped, %d cancelled\n",
		rec.Completed, rec.Failed, rec.Skipped, rec.Cancelled)
	if rec.CacheHits+rec.CacheMisses > 0 {
		fmt.Printf("  Cache: %d hits / %d misses\n", rec.CacheHits, rec.CacheMisses)
	}
	if rec.Reason != "" {
		fmt.Printf("  Reason: %s\n", rec.Reason)
	}

	tasks, err := store.RunTasks(runID)
	if err != nil {
		return fmt.Errorf("list run tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Println("Tasks:")

	// Tasks spawned by another task render indented under it. A parent
	// outside this run leaves the child at the top level.
	inRun := make(map[string]bool, len(tasks))
	for _, tr := range tasks {
		inRun[tr.TaskID] = true
	}
	children := make(map[string][]*state.TaskRecord)
	var roots []*state.TaskRecord
	for _, tr := range tasks {
		if tr.ParentID != "" && inRun[tr.ParentID] {
			children[tr.ParentID] = append(children[tr.ParentID], tr)
		} else {
			roots = append(roots, tr)
		}
	}

	printed := make(map[string]bool, len(tasks))
	var printTree func(tr *state.TaskRecord, depth int)
	printTree = func(tr *state.TaskRecord, depth int) {
		if printed[tr.TaskID] {
			return
		}
		printed[tr.TaskID] = true
		prefix := ""
		if depth > 0 {
			prefix = strings.Repeat("    ", depth-1) + "|-- "
		}
		fmt.Println(taskLine(tr, prefix))
		for _, child := range children[tr.TaskID] {
			printTree(child, depth+1)
		}
	}
	for _, tr := range roots {
		printTree(tr, 0)
	}
	// A parent cycle leaves rows unreachable from any root; print them flat.
	for _, tr := range tasks {
		if !printed[tr.TaskID] {
			fmt.Println(taskLine(tr, ""))
		}
	}
	return nil
}

// taskLine renders one task row; prefix marks tasks owned by a parent.
func taskLine(tr *state.TaskRecord, prefix string) string {
	line := fmt.Sprintf("  %s%s [%s] %s", prefix, tr.TaskID, tr.Status, tr.Title)
	if tr.Tokens > 0 {
		line += fmt.Sprintf(" (%s tokens, %.1fs)", formatNumber(int(tr.Tokens)), float64(tr.DurationMS)/1000)
	}
	if tr.Attempts > 1 {
		line += fmt.Sprintf(" [%d attempts]", tr.Attempts)
	}
	if tr.Error != "" {
		line += ": " + tr.Error
	}
	return line
}

func displayCacheStats(cacheDir string) {
	dbPath := cache.DefaultDBPath()
	if cacheDir != "" {
		dbPath = filepath.Join(cacheDir, "cache.db")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return
	}

	store, err := cache.OpenStore(dbPath)
	if err != nil {
		return
	}
	defer store.Close()

	count, size, err := store.CountAndSize()
	if err != nil {
		return
	}
	fmt.Println()
	fmt.Printf("Cache: %s entries, %s\n", formatNumber(int(count)), formatBytes(size))
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

// formatNumber formats a number with commas.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	// Add commas every 3 digits from the right
	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
		if len(s) > offset {
			result.WriteString(",")
		}
	}
	for i := offset; i < len(s); i += 3 {
		result.WriteString(s[i : i+3])
		if i+3 < len(s) {
			result.WriteString(",")
		}
	}
	return result.String()
}

// formatBytes formats a byte count in a human-readable way.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
