package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmill/taskmill/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskmill",
	Short: "Dependency-aware task runner for Claude",
	Long: `Taskmill runs worksets of LLM tasks in dependency order with bounded
concurrency, caching completed results so unchanged work is never paid
for twice.

Core capabilities:
- Schedules tasks by dependency and priority
- Executes up to N tasks in parallel against the Anthropic API
- Rate-limits, retries, and circuit-breaks around API failures
- Caches results by content fingerprint, invalidated when sources change
- Records run history for status reporting`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration, honoring the --config override.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default: search for .taskmill.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}
