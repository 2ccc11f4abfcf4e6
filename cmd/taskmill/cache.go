package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmill/taskmill/internal/cache"
)

var (
	pruneMaxAge      time.Duration
	invalidateSource string
	clearScope       string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and entry count",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCacheStore()
		if err != nil {
			return err
		}
		defer store.Close()

		count, size, err := store.CountAndSize()
		if err != nil {
			return fmt.Errorf("cache stats: %w", err)
		}
		fmt.Printf("Cache: %s\n", store.Path())
		fmt.Printf("  Entries: %s\n", formatNumber(int(count)))
		fmt.Printf("  Size: %s\n", formatBytes(size))
		if top, err := store.MostUsed(); err == nil && top != nil && top.UseCount > 0 {
			fmt.Printf("  Most used: %s/%s (%d reads)\n", top.Scope, top.Target, top.UseCount)
		}
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete entries not used within the staleness cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		maxAge := cfg.Cache.MaxAge
		if cmd.Flags().Changed("max-age") {
			maxAge = pruneMaxAge
		}
		if maxAge <= 0 {
			return fmt.Errorf("no staleness cutoff: set --max-age or cache.max_age in config")
		}

		store, err := openCacheStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.DeleteOlderThan(time.Now().Add(-maxAge))
		if err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		if n > 0 {
			if err := store.Vacuum(); err != nil {
				return fmt.Errorf("vacuum cache: %w", err)
			}
		}
		fmt.Printf("Pruned %d entries older than %s\n", n, maxAge)
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Delete entries derived from a source file",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCacheStore()
		if err != nil {
			return err
		}
		defer store.Close()

		// Sources are stored as absolute paths.
		abs, err := filepath.Abs(invalidateSource)
		if err != nil {
			abs = invalidateSource
		}
		n, err := store.DeleteBySource(abs)
		if err != nil {
			return fmt.Errorf("invalidate cache: %w", err)
		}
		fmt.Printf("Invalidated %d entries for %s\n", n, invalidateSource)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every entry in a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCacheStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.DeleteByScope(clearScope)
		if err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Printf("Cleared %d entries in scope %q\n", n, clearScope)
		return nil
	},
}

// openCacheStore opens the cache database at the configured location.
func openCacheStore() (*cache.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dbPath := cache.DefaultDBPath()
	if cfg.Cache.Dir != "" {
		dbPath = filepath.Join(cfg.Cache.Dir, "cache.db")
	}
	store, err := cache.OpenStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return store, nil
}

func init() {
	cachePruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 0, "Staleness cutoff (overrides config, e.g. 72h)")
	cacheInvalidateCmd.Flags().StringVar(&invalidateSource, "source", "", "Source file whose entries to delete")
	_ = cacheInvalidateCmd.MarkFlagRequired("source")
	cacheClearCmd.Flags().StringVar(&clearScope, "scope", "", "Scope whose entries to delete")
	_ = cacheClearCmd.MarkFlagRequired("scope")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
