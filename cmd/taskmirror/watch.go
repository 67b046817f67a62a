package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/taskfile"
	"github.com/taskmirror/taskmirror/internal/ui"
)

// watchDebounce coalesces editor write bursts into one sync.
const watchDebounce = 2 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the task document and sync on every change",
	Long: `Watch the task document's directory and run a sync whenever the file
changes. Rapid write bursts (editors, generators rewriting the file) are
debounced into a single sync. Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		engine, cleanup, err := newEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		defer watcher.Close()

		// Watch the directory, not the file: editors replace files by
		// rename, which drops a direct file watch.
		dir := filepath.Dir(cfg.TaskFile)
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		target := filepath.Clean(cfg.TaskFile)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		fmt.Printf("%s Watching %s (Ctrl-C to stop)\n", ui.RenderAccent("👁"), cfg.TaskFile)

		var timer *time.Timer
		var timerCh <-chan time.Time
		runSync := func() {
			prev, err := taskfile.LoadCached(cfg.StateDir)
			if err != nil {
				logger.Printf("WARNING: failed to load snapshot cache: %v", err)
				return
			}
			cur, err := taskfile.Load(cfg.TaskFile)
			if err != nil {
				logger.Printf("WARNING: failed to load task file: %v", err)
				return
			}
			report, err := engine.Sync(context.Background(), prev, cur)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s Sync failed: %v\n", ui.RenderFail("✗"), err)
				return
			}
			if err := taskfile.SaveCached(cfg.StateDir, cur); err != nil {
				logger.Printf("WARNING: failed to cache snapshot: %v", err)
				return
			}
			fmt.Printf("%s Synced: %d change(s), %d error(s)\n",
				ui.RenderPass("✓"), report.Changes, len(report.RecordErrors))
		}

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(watchDebounce)
				timerCh = timer.C

			case <-timerCh:
				timerCh = nil
				runSync()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Printf("WARNING: watcher error: %v", err)

			case <-sigCh:
				fmt.Println()
				return nil
			}
		}
	},
}
