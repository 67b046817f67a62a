package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/taskfile"
	"github.com/taskmirror/taskmirror/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync local task changes to the remote database",
	Long: `Diff the current task document against the snapshot cached at the last
successful sync, and apply the resulting changes to the remote database:

  1. New tasks and subtasks are created as pages
  2. Deleted ones are archived
  3. Edits are written through
  4. Tag moves are detected by content match and re-keyed in place
  5. Parent and dependency relations are updated in a final pass

On success the current document becomes the new cached snapshot.`,
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

		prev, err := taskfile.LoadCached(cfg.StateDir)
		if err != nil {
			return err
		}
		cur, err := taskfile.Load(cfg.TaskFile)
		if err != nil {
			return err
		}

		fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("→"), cfg.TaskFile)
		start := time.Now()

		report, err := engine.Sync(context.Background(), prev, cur)
		if err != nil {
			printSyncReport(report)
			return err
		}

		if err := taskfile.SaveCached(cfg.StateDir, cur); err != nil {
			return fmt.Errorf("sync applied but failed to cache snapshot: %w", err)
		}

		if flagFormat == "yaml" {
			return printYAML(report)
		}
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		printSyncReport(report)
		if len(report.RecordErrors) > 0 {
			fmt.Fprintf(os.Stderr, "%s %d record(s) failed; see %s\n",
				ui.RenderWarn("!"), len(report.RecordErrors), cfg.LogPath())
		}
		return nil
	},
}
