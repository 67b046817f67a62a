package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/mirror"
	"github.com/taskmirror/taskmirror/internal/taskfile"
	"github.com/taskmirror/taskmirror/internal/ui"
)

var flagRepairDryRun bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Audit the remote database against the local task store",
	Long: `Read-only audit of the remote mirror: reports duplicate records, missing
records, extra records, invalid identity mappings, records without a
local-id marker, and hierarchy drift (wrong or orphaned parent relations).
Nothing is mutated.`,
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

		snapshot, err := taskfile.Load(cfg.TaskFile)
		if err != nil {
			return err
		}

		report, err := engine.Validate(context.Background(), snapshot)
		if err != nil {
			return err
		}
		if flagFormat == "yaml" {
			return printYAML(report)
		}
		if report.Integrity != nil && report.Integrity.OK() &&
			report.DuplicatesFound == 0 && report.ExtraFound == 0 && report.InvalidMappings == 0 {
			fmt.Printf("%s Remote mirror matches the local store\n", ui.RenderPass("✓"))
		} else {
			fmt.Printf("%s Drift detected\n", ui.RenderWarn("!"))
		}
		printRepairReport(report)
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair drift between the local store and the remote database",
	Long: `Run the repair workflow in independently-committed stages:

  1. deduplicate   - archive all but the newest record per local id
  2. sync-missing  - create records for unmapped local tasks
  3. clean-extra   - archive records whose local task no longer exists
  4. reconcile     - drop dead mappings, adopt discovered ones

A failing stage aborts the stages after it; stages already committed stay
committed. Operations inside one stage roll back together on failure.`,
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

		snapshot, err := taskfile.Load(cfg.TaskFile)
		if err != nil {
			return err
		}

		start := time.Now()
		report, runErr := engine.Repair(context.Background(), snapshot,
			mirror.RepairOptions{DryRun: flagRepairDryRun})

		if flagFormat == "yaml" && report != nil {
			if err := printYAML(report); err != nil {
				return err
			}
			return runErr
		}
		if runErr == nil {
			fmt.Printf("%s Repair complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		}
		printRepairReport(report)
		return runErr
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Rebuild the remote mirror from scratch",
	Long: `Archive every mirrored record, clear the identity map, and re-create the
entire local store remotely. Records without a local-id marker are left
untouched. This is the recovery hammer for a mirror too drifted to repair
incrementally.`,
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

		snapshot, err := taskfile.Load(cfg.TaskFile)
		if err != nil {
			return err
		}

		start := time.Now()
		report, runErr := engine.Reset(context.Background(), snapshot)

		if flagFormat == "yaml" && report != nil {
			if err := printYAML(report); err != nil {
				return err
			}
			return runErr
		}
		if runErr == nil {
			fmt.Printf("%s Reset complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
			// Reset replaced the mirror wholesale; the current document is
			// now the last-synced state.
			if err := taskfile.SaveCached(cfg.StateDir, snapshot); err != nil {
				return fmt.Errorf("reset applied but failed to cache snapshot: %w", err)
			}
		}
		printRepairReport(report)
		return runErr
	},
}

func init() {
	repairCmd.Flags().BoolVar(&flagRepairDryRun, "dry-run", false, "report what repair would do without mutating")
}
