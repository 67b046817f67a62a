package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taskmirror/taskmirror/internal/config"
	"github.com/taskmirror/taskmirror/internal/label"
	"github.com/taskmirror/taskmirror/internal/mirror"
	"github.com/taskmirror/taskmirror/internal/remote"
)

var (
	flagVerbose bool
	flagFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "taskmirror",
	Short: "Mirror a local task store into a remote page database",
	Long: `taskmirror keeps a hierarchical local task store (tagged tasks with
subtasks, dependencies, status and priority) synchronized with a remote
hosted database of pages with typed properties and relation links.

The local store always wins: the remote database is a presentation mirror
and is never read back into the local store, except to discover existing
page mappings during repair.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "mirror sync log to stderr")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "report format: text or yaml")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(watchCmd)
}

// newLogger builds the sync logger: a size-rotated file in the state dir,
// mirrored to stderr with --verbose.
func newLogger(cfg *config.Config) *log.Logger {
	rotated := &lumberjack.Logger{
		Filename:   cfg.LogPath(),
		MaxSize:    5, // MB
		MaxBackups: 3,
		MaxAge:     30, // days
	}
	var w io.Writer = rotated
	if flagVerbose {
		w = io.MultiWriter(rotated, os.Stderr)
	}
	return log.New(w, "[taskmirror] ", log.LstdFlags)
}

// loadConfig loads and validates configuration for remote workflows.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newEngine wires the sync engine from configuration: HTTP client, retry
// policy, optional label generator.
func newEngine(cfg *config.Config, logger *log.Logger) (*mirror.Engine, func(), error) {
	client := remote.NewHTTPClient(cfg.Token)
	policy := remote.Policy{
		Retries:  cfg.RetryCount,
		MinDelay: cfg.RetryMinDelay,
		MaxDelay: cfg.RetryMaxDelay,
		Factor:   2,
	}

	cleanup := func() {}
	var labeler mirror.Labeler
	if cfg.LabelProvider == "anthropic" {
		cache, err := label.OpenCache(cfg.LabelCachePath())
		if err != nil {
			logger.Printf("WARNING: label cache unavailable, generating uncached: %v", err)
		} else {
			cleanup = func() { _ = cache.Close() }
		}
		gen, err := label.NewGenerator(cache, logger, label.NewAnthropicProvider("", cfg.LabelModel))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to build label generator: %w", err)
		}
		labeler = gen
	} else if cfg.LabelProvider != "" {
		return nil, nil, fmt.Errorf("unsupported label provider %q", cfg.LabelProvider)
	}

	engine := mirror.New(mirror.Options{
		Client:      client,
		DatabaseID:  cfg.DatabaseID,
		MappingPath: cfg.MappingPath(),
		Policy:      policy,
		Labeler:     labeler,
		Logger:      logger,
	})
	return engine, cleanup, nil
}
