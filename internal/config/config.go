// Package config loads taskmirror configuration from the environment and
// an optional config file.
//
// Precedence: environment (TASKMIRROR_*) over config file over defaults.
// The config file is .taskmirror.yaml, searched in the working directory
// and then the user config directory. Configuration is an explicit object
// threaded through every component - there is no package-level state, so
// tests construct their own Config with fake clients and nothing leaks
// between them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved configuration for one invocation.
type Config struct {
	// Token is the remote API integration token.
	Token string
	// DatabaseID is the remote database to mirror into.
	DatabaseID string
	// TaskFile is the path to the local task document.
	TaskFile string
	// StateDir holds the identity map, the previous-snapshot cache and
	// the sync log.
	StateDir string

	// RetryCount, RetryMinDelay and RetryMaxDelay tune the retry executor.
	RetryCount    int
	RetryMinDelay time.Duration
	RetryMaxDelay time.Duration

	// LabelProvider selects the label generation backend ("anthropic" or
	// "" to disable). LabelModel overrides the provider's default model.
	LabelProvider string
	LabelModel    string
}

// MappingPath returns the identity map file path inside the state dir.
func (c *Config) MappingPath() string {
	return filepath.Join(c.StateDir, "idmap.json")
}

// LogPath returns the sync log file path inside the state dir.
func (c *Config) LogPath() string {
	return filepath.Join(c.StateDir, "sync.log")
}

// LabelCachePath returns the label cache database path inside the state dir.
func (c *Config) LabelCachePath() string {
	return filepath.Join(c.StateDir, "labels.db")
}

// Load resolves configuration. A missing config file is fine; a malformed
// one is an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".taskmirror")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "taskmirror"))
	}

	v.SetEnvPrefix("TASKMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("task-file", ".taskmaster/tasks/tasks.json")
	v.SetDefault("state-dir", ".taskmirror")
	v.SetDefault("retry-count", 5)
	v.SetDefault("retry-min-delay", "500ms")
	v.SetDefault("retry-max-delay", "8s")
	v.SetDefault("label-provider", "")
	v.SetDefault("label-model", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Token:         v.GetString("token"),
		DatabaseID:    v.GetString("database-id"),
		TaskFile:      v.GetString("task-file"),
		StateDir:      v.GetString("state-dir"),
		RetryCount:    v.GetInt("retry-count"),
		RetryMinDelay: v.GetDuration("retry-min-delay"),
		RetryMaxDelay: v.GetDuration("retry-max-delay"),
		LabelProvider: v.GetString("label-provider"),
		LabelModel:    v.GetString("label-model"),
	}
	return cfg, nil
}

// Validate checks that the fields every remote workflow needs are present.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("remote API token is required (set TASKMIRROR_TOKEN)")
	}
	if c.DatabaseID == "" {
		return fmt.Errorf("remote database id is required (set TASKMIRROR_DATABASE_ID)")
	}
	return nil
}
