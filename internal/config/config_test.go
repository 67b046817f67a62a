package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdirEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TaskFile != ".taskmaster/tasks/tasks.json" {
		t.Errorf("TaskFile = %q", cfg.TaskFile)
	}
	if cfg.StateDir != ".taskmirror" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.RetryCount != 5 {
		t.Errorf("RetryCount = %d", cfg.RetryCount)
	}
	if cfg.RetryMinDelay != 500*time.Millisecond || cfg.RetryMaxDelay != 8*time.Second {
		t.Errorf("retry delays = %v/%v", cfg.RetryMinDelay, cfg.RetryMaxDelay)
	}
	if cfg.LabelProvider != "" {
		t.Errorf("LabelProvider = %q, want disabled by default", cfg.LabelProvider)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirEmpty(t)
	t.Setenv("TASKMIRROR_TOKEN", "secret-token")
	t.Setenv("TASKMIRROR_DATABASE_ID", "db-123")
	t.Setenv("TASKMIRROR_RETRY_COUNT", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Token != "secret-token" || cfg.DatabaseID != "db-123" {
		t.Errorf("token/database = %q/%q", cfg.Token, cfg.DatabaseID)
	}
	if cfg.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", cfg.RetryCount)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := chdirEmpty(t)
	doc := "token: file-token\ndatabase-id: file-db\nstate-dir: /tmp/mirror-state\n"
	if err := os.WriteFile(filepath.Join(dir, ".taskmirror.yaml"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Token != "file-token" || cfg.DatabaseID != "file-db" {
		t.Errorf("token/database = %q/%q", cfg.Token, cfg.DatabaseID)
	}
	if cfg.StateDir != "/tmp/mirror-state" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
}

func TestLoadMalformedConfigFile(t *testing.T) {
	dir := chdirEmpty(t)
	if err := os.WriteFile(filepath.Join(dir, ".taskmirror.yaml"), []byte("token: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Error("a malformed config file must be an error, not silently ignored")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Token: "t", DatabaseID: "d"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete config should validate: %v", err)
	}
	if err := (&Config{DatabaseID: "d"}).Validate(); err == nil {
		t.Error("missing token should fail validation")
	}
	if err := (&Config{Token: "t"}).Validate(); err == nil {
		t.Error("missing database id should fail validation")
	}
}

func TestStatePaths(t *testing.T) {
	cfg := &Config{StateDir: "/state"}
	if cfg.MappingPath() != "/state/idmap.json" {
		t.Errorf("MappingPath = %q", cfg.MappingPath())
	}
	if cfg.LogPath() != "/state/sync.log" {
		t.Errorf("LogPath = %q", cfg.LogPath())
	}
	if cfg.LabelCachePath() != "/state/labels.db" {
		t.Errorf("LabelCachePath = %q", cfg.LabelCachePath())
	}
}

// chdirEmpty runs the test in a fresh directory so a developer's own
// .taskmirror.yaml never leaks into the result.
func chdirEmpty(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}
