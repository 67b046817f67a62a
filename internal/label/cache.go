package label

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Cache is the SQLite-backed label cache. One row per content hash.
//
// The cache lives in the state directory next to the identity map. WAL mode
// keeps concurrent readers cheap, though the CLI is single-process in
// practice.
type Cache struct {
	conn *sql.DB
	path string
}

// OpenCache opens (creating if needed) the label cache at path.
// The caller must Close() it.
func OpenCache(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label cache: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping label cache: %w", err)
	}

	c := &Cache{conn: conn, path: path}

	if _, err := c.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := c.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS labels (
		key        TEXT PRIMARY KEY,
		label      TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	if _, err := c.conn.Exec(schema); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize label cache schema: %w", err)
	}
	return c, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close label cache: %w", err)
	}
	return nil
}

// Get returns the cached label for key, or "" when absent.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	var label string
	err := c.conn.QueryRowContext(ctx, "SELECT label FROM labels WHERE key = ?", key).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read label cache: %w", err)
	}
	return label, nil
}

// Put stores (or replaces) the label for key.
func (c *Cache) Put(ctx context.Context, key, label string) error {
	query := `
	INSERT INTO labels (key, label, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		label = excluded.label,
		created_at = excluded.created_at
	`
	if _, err := c.conn.ExecContext(ctx, query, key, label, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write label cache: %w", err)
	}
	return nil
}
