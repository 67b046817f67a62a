// Package taskfile reads and caches snapshots of the local task document.
//
// The task document maps tag names to task lists. Two layouts exist in the
// wild: the tagged form {"<tag>": {"tasks": [...]}, ...} and the legacy
// untagged form {"tasks": [...]}, which reads as a single "master" tag.
//
// The package also maintains the previous-snapshot cache in the state
// directory: a verbatim copy of the document as of the last successful
// sync, which is the "previous" input to the diff engine.
package taskfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskmirror/taskmirror/internal/types"
)

// DefaultTag is the tag name assigned to legacy untagged documents.
const DefaultTag = "master"

// snapshotCacheName is the previous-snapshot file inside the state dir.
const snapshotCacheName = "last-sync.json"

// Load reads a task document into a Snapshot.
//
// Decoding is permissive about shape (legacy vs tagged, missing tasks
// arrays) but not about syntax: unreadable or non-JSON content is an error,
// since silently syncing an empty snapshot would archive the entire mirror.
func Load(path string) (types.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return Parse(data)
}

// Parse decodes task document bytes into a Snapshot.
func Parse(data []byte) (types.Snapshot, error) {
	// Try the legacy untagged form first; it is unambiguous because the
	// tagged form has no top-level "tasks" key.
	var legacy struct {
		Tasks []types.Task `json:"tasks"`
	}
	if err := json.Unmarshal(data, &legacy); err == nil && legacy.Tasks != nil {
		return types.Snapshot{DefaultTag: {Tasks: legacy.Tasks}}, nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}

	snapshot := types.Snapshot{}
	for tag, raw := range tagged {
		var data types.TagData
		if err := json.Unmarshal(raw, &data); err != nil {
			// A tag whose value is not an object degrades to empty.
			snapshot[tag] = types.TagData{}
			continue
		}
		snapshot[tag] = data
	}
	return snapshot, nil
}

// LoadCached reads the previous-snapshot cache from the state directory.
// A missing cache returns an empty snapshot: every entity diffs as added,
// which is correct for a first sync.
func LoadCached(stateDir string) (types.Snapshot, error) {
	path := filepath.Join(stateDir, snapshotCacheName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.Snapshot{}, nil
		}
		return nil, fmt.Errorf("failed to read snapshot cache: %w", err)
	}
	snapshot, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot cache: %w", err)
	}
	return snapshot, nil
}

// SaveCached writes the previous-snapshot cache atomically.
func SaveCached(stateDir string, snapshot types.Snapshot) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot cache: %w", err)
	}

	path := filepath.Join(stateDir, snapshotCacheName)
	tmp, err := os.CreateTemp(stateDir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot cache: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot cache: %w", err)
	}
	return nil
}
