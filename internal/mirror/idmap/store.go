// Package idmap provides the persistent identity map between local task ids
// and remote page ids.
//
// The map is a single JSON document of shape
//
//	{
//	  "mapping": { "<tag>": { "<localId>": "<remotePageId>", ... }, ... },
//	  "meta":    { ... }
//	}
//
// read and written as a whole on every mutation. There is no file locking:
// the engine assumes single-process, sequential CLI invocation. Concurrent
// external writers can race and silently overwrite each other's changes.
//
// Callers must reload after any operation that persisted the file
// independently (e.g. a create that records its own mapping), otherwise a
// stale in-memory copy will overwrite the newer state on the next save.
package idmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Mapping is tag → local id → remote page id.
type Mapping map[string]map[string]string

// Meta is opaque metadata carried alongside the mapping. The engine never
// interprets it; it belongs to whoever wrote it.
type Meta map[string]any

// document is the on-disk shape.
type document struct {
	Mapping Mapping `json:"mapping"`
	Meta    Meta    `json:"meta"`
}

// Load reads the identity map file at path.
//
// A missing or unparsable file yields empty structures and a log line, not
// an error: missing mappings merely trigger re-creation remotely, at worst
// duplicating a record that a later repair pass deduplicates. A nil logger
// defaults to stderr.
func Load(path string, logger *log.Logger) (Mapping, Meta) {
	if logger == nil {
		logger = log.New(os.Stderr, "[idmap] ", log.LstdFlags)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Printf("WARNING: failed to read mapping file %s, treating as empty: %v", path, err)
		}
		return Mapping{}, Meta{}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Printf("WARNING: failed to parse mapping file %s, treating as empty: %v", path, err)
		return Mapping{}, Meta{}
	}

	if doc.Mapping == nil {
		doc.Mapping = Mapping{}
	}
	if doc.Meta == nil {
		doc.Meta = Meta{}
	}
	return doc.Mapping, doc.Meta
}

// Save writes the identity map file, replacing any previous content.
//
// The write is atomic best-effort: content goes to a temp file in the same
// directory first, then renamed over the target.
func Save(mapping Mapping, meta Meta, path string) error {
	if mapping == nil {
		mapping = Mapping{}
	}
	if meta == nil {
		meta = Meta{}
	}

	data, err := json.MarshalIndent(document{Mapping: mapping, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create mapping directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".idmap-*")
	if err != nil {
		return fmt.Errorf("failed to create temp mapping file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write mapping file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close mapping file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace mapping file: %w", err)
	}
	return nil
}

// Get returns the remote page id for (tag, localID), or "" when unmapped.
func Get(mapping Mapping, tag, localID string) string {
	return mapping[tag][localID]
}

// Set returns a copy of mapping with (tag, localID) → remoteID recorded.
// The input is never mutated.
func Set(mapping Mapping, tag, localID, remoteID string) Mapping {
	out := clone(mapping)
	if out[tag] == nil {
		out[tag] = map[string]string{}
	}
	out[tag][localID] = remoteID
	return out
}

// Remove returns a copy of mapping without (tag, localID). A tag entry left
// empty by the removal is pruned. The input is never mutated.
func Remove(mapping Mapping, tag, localID string) Mapping {
	out := clone(mapping)
	if tagMap, ok := out[tag]; ok {
		delete(tagMap, localID)
		if len(tagMap) == 0 {
			delete(out, tag)
		}
	}
	return out
}

func clone(mapping Mapping) Mapping {
	out := make(Mapping, len(mapping))
	for tag, ids := range mapping {
		m := make(map[string]string, len(ids))
		for id, remote := range ids {
			m[id] = remote
		}
		out[tag] = m
	}
	return out
}
