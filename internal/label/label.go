// Package label generates short display labels for tasks.
//
// The contract is deliberately narrow: given a task's title and
// description, produce a short label string or fail. The sync engine treats
// label generation as optional decoration - a failure is logged upstream
// and never blocks a sync.
//
// Generation is provider-backed (Anthropic today, a chain of fallbacks
// tomorrow) and cached in a local SQLite database keyed by content hash, so
// repeated syncs of unchanged tasks never re-spend an API call.
package label

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"unicode/utf8"
)

// Provider produces a label for a task, or fails.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// GenerateLabel returns a short label for the task.
	GenerateLabel(ctx context.Context, title, description string) (string, error)
}

// maxLabelLen bounds the label; anything longer is truncated at a word
// boundary where possible.
const maxLabelLen = 30

// Generator wraps a provider chain with the cache. It implements the same
// GenerateLabel contract the engine consumes.
type Generator struct {
	providers []Provider
	cache     *Cache
	logger    *log.Logger
}

// NewGenerator builds a Generator. cache may be nil (no caching); a nil
// logger defaults to stderr. At least one provider is required.
func NewGenerator(cache *Cache, logger *log.Logger, providers ...Provider) (*Generator, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one label provider is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[label] ", log.LstdFlags)
	}
	return &Generator{providers: providers, cache: cache, logger: logger}, nil
}

// GenerateLabel returns a cached label when the task content was seen
// before, otherwise asks each provider in order until one succeeds. The
// winning label is cached before returning.
func (g *Generator) GenerateLabel(ctx context.Context, title, description string) (string, error) {
	key := cacheKey(title, description)

	if g.cache != nil {
		if cached, err := g.cache.Get(ctx, key); err != nil {
			g.logger.Printf("WARNING: label cache read failed: %v", err)
		} else if cached != "" {
			return cached, nil
		}
	}

	var lastErr error
	for _, p := range g.providers {
		label, err := p.GenerateLabel(ctx, title, description)
		if err != nil {
			g.logger.Printf("provider %s failed: %v", p.Name(), err)
			lastErr = err
			continue
		}
		label = Normalize(label)
		if label == "" {
			lastErr = fmt.Errorf("provider %s returned an empty label", p.Name())
			continue
		}
		if g.cache != nil {
			if err := g.cache.Put(ctx, key, label); err != nil {
				g.logger.Printf("WARNING: label cache write failed: %v", err)
			}
		}
		return label, nil
	}
	return "", fmt.Errorf("all label providers failed: %w", lastErr)
}

// Normalize trims a raw provider response down to a single short line.
// Truncation never splits a rune.
func Normalize(raw string) string {
	label := strings.TrimSpace(raw)
	if i := strings.IndexByte(label, '\n'); i >= 0 {
		label = strings.TrimSpace(label[:i])
	}
	label = strings.Trim(label, `"'`)
	if len(label) <= maxLabelLen {
		return label
	}
	end := maxLabelLen
	for end > 0 && !utf8.RuneStart(label[end]) {
		end--
	}
	cut := label[:end]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

// cacheKey hashes the task content that determines the label.
func cacheKey(title, description string) string {
	h := sha256.Sum256([]byte(title + "\x00" + description))
	return hex.EncodeToString(h[:])
}
