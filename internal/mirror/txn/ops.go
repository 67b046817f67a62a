package txn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/taskmirror/taskmirror/internal/mirror/idmap"
	"github.com/taskmirror/taskmirror/internal/remote"
)

const (
	// archiveBatchSize bounds concurrent in-flight archive requests.
	archiveBatchSize = 10
	// createBatchSize is deliberately smaller than archiveBatchSize to
	// bound the blast radius of a partial create failure.
	createBatchSize = 5
	// interBatchPause is a crude rate-limit guard between batches.
	interBatchPause = 200 * time.Millisecond
)

// BulkArchive archives a sequence of remote records in fixed-size
// concurrent batches. Execute returns the ids actually archived; Rollback
// un-archives exactly those, tolerating per-id rollback failure.
type BulkArchive struct {
	Client  remote.Client
	PageIDs []string
	Policy  remote.Policy
	Logger  *log.Logger
}

// Name implements Operation.
func (b *BulkArchive) Name() string { return "bulk-archive" }

// Execute implements Operation. Records already archived count as archived
// here; un-archiving them on rollback restores a state no worse than found.
// If any record fails, the ids archived so far are still returned alongside
// the error so the Manager can undo them.
func (b *BulkArchive) Execute(ctx context.Context) (any, error) {
	logger := b.logger()
	var archived []string

	err := forEachBatch(ctx, b.PageIDs, archiveBatchSize, func(ctx context.Context, batch []string) error {
		results := runBatch(ctx, batch, func(ctx context.Context, id string) error {
			_, err := remote.WithRetry(ctx, logger, "archive "+id, b.Policy,
				func(ctx context.Context) (struct{}, error) {
					return struct{}{}, b.Client.ArchivePage(ctx, id)
				})
			return err
		})
		var firstErr error
		for _, r := range results {
			if r.err == nil {
				archived = append(archived, r.id)
			} else if firstErr == nil {
				firstErr = fmt.Errorf("failed to archive %s: %w", r.id, r.err)
			}
		}
		return firstErr
	})

	return archived, err
}

// Rollback implements Operation by un-archiving every id Execute archived.
// Individual failures are reported and skipped; a record we cannot restore
// must not block restoring the rest.
func (b *BulkArchive) Rollback(ctx context.Context, result any) error {
	archived, ok := result.([]string)
	if !ok {
		return nil
	}
	logger := b.logger()
	for _, id := range archived {
		if err := b.Client.UnarchivePage(ctx, id); err != nil {
			logger.Printf("WARNING: failed to unarchive %s during rollback: %v", id, err)
		}
	}
	return nil
}

func (b *BulkArchive) logger() *log.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return log.New(os.Stderr, "[txn] ", log.LstdFlags)
}

// CreateItem is one record BulkCreate should create.
type CreateItem struct {
	Tag     string
	LocalID string
	Props   remote.PropertyMap
}

// Created is one successful creation.
type Created struct {
	Tag     string
	LocalID string
	PageID  string
}

// BulkCreate creates remote records for a sequence of local entities in
// small concurrent batches. Execute returns the []Created so far; Rollback
// archives every record it created, delegating to BulkArchive.
//
// OnCreated, when set, is invoked sequentially after each batch completes,
// once per successful creation. The orchestrator uses it to persist the
// identity map after every successful mutation.
type BulkCreate struct {
	Client     remote.Client
	DatabaseID string
	Items      []CreateItem
	Policy     remote.Policy
	Logger     *log.Logger
	OnCreated  func(Created) error
}

// Name implements Operation.
func (b *BulkCreate) Name() string { return "bulk-create" }

// Execute implements Operation. On partial failure the creations that did
// succeed are returned with the error, so rollback can archive them.
func (b *BulkCreate) Execute(ctx context.Context) (any, error) {
	logger := b.logger()
	var created []Created

	err := forEachBatch(ctx, b.Items, createBatchSize, func(ctx context.Context, batch []CreateItem) error {
		type createResult struct {
			item CreateItem
			page *remote.Page
			err  error
		}
		results := make([]createResult, len(batch))

		var wg sync.WaitGroup
		for i, item := range batch {
			wg.Add(1)
			go func(i int, item CreateItem) {
				defer wg.Done()
				page, err := remote.WithRetry(ctx, logger, "create "+item.LocalID, b.Policy,
					func(ctx context.Context) (*remote.Page, error) {
						return b.Client.CreatePage(ctx, b.DatabaseID, item.Props)
					})
				results[i] = createResult{item: item, page: page, err: err}
			}(i, item)
		}
		wg.Wait()

		var firstErr error
		for _, r := range results {
			if r.err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to create record for %s/%s: %w", r.item.Tag, r.item.LocalID, r.err)
				}
				continue
			}
			c := Created{Tag: r.item.Tag, LocalID: r.item.LocalID, PageID: r.page.ID}
			created = append(created, c)
			if b.OnCreated != nil {
				if err := b.OnCreated(c); err != nil && firstErr == nil {
					firstErr = fmt.Errorf("failed to record mapping for %s/%s: %w", c.Tag, c.LocalID, err)
				}
			}
		}
		return firstErr
	})

	return created, err
}

// Rollback implements Operation by archiving everything Execute created.
func (b *BulkCreate) Rollback(ctx context.Context, result any) error {
	created, ok := result.([]Created)
	if !ok || len(created) == 0 {
		return nil
	}
	ids := make([]string, 0, len(created))
	for _, c := range created {
		ids = append(ids, c.PageID)
	}
	undo := &BulkArchive{Client: b.Client, PageIDs: ids, Policy: b.Policy, Logger: b.Logger}
	if _, err := undo.Execute(ctx); err != nil {
		return fmt.Errorf("failed to archive created records during rollback: %w", err)
	}
	return nil
}

func (b *BulkCreate) logger() *log.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return log.New(os.Stderr, "[txn] ", log.LstdFlags)
}

// MappingWrite persists a new identity map state. Execute snapshots the
// file's prior byte content (or its absence) before writing; Rollback
// restores exactly that content, or deletes the file if none existed.
type MappingWrite struct {
	Path    string
	Mapping idmap.Mapping
	Meta    idmap.Meta
}

// priorState is the rollback token: the bytes that were there before.
type priorState struct {
	existed bool
	content []byte
}

// Name implements Operation.
func (m *MappingWrite) Name() string { return "mapping-write" }

// Execute implements Operation.
func (m *MappingWrite) Execute(ctx context.Context) (any, error) {
	prior := priorState{}
	data, err := os.ReadFile(m.Path)
	switch {
	case err == nil:
		prior.existed = true
		prior.content = data
	case errors.Is(err, os.ErrNotExist):
		// nothing to snapshot
	default:
		return nil, fmt.Errorf("failed to snapshot mapping file: %w", err)
	}

	if err := idmap.Save(m.Mapping, m.Meta, m.Path); err != nil {
		return nil, err
	}
	return prior, nil
}

// Rollback implements Operation.
func (m *MappingWrite) Rollback(ctx context.Context, result any) error {
	prior, ok := result.(priorState)
	if !ok {
		return nil
	}
	if !prior.existed {
		if err := os.Remove(m.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove mapping file during rollback: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(m.Path, prior.content, 0644); err != nil {
		return fmt.Errorf("failed to restore mapping file during rollback: %w", err)
	}
	return nil
}

// batchResult is one per-id outcome from runBatch.
type batchResult struct {
	id  string
	err error
}

// runBatch issues one request per id concurrently and waits for all.
func runBatch(ctx context.Context, ids []string, fn func(ctx context.Context, id string) error) []batchResult {
	results := make([]batchResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = batchResult{id: id, err: fn(ctx, id)}
		}(i, id)
	}
	wg.Wait()
	return results
}

// forEachBatch walks items in fixed-size chunks with a short pause between
// chunks. The pause is skipped after the final chunk. The first chunk error
// stops further chunks.
func forEachBatch[T any](ctx context.Context, items []T, size int, fn func(ctx context.Context, batch []T) error) error {
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		if err := fn(ctx, items[start:end]); err != nil {
			return err
		}
		if end < len(items) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interBatchPause):
			}
		}
	}
	return nil
}
