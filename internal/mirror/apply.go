package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskmirror/taskmirror/internal/mirror/idmap"
	"github.com/taskmirror/taskmirror/internal/remote"
	"github.com/taskmirror/taskmirror/internal/types"
)

// SyncReport is the structured outcome of one diff-and-apply run.
type SyncReport struct {
	Changes          int               `json:"changes" yaml:"changes"`
	Added            int               `json:"added" yaml:"added"`
	Updated          int               `json:"updated" yaml:"updated"`
	Archived         int               `json:"archived" yaml:"archived"`
	Moved            int               `json:"moved" yaml:"moved"`
	RelationsUpdated int               `json:"relationsUpdated" yaml:"relationsUpdated"`
	RecordErrors     map[string]string `json:"recordErrors,omitempty" yaml:"recordErrors,omitempty"`
}

func (r *SyncReport) recordErr(id string, err error) {
	if r.RecordErrors == nil {
		r.RecordErrors = make(map[string]string)
	}
	r.RecordErrors[id] = err.Error()
}

// Sync diffs two snapshots of the local store and applies the resulting
// change records to the remote mirror, one entity at a time, in the order
// the diff engine produced them. Entity order within the apply loop carries
// no topological guarantee - relations are deliberately deferred to a
// separate update pass after every record exists.
//
// The identity map is persisted after every successful mutation and
// reloaded before each, so a crash mid-run loses at most the one mutation
// in flight. Per-entity failures are collected and do not stop the run; a
// mapping that points at a page deleted remotely self-heals into a fresh
// create. Only authorization failures abort immediately (a missing
// database surfaces through the schema retrieval in the relation pass).
func (e *Engine) Sync(ctx context.Context, prev, cur types.Snapshot) (*SyncReport, error) {
	changes := DiffWith(prev, cur, e.match)
	report := &SyncReport{Changes: len(changes)}
	if len(changes) == 0 {
		e.logger.Printf("no changes detected")
		return report, nil
	}
	e.logger.Printf("applying %d change(s)", len(changes))

	for _, ch := range changes {
		var err error
		switch ch.Type {
		case ChangeAdded:
			err = e.applyAdd(ctx, ch, report)
		case ChangeDeleted:
			err = e.applyDelete(ctx, ch, report)
		case ChangeUpdated:
			err = e.applyUpdate(ctx, ch, report)
		case ChangeMoved:
			err = e.applyMove(ctx, ch, report)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, remote.ErrUnauthorized) {
			return report, fmt.Errorf("failed to apply %s for %s/%s: %w", ch.Type, ch.Tag, ch.ID, err)
		}
		report.recordErr(Marker(ch.Tag, ch.ID), err)
		e.logger.Printf("WARNING: failed to apply %s for %s/%s: %v", ch.Type, ch.Tag, ch.ID, err)
	}

	// Relation pass over the current snapshot, now that records exist.
	caps, err := e.detectCaps(ctx)
	if err != nil {
		return report, err
	}
	mapping, _ := idmap.Load(e.mappingPath, e.logger)
	var updates []RelationUpdate
	for tag, data := range cur {
		for _, ent := range Flatten(data.Tasks, tag) {
			pageID := idmap.Get(mapping, ent.Tag, ent.ID)
			if pageID == "" {
				continue
			}
			props := RelationProperties(ent, caps, mapping)
			if len(props) == 0 {
				continue
			}
			updates = append(updates, RelationUpdate{PageID: pageID, Props: props})
		}
	}
	updated, failures := ApplyRelationUpdates(ctx, e.client, updates, e.policy, e.logger)
	report.RelationsUpdated = updated
	for id, ferr := range failures {
		report.recordErr(id, ferr)
	}
	return report, nil
}

func (e *Engine) detectCaps(ctx context.Context) (RelationCaps, error) {
	schema, err := remote.WithRetry(ctx, e.logger, "retrieve schema", e.policy,
		func(ctx context.Context) (*remote.Schema, error) {
			return e.client.RetrieveSchema(ctx, e.databaseID)
		})
	if err != nil {
		return RelationCaps{}, fmt.Errorf("failed to retrieve database schema: %w", err)
	}
	return DetectRelationCaps(schema), nil
}

// applyAdd creates the remote record and persists the new mapping.
func (e *Engine) applyAdd(ctx context.Context, ch Change, report *SyncReport) error {
	ent := Entity{ID: ch.ID, Tag: ch.Tag, Task: *ch.Cur}
	props := BuildProperties(ent)
	e.applyLabel(ctx, ent, props)

	page, err := remote.WithRetry(ctx, e.logger, "create "+ch.ID, e.policy,
		func(ctx context.Context) (*remote.Page, error) {
			return e.client.CreatePage(ctx, e.databaseID, props)
		})
	if err != nil {
		return err
	}

	mapping, meta := idmap.Load(e.mappingPath, e.logger)
	mapping = idmap.Set(mapping, ch.Tag, ch.ID, page.ID)
	if err := idmap.Save(mapping, meta, e.mappingPath); err != nil {
		return err
	}
	report.Added++
	return nil
}

// applyDelete archives the remote record and drops the mapping. An entity
// that was never mapped has nothing remote to remove.
func (e *Engine) applyDelete(ctx context.Context, ch Change, report *SyncReport) error {
	mapping, meta := idmap.Load(e.mappingPath, e.logger)
	pageID := idmap.Get(mapping, ch.Tag, ch.ID)
	if pageID == "" {
		return nil
	}

	_, err := remote.WithRetry(ctx, e.logger, "archive "+ch.ID, e.policy,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.client.ArchivePage(ctx, pageID)
		})
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}

	mapping = idmap.Remove(mapping, ch.Tag, ch.ID)
	if err := idmap.Save(mapping, meta, e.mappingPath); err != nil {
		return err
	}
	report.Archived++
	return nil
}

// applyUpdate rewrites the record's content properties. An unmapped entity
// self-heals into a create, and so does a mapping whose page was deleted
// remotely: the dead entry is dropped and the record recreated.
func (e *Engine) applyUpdate(ctx context.Context, ch Change, report *SyncReport) error {
	mapping, _ := idmap.Load(e.mappingPath, e.logger)
	pageID := idmap.Get(mapping, ch.Tag, ch.ID)
	if pageID == "" {
		addCh := ch
		addCh.Type = ChangeAdded
		return e.applyAdd(ctx, addCh, report)
	}

	ent := Entity{ID: ch.ID, Tag: ch.Tag, Task: *ch.Cur}
	_, err := remote.WithRetry(ctx, e.logger, "update "+ch.ID, e.policy,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.client.UpdatePage(ctx, pageID, BuildProperties(ent))
		})
	if errors.Is(err, remote.ErrNotFound) {
		e.logger.Printf("mapped page %s for %s/%s is gone, recreating", pageID, ch.Tag, ch.ID)
		return e.recreate(ctx, ch, ch.Tag, ch.ID, report)
	}
	if err != nil {
		return err
	}
	report.Updated++
	return nil
}

// recreate drops a mapping entry whose remote page no longer exists and
// replays the change as a create.
func (e *Engine) recreate(ctx context.Context, ch Change, deadTag, deadID string, report *SyncReport) error {
	mapping, meta := idmap.Load(e.mappingPath, e.logger)
	mapping = idmap.Remove(mapping, deadTag, deadID)
	if err := idmap.Save(mapping, meta, e.mappingPath); err != nil {
		return err
	}
	addCh := ch
	addCh.Type = ChangeAdded
	return e.applyAdd(ctx, addCh, report)
}

// applyMove rewrites the record under its new tag and id and re-keys the
// mapping entry. The page itself is reused - a move changes identity, not
// the record.
func (e *Engine) applyMove(ctx context.Context, ch Change, report *SyncReport) error {
	mapping, meta := idmap.Load(e.mappingPath, e.logger)
	pageID := idmap.Get(mapping, ch.PrevTag, ch.PrevID)
	if pageID == "" {
		addCh := ch
		addCh.Type = ChangeAdded
		return e.applyAdd(ctx, addCh, report)
	}

	ent := Entity{ID: ch.ID, Tag: ch.Tag, Task: *ch.Cur}
	_, err := remote.WithRetry(ctx, e.logger, "move "+ch.PrevID, e.policy,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.client.UpdatePage(ctx, pageID, BuildProperties(ent))
		})
	if errors.Is(err, remote.ErrNotFound) {
		e.logger.Printf("mapped page %s for %s/%s is gone, recreating", pageID, ch.PrevTag, ch.PrevID)
		return e.recreate(ctx, ch, ch.PrevTag, ch.PrevID, report)
	}
	if err != nil {
		return err
	}

	mapping = idmap.Remove(mapping, ch.PrevTag, ch.PrevID)
	mapping = idmap.Set(mapping, ch.Tag, ch.ID, pageID)
	if err := idmap.Save(mapping, meta, e.mappingPath); err != nil {
		return err
	}
	report.Moved++
	return nil
}
