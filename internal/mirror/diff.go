package mirror

import (
	"slices"

	"github.com/taskmirror/taskmirror/internal/types"
)

// ChangeType classifies one diff result.
type ChangeType string

const (
	// ChangeAdded means the entity exists only in the current snapshot.
	ChangeAdded ChangeType = "added"
	// ChangeDeleted means the entity exists only in the previous snapshot.
	ChangeDeleted ChangeType = "deleted"
	// ChangeUpdated means the entity exists in both with different content.
	ChangeUpdated ChangeType = "updated"
	// ChangeMoved means a deletion and an addition carry the same content:
	// one entity whose tag and/or id changed.
	ChangeMoved ChangeType = "moved"
)

// Change is one classified difference between two snapshots. Which fields
// are set depends on Type:
//
//	added:   ID, Tag, Cur
//	deleted: ID, Tag, Prev
//	updated: ID, Tag, Prev, Cur
//	moved:   ID/Tag (new side), PrevID/PrevTag (old side), Prev, Cur
type Change struct {
	Type    ChangeType
	ID      string
	Tag     string
	PrevID  string
	PrevTag string
	Prev    *Flat
	Cur     *Flat
}

// MatchStrategy decides whether a deleted entity and an added entity are
// the same entity that moved. Implementations are heuristics, not proofs;
// the diff takes the first match on each side.
type MatchStrategy interface {
	SameEntity(deleted, added Entity) bool
}

// ContentMatch is the default MatchStrategy: exact equality of title,
// description, details, testStrategy and status. Ids, tags, dependency and
// subtask lists are deliberately ignored - moving a task rewrites all of
// those. The heuristic is coarse: a task genuinely re-created with
// identical content is classified as a move. Documented limitation.
type ContentMatch struct{}

// SameEntity implements MatchStrategy.
func (ContentMatch) SameEntity(deleted, added Entity) bool {
	d, a := deleted.Task, added.Task
	return d.Title == a.Title &&
		d.Description == a.Description &&
		d.Details == a.Details &&
		d.TestStrategy == a.TestStrategy &&
		d.Status == a.Status
}

// Diff compares two snapshots of the local store and classifies every
// entity as added, deleted, updated or moved.
//
// Purely computational: no I/O, no mutation of the inputs. Malformed
// snapshots degrade to empty tags rather than erroring. Uses ContentMatch
// for move detection; see DiffWith to swap the heuristic.
func Diff(prev, cur types.Snapshot) []Change {
	return DiffWith(prev, cur, ContentMatch{})
}

// DiffWith is Diff with an explicit move-detection strategy.
func DiffWith(prev, cur types.Snapshot, match MatchStrategy) []Change {
	var added, deleted, updated []Change

	for _, tag := range unionTags(prev, cur) {
		prevData, inPrev := prev[tag]
		curData, inCur := cur[tag]

		switch {
		case inPrev && !inCur:
			for _, e := range Flatten(prevData.Tasks, tag) {
				task := e.Task
				deleted = append(deleted, Change{Type: ChangeDeleted, ID: e.ID, Tag: tag, Prev: &task})
			}
		case !inPrev && inCur:
			for _, e := range Flatten(curData.Tasks, tag) {
				task := e.Task
				added = append(added, Change{Type: ChangeAdded, ID: e.ID, Tag: tag, Cur: &task})
			}
		default:
			prevMap := FlattenToMap(prevData.Tasks, tag)
			curEntities := Flatten(curData.Tasks, tag)
			curSeen := make(map[string]bool, len(curEntities))

			for _, e := range curEntities {
				curSeen[e.ID] = true
				task := e.Task
				prevTask, ok := prevMap[e.ID]
				if !ok {
					added = append(added, Change{Type: ChangeAdded, ID: e.ID, Tag: tag, Cur: &task})
					continue
				}
				if !flatEqual(prevTask, task) {
					p := prevTask
					updated = append(updated, Change{Type: ChangeUpdated, ID: e.ID, Tag: tag, Prev: &p, Cur: &task})
				}
			}

			for _, e := range Flatten(prevData.Tasks, tag) {
				if !curSeen[e.ID] {
					task := e.Task
					deleted = append(deleted, Change{Type: ChangeDeleted, ID: e.ID, Tag: tag, Prev: &task})
				}
			}
		}
	}

	// Second pass: reclassify deletion+addition pairs with matching content
	// as a single move. First match in iteration order wins on each side.
	var moved []Change
	usedAdd := make([]bool, len(added))
	keptDel := deleted[:0]

	for _, del := range deleted {
		matched := false
		for i, add := range added {
			if usedAdd[i] {
				continue
			}
			dEnt := Entity{ID: del.ID, Tag: del.Tag, Task: *del.Prev}
			aEnt := Entity{ID: add.ID, Tag: add.Tag, Task: *add.Cur}
			if match.SameEntity(dEnt, aEnt) {
				moved = append(moved, Change{
					Type:    ChangeMoved,
					ID:      add.ID,
					Tag:     add.Tag,
					PrevID:  del.ID,
					PrevTag: del.Tag,
					Prev:    del.Prev,
					Cur:     add.Cur,
				})
				usedAdd[i] = true
				matched = true
				break
			}
		}
		if !matched {
			keptDel = append(keptDel, del)
		}
	}
	deleted = keptDel

	keptAdd := added[:0]
	for i, add := range added {
		if !usedAdd[i] {
			keptAdd = append(keptAdd, add)
		}
	}
	added = keptAdd

	out := make([]Change, 0, len(added)+len(deleted)+len(updated)+len(moved))
	out = append(out, added...)
	out = append(out, deleted...)
	out = append(out, updated...)
	out = append(out, moved...)
	return out
}

// flatEqual compares the fields that matter for an update: content fields
// plus order-sensitive equality of the dependency and subtask reference
// lists.
func flatEqual(a, b Flat) bool {
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.Details == b.Details &&
		a.TestStrategy == b.TestStrategy &&
		a.Priority == b.Priority &&
		a.Status == b.Status &&
		slices.Equal(a.Dependencies, b.Dependencies) &&
		slices.Equal(a.Subtasks, b.Subtasks)
}

// unionTags returns the sorted union of tag names in both snapshots.
// Sorting keeps diff output deterministic across runs.
func unionTags(prev, cur types.Snapshot) []string {
	seen := make(map[string]bool, len(prev)+len(cur))
	var tags []string
	for tag := range prev {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	for tag := range cur {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	slices.Sort(tags)
	return tags
}
