package mirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskmirror/taskmirror/internal/mirror/idmap"
	"github.com/taskmirror/taskmirror/internal/remote"
)

const (
	relationBatchSize = 10
	relationPause     = 300 * time.Millisecond
)

// RelationCaps reports which relation-typed properties the remote database
// actually has, and their exact names. The mirror never assumes a relation
// property exists: databases are user-managed and any of the three may have
// been removed or renamed.
type RelationCaps struct {
	ParentProp       string
	SubtasksProp     string
	DependenciesProp string
}

// HasParent reports whether a parent relation property exists.
func (c RelationCaps) HasParent() bool { return c.ParentProp != "" }

// HasSubtasks reports whether a subtask relation property exists.
func (c RelationCaps) HasSubtasks() bool { return c.SubtasksProp != "" }

// HasDependencies reports whether a dependency relation property exists.
func (c RelationCaps) HasDependencies() bool { return c.DependenciesProp != "" }

// DetectRelationCaps inspects the schema for relation-typed properties
// whose names match (case-insensitively) "parent", "sub", and "dependenc".
// Property names are walked in sorted order, so when several names match
// the same capability the winner is stable across runs.
func DetectRelationCaps(schema *remote.Schema) RelationCaps {
	var caps RelationCaps
	if schema == nil {
		return caps
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if schema.Properties[name].Type != "relation" {
			continue
		}
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "parent"):
			if caps.ParentProp == "" {
				caps.ParentProp = name
			}
		case strings.Contains(lower, "dependenc"):
			if caps.DependenciesProp == "" {
				caps.DependenciesProp = name
			}
		case strings.Contains(lower, "sub"):
			if caps.SubtasksProp == "" {
				caps.SubtasksProp = name
			}
		}
	}
	return caps
}

// RelationProperties builds the relation payload for one entity from the
// identity map.
//
// The parent relation is a single-element link to the parent's remote page,
// omitted entirely while the parent is unmapped. Dependency relations are
// emitted only when the database has a dependency relation property;
// unmapped dependency targets are silently dropped - a textual fallback
// rendering upstream covers those until they exist remotely.
//
// Returns an empty map when there is nothing to relate.
func RelationProperties(e Entity, caps RelationCaps, mapping idmap.Mapping) remote.PropertyMap {
	props := remote.PropertyMap{}

	if caps.HasParent() && e.Task.ParentID != "" {
		if parentRemote := idmap.Get(mapping, e.Tag, e.Task.ParentID); parentRemote != "" {
			props[caps.ParentProp] = remote.Relation(parentRemote)
		}
	}

	if caps.HasDependencies() && len(e.Task.Dependencies) > 0 {
		var targets []string
		for _, dep := range e.Task.Dependencies {
			if depRemote := idmap.Get(mapping, e.Tag, dep); depRemote != "" {
				targets = append(targets, depRemote)
			}
		}
		if len(targets) > 0 {
			props[caps.DependenciesProp] = remote.Relation(targets...)
		}
	}

	return props
}

// RemoteNode is one entity's hierarchy state as reconstructed purely from
// remote records.
type RemoteNode struct {
	RemoteID   string
	ParentID   string   // local id of the remote parent relation target, "" if none
	SubtaskIDs []string // local ids of the remote subtask relation targets
	Title      string
}

// ReconstructView rebuilds a localID → RemoteNode view for one tag from the
// full set of its remote pages, using only relation fields and the local-id
// marker. Pages without a marker, or with a marker for another tag, are
// ignored. Relation targets that do not resolve to a marked page of the
// same tag are dropped.
func ReconstructView(pages []remote.Page, tag string, caps RelationCaps) map[string]RemoteNode {
	byRemote := make(map[string]string, len(pages)) // remote page id → local id
	for _, p := range pages {
		mTag, localID, ok := ParseMarker(p.Properties.PlainText(PropLocalID))
		if !ok || mTag != tag {
			continue
		}
		byRemote[p.ID] = localID
	}

	view := make(map[string]RemoteNode, len(byRemote))
	for _, p := range pages {
		localID, ok := byRemote[p.ID]
		if !ok {
			continue
		}
		node := RemoteNode{
			RemoteID: p.ID,
			Title:    p.Properties.PlainText(PropTitle),
		}
		if caps.HasParent() {
			if targets := p.Properties.RelationIDs(caps.ParentProp); len(targets) > 0 {
				node.ParentID = byRemote[targets[0]]
			}
		}
		if caps.HasSubtasks() {
			for _, target := range p.Properties.RelationIDs(caps.SubtasksProp) {
				if childLocal, ok := byRemote[target]; ok {
					node.SubtaskIDs = append(node.SubtaskIDs, childLocal)
				}
			}
		}
		view[localID] = node
	}
	return view
}

// IssueKind classifies one integrity finding.
type IssueKind string

const (
	// IssueMissingRemote: the local entity has no remote counterpart.
	IssueMissingRemote IssueKind = "missing-on-remote"
	// IssueParentMismatch: the remote parent relation disagrees with the
	// local tree.
	IssueParentMismatch IssueKind = "parent-mismatch"
	// IssueOrphanedSubtask: the remote parent relation points at an id
	// absent from the local tree.
	IssueOrphanedSubtask IssueKind = "orphaned-subtask"
)

// IntegrityIssue is one finding from ValidateIntegrity.
type IntegrityIssue struct {
	Kind    IssueKind
	Tag     string
	LocalID string
	Detail  string
}

// IntegrityReport aggregates ValidateIntegrity findings. Nothing was
// mutated to produce it.
type IntegrityReport struct {
	Checked          int
	Missing          int
	ParentMismatches int
	Orphans          int
	Issues           []IntegrityIssue
}

// OK reports whether the local tree and the remote view agree.
func (r *IntegrityReport) OK() bool { return len(r.Issues) == 0 }

// ValidateIntegrity compares the local flattened entities of one tag
// against the remote-reconstructed view and reports every discrepancy.
func ValidateIntegrity(local []Entity, view map[string]RemoteNode) *IntegrityReport {
	report := &IntegrityReport{}
	localIDs := make(map[string]bool, len(local))
	for _, e := range local {
		localIDs[e.ID] = true
	}

	for _, e := range local {
		report.Checked++
		node, ok := view[e.ID]
		if !ok {
			report.Missing++
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind: IssueMissingRemote, Tag: e.Tag, LocalID: e.ID,
				Detail: "no remote record carries this entity's marker",
			})
			continue
		}

		if node.ParentID != "" && !localIDs[node.ParentID] {
			report.Orphans++
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind: IssueOrphanedSubtask, Tag: e.Tag, LocalID: e.ID,
				Detail: fmt.Sprintf("remote parent %q is absent from the local tree", node.ParentID),
			})
			continue
		}

		if node.ParentID != e.Task.ParentID {
			report.ParentMismatches++
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind: IssueParentMismatch, Tag: e.Tag, LocalID: e.ID,
				Detail: fmt.Sprintf("remote parent %q, local parent %q", node.ParentID, e.Task.ParentID),
			})
		}
	}
	return report
}

// RelationUpdate is one pending relation write.
type RelationUpdate struct {
	PageID string
	Props  remote.PropertyMap
}

// ApplyRelationUpdates writes relation payloads to already-mapped remote
// records in fixed-size concurrent batches with an inter-batch pause.
//
// A record found archived at update time is skipped without erroring: it
// was deleted remotely between mapping and update, and the next repair pass
// reconciles it. Other per-record failures are accumulated, never abort the
// batch, and are returned keyed by page id alongside the success count.
func ApplyRelationUpdates(ctx context.Context, client remote.Client, updates []RelationUpdate, pol remote.Policy, logger *log.Logger) (updated int, failures map[string]error) {
	failures = make(map[string]error)

	for start := 0; start < len(updates); start += relationBatchSize {
		end := start + relationBatchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[start:end]

		type result struct {
			pageID string
			err    error
		}
		results := make([]result, len(batch))

		var wg sync.WaitGroup
		for i, u := range batch {
			wg.Add(1)
			go func(i int, u RelationUpdate) {
				defer wg.Done()
				_, err := remote.WithRetry(ctx, logger, "relate "+u.PageID, pol,
					func(ctx context.Context) (struct{}, error) {
						return struct{}{}, client.UpdatePage(ctx, u.PageID, u.Props)
					})
				results[i] = result{pageID: u.PageID, err: err}
			}(i, u)
		}
		wg.Wait()

		for _, r := range results {
			switch {
			case r.err == nil:
				updated++
			case errors.Is(r.err, remote.ErrArchived):
				if logger != nil {
					logger.Printf("skipping archived record %s during relation update", r.pageID)
				}
			default:
				failures[r.pageID] = r.err
			}
		}

		if end < len(updates) {
			select {
			case <-ctx.Done():
				return updated, failures
			case <-time.After(relationPause):
			}
		}
	}
	return updated, failures
}
