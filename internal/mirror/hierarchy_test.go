package mirror

import (
	"context"
	"io"
	"log"
	"slices"
	"testing"

	"github.com/taskmirror/taskmirror/internal/mirror/idmap"
	"github.com/taskmirror/taskmirror/internal/remote"
)

func relationSchema(names ...string) *remote.Schema {
	props := make(map[string]remote.PropertySchema, len(names))
	for _, n := range names {
		props[n] = remote.PropertySchema{Name: n, Type: "relation"}
	}
	return &remote.Schema{ID: "db", Properties: props}
}

func TestDetectRelationCaps(t *testing.T) {
	caps := DetectRelationCaps(relationSchema("Parent Task", "Sub-tasks", "Dependencies"))
	if caps.ParentProp != "Parent Task" {
		t.Errorf("ParentProp = %q", caps.ParentProp)
	}
	if caps.SubtasksProp != "Sub-tasks" {
		t.Errorf("SubtasksProp = %q", caps.SubtasksProp)
	}
	if caps.DependenciesProp != "Dependencies" {
		t.Errorf("DependenciesProp = %q", caps.DependenciesProp)
	}
}

func TestDetectRelationCapsPartialSchema(t *testing.T) {
	caps := DetectRelationCaps(relationSchema("Parent item"))
	if !caps.HasParent() || caps.HasSubtasks() || caps.HasDependencies() {
		t.Errorf("caps = %+v, want parent only", caps)
	}

	if caps := DetectRelationCaps(nil); caps.HasParent() || caps.HasSubtasks() || caps.HasDependencies() {
		t.Errorf("nil schema should yield no caps, got %+v", caps)
	}
}

func TestDetectRelationCapsIgnoresNonRelations(t *testing.T) {
	schema := &remote.Schema{ID: "db", Properties: map[string]remote.PropertySchema{
		"Parent Task": {Name: "Parent Task", Type: "rich_text"},
	}}
	if caps := DetectRelationCaps(schema); caps.HasParent() {
		t.Error("non-relation property must not register as a parent cap")
	}
}

func TestDetectRelationCapsDependencyBeatsSub(t *testing.T) {
	// A name matching both patterns classifies as dependencies.
	caps := DetectRelationCaps(relationSchema("Sub-dependencies"))
	if caps.DependenciesProp != "Sub-dependencies" || caps.SubtasksProp != "" {
		t.Errorf("caps = %+v, want dependencies only", caps)
	}
}

func TestDetectRelationCapsStableAcrossAmbiguity(t *testing.T) {
	// Two names match the parent pattern; sorted order makes the winner
	// deterministic regardless of map iteration.
	for i := 0; i < 20; i++ {
		caps := DetectRelationCaps(relationSchema("Parent task", "Parent", "Dependencies"))
		if caps.ParentProp != "Parent" {
			t.Fatalf("ParentProp = %q, want Parent (sorted first)", caps.ParentProp)
		}
	}
}

func TestRelationProperties(t *testing.T) {
	caps := RelationCaps{ParentProp: "Parent", DependenciesProp: "Deps"}
	mapping := idmap.Mapping{
		"master": {"5": "page-parent", "2": "page-dep"},
	}

	ent := Entity{
		ID:  "5.1",
		Tag: "master",
		Task: Flat{
			ParentID:     "5",
			Dependencies: []string{"2", "99"}, // 99 unmapped, dropped
		},
	}

	props := RelationProperties(ent, caps, mapping)
	if !slices.Equal(props["Parent"].Relations, []string{"page-parent"}) {
		t.Errorf("parent relation = %v", props["Parent"].Relations)
	}
	if !slices.Equal(props["Deps"].Relations, []string{"page-dep"}) {
		t.Errorf("dependency relation = %v", props["Deps"].Relations)
	}
}

func TestRelationPropertiesUnmappedParentOmitted(t *testing.T) {
	caps := RelationCaps{ParentProp: "Parent"}
	props := RelationProperties(Entity{ID: "5.1", Tag: "m", Task: Flat{ParentID: "5"}}, caps, idmap.Mapping{})
	if len(props) != 0 {
		t.Errorf("unmapped parent should yield no relation payload, got %v", props)
	}
}

func TestRelationPropertiesNoCaps(t *testing.T) {
	mapping := idmap.Mapping{"m": {"5": "page-parent"}}
	props := RelationProperties(Entity{ID: "5.1", Tag: "m", Task: Flat{ParentID: "5"}}, RelationCaps{}, mapping)
	if len(props) != 0 {
		t.Errorf("a database without relation properties gets none, got %v", props)
	}
}

func markedPage(id, tag, localID, title string, extra remote.PropertyMap) remote.Page {
	props := remote.PropertyMap{
		PropTitle:   remote.Title(title),
		PropLocalID: remote.RichText(Marker(tag, localID)),
	}
	for k, v := range extra {
		props[k] = v
	}
	return remote.Page{ID: id, Properties: props}
}

func TestReconstructView(t *testing.T) {
	caps := RelationCaps{ParentProp: "Parent", SubtasksProp: "Subtasks"}
	pages := []remote.Page{
		markedPage("p5", "master", "5", "Parent", remote.PropertyMap{
			"Subtasks": remote.Relation("p51"),
		}),
		markedPage("p51", "master", "5.1", "Child", remote.PropertyMap{
			"Parent": remote.Relation("p5"),
		}),
		markedPage("other", "feature", "1", "Other tag", nil),
		{ID: "unmarked", Properties: remote.PropertyMap{PropTitle: remote.Title("manual")}},
	}

	view := ReconstructView(pages, "master", caps)
	if len(view) != 2 {
		t.Fatalf("got %d nodes, want 2: %v", len(view), view)
	}
	if view["5.1"].ParentID != "5" {
		t.Errorf("child parent = %q, want 5", view["5.1"].ParentID)
	}
	if !slices.Equal(view["5"].SubtaskIDs, []string{"5.1"}) {
		t.Errorf("parent subtasks = %v", view["5"].SubtaskIDs)
	}
	if view["5"].RemoteID != "p5" {
		t.Errorf("remote id = %q", view["5"].RemoteID)
	}
}

func TestValidateIntegrity(t *testing.T) {
	local := []Entity{
		{ID: "5", Tag: "m", Task: Flat{Title: "Parent"}},
		{ID: "5.1", Tag: "m", Task: Flat{Title: "Child", ParentID: "5"}},
		{ID: "7", Tag: "m", Task: Flat{Title: "Missing remotely"}},
	}
	view := map[string]RemoteNode{
		"5":   {RemoteID: "p5"},
		"5.1": {RemoteID: "p51", ParentID: "6"},
	}

	report := ValidateIntegrity(local, view)
	if report.Checked != 3 {
		t.Errorf("Checked = %d, want 3", report.Checked)
	}
	if report.Missing != 1 {
		t.Errorf("Missing = %d, want 1", report.Missing)
	}
	// "6" is absent from the local tree, so the wrong parent counts as an
	// orphan rather than a mismatch.
	if report.Orphans != 1 {
		t.Errorf("Orphans = %d, want 1", report.Orphans)
	}
	if report.OK() {
		t.Error("report with issues must not be OK")
	}
}

func TestValidateIntegrityParentMismatch(t *testing.T) {
	local := []Entity{
		{ID: "5", Tag: "m", Task: Flat{}},
		{ID: "6", Tag: "m", Task: Flat{}},
		{ID: "5.1", Tag: "m", Task: Flat{ParentID: "5"}},
	}
	view := map[string]RemoteNode{
		"5":   {RemoteID: "p5"},
		"6":   {RemoteID: "p6"},
		"5.1": {RemoteID: "p51", ParentID: "6"},
	}

	report := ValidateIntegrity(local, view)
	if report.ParentMismatches != 1 {
		t.Errorf("ParentMismatches = %d, want 1", report.ParentMismatches)
	}
	if report.Orphans != 0 {
		t.Errorf("Orphans = %d, want 0", report.Orphans)
	}
}

func TestValidateIntegrityClean(t *testing.T) {
	local := []Entity{{ID: "1", Tag: "m", Task: Flat{}}}
	view := map[string]RemoteNode{"1": {RemoteID: "p1"}}
	if report := ValidateIntegrity(local, view); !report.OK() {
		t.Errorf("clean tree should validate, got %+v", report.Issues)
	}
}

func TestApplyRelationUpdates(t *testing.T) {
	client := remote.NewMemClient(nil)
	p1 := client.Seed(remote.Page{Properties: remote.PropertyMap{}})
	p2 := client.Seed(remote.Page{Properties: remote.PropertyMap{}, Archived: true})

	quiet := log.New(io.Discard, "", 0)
	pol := remote.Policy{Retries: 1, MinDelay: 1, MaxDelay: 1, Factor: 1}
	updates := []RelationUpdate{
		{PageID: p1, Props: remote.PropertyMap{"Parent": remote.Relation("x")}},
		{PageID: p2, Props: remote.PropertyMap{"Parent": remote.Relation("x")}},
		{PageID: "missing", Props: remote.PropertyMap{"Parent": remote.Relation("x")}},
	}

	updated, failures := ApplyRelationUpdates(context.Background(), client, updates, pol, quiet)
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}
	// Archived pages are skipped silently; the missing page is a failure.
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want one", failures)
	}
	if _, ok := failures["missing"]; !ok {
		t.Errorf("missing page should be the failure, got %v", failures)
	}
}
