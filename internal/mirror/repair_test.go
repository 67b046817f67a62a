package mirror

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/taskmirror/taskmirror/internal/mirror/idmap"
	"github.com/taskmirror/taskmirror/internal/remote"
	"github.com/taskmirror/taskmirror/internal/types"
)

func seedMarked(client *remote.MemClient, tag, localID, title string, created time.Time) string {
	return client.Seed(remote.Page{
		Properties: remote.PropertyMap{
			PropTitle:   remote.Title(title),
			PropLocalID: remote.RichText(Marker(tag, localID)),
		},
		CreatedTime: created,
	})
}

func TestRepairDeduplicatesKeepingNewest(t *testing.T) {
	client := remote.NewMemClient(nil)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	oldest := seedMarked(client, "master", "1", "Task", base)
	middle := seedMarked(client, "master", "1", "Task", base.Add(time.Hour))
	newest := seedMarked(client, "master", "1", "Task", base.Add(2*time.Hour))

	engine := newTestEngine(t, client)
	snapshot := snap("master", types.Task{ID: 1, Title: "Task"})

	report, err := engine.Repair(context.Background(), snapshot, RepairOptions{})
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if report.DuplicatesFound != 2 || report.DuplicatesRemoved != 2 {
		t.Errorf("duplicates found/removed = %d/%d, want 2/2",
			report.DuplicatesFound, report.DuplicatesRemoved)
	}
	if !slices.Contains(report.DuplicateMarkers, "master:1") {
		t.Errorf("DuplicateMarkers = %v", report.DuplicateMarkers)
	}

	archived := map[string]bool{}
	for _, p := range client.Snapshot() {
		archived[p.ID] = p.Archived
	}
	if !archived[oldest] || !archived[middle] {
		t.Error("the two older duplicates should be archived")
	}
	if archived[newest] {
		t.Error("the newest record must survive")
	}

	mapping, _ := idmap.Load(engine.mappingPath, engine.logger)
	if got := idmap.Get(mapping, "master", "1"); got != newest {
		t.Errorf("mapping points at %q, want the survivor %q", got, newest)
	}
}

func TestRepairCreatesMissingRecords(t *testing.T) {
	client := remote.NewMemClient(nil)
	engine := newTestEngine(t, client)
	snapshot := snap("master",
		types.Task{ID: 1, Title: "First"},
		types.Task{ID: 2, Title: "Second"},
	)

	report, err := engine.Repair(context.Background(), snapshot, RepairOptions{})
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if report.TasksAdded != 2 {
		t.Errorf("TasksAdded = %d, want 2", report.TasksAdded)
	}
	if len(livePages(client)) != 2 {
		t.Errorf("live pages = %d, want 2", len(livePages(client)))
	}

	mapping, _ := idmap.Load(engine.mappingPath, engine.logger)
	if idmap.Get(mapping, "master", "1") == "" || idmap.Get(mapping, "master", "2") == "" {
		t.Errorf("mappings not persisted: %v", mapping)
	}
}

func TestRepairCleansExtraRecords(t *testing.T) {
	client := remote.NewMemClient(nil)
	now := time.Now()
	keep := seedMarked(client, "master", "1", "Still local", now)
	extra := seedMarked(client, "master", "99", "Gone locally", now)

	engine := newTestEngine(t, client)
	if err := idmap.Save(idmap.Mapping{"master": {"1": keep, "99": extra}}, idmap.Meta{}, engine.mappingPath); err != nil {
		t.Fatal(err)
	}
	snapshot := snap("master", types.Task{ID: 1, Title: "Still local"})

	report, err := engine.Repair(context.Background(), snapshot, RepairOptions{})
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if report.ExtraFound != 1 || report.ExtraRemoved != 1 {
		t.Errorf("extra found/removed = %d/%d, want 1/1", report.ExtraFound, report.ExtraRemoved)
	}

	for _, p := range client.Snapshot() {
		if p.ID == extra && !p.Archived {
			t.Error("extra record should be archived")
		}
		if p.ID == keep && p.Archived {
			t.Error("mapped record should survive")
		}
	}
	mapping, _ := idmap.Load(engine.mappingPath, engine.logger)
	if idmap.Get(mapping, "master", "99") != "" {
		t.Error("extra record's mapping entry should be dropped")
	}
}

func TestRepairIgnoresUnmarkedRecords(t *testing.T) {
	client := remote.NewMemClient(nil)
	manual := client.Seed(remote.Page{Properties: remote.PropertyMap{
		PropTitle: remote.Title("Hand-written page"),
	}})

	engine := newTestEngine(t, client)
	report, err := engine.Repair(context.Background(), snap("master"), RepairOptions{})
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if report.UnmarkedRecords != 1 {
		t.Errorf("UnmarkedRecords = %d, want 1", report.UnmarkedRecords)
	}
	for _, p := range client.Snapshot() {
		if p.ID == manual && p.Archived {
			t.Error("records without a marker must never be touched")
		}
	}
}

func TestRepairAdoptsDiscoveredMappings(t *testing.T) {
	client := remote.NewMemClient(nil)
	pageID := seedMarked(client, "master", "1", "Orphan", time.Now())

	engine := newTestEngine(t, client)
	snapshot := snap("master", types.Task{ID: 1, Title: "Orphan"})

	if _, err := engine.Repair(context.Background(), snapshot, RepairOptions{}); err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	mapping, _ := idmap.Load(engine.mappingPath, engine.logger)
	if got := idmap.Get(mapping, "master", "1"); got != pageID {
		t.Errorf("mapping = %q, want adopted page %q", got, pageID)
	}
}

func TestRepairDropsInvalidMappings(t *testing.T) {
	client := remote.NewMemClient(nil)
	engine := newTestEngine(t, client)
	if err := idmap.Save(idmap.Mapping{"master": {"7": "no-such-page"}}, idmap.Meta{}, engine.mappingPath); err != nil {
		t.Fatal(err)
	}

	report, err := engine.Repair(context.Background(), snap("master"), RepairOptions{})
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if report.InvalidMappings != 1 || report.MappingsRemoved != 1 {
		t.Errorf("invalid found/removed = %d/%d, want 1/1",
			report.InvalidMappings, report.MappingsRemoved)
	}
	mapping, _ := idmap.Load(engine.mappingPath, engine.logger)
	if idmap.Get(mapping, "master", "7") != "" {
		t.Error("dead mapping entry should be dropped")
	}
}

func TestRepairDryRunMutatesNothing(t *testing.T) {
	client := remote.NewMemClient(nil)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedMarked(client, "master", "1", "Task", base)
	seedMarked(client, "master", "1", "Task", base.Add(time.Hour))

	engine := newTestEngine(t, client)
	snapshot := snap("master",
		types.Task{ID: 1, Title: "Task"},
		types.Task{ID: 2, Title: "Missing remotely"},
	)

	report, err := engine.Repair(context.Background(), snapshot, RepairOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !report.DryRun {
		t.Error("report should carry the dry-run flag")
	}
	if report.DuplicatesRemoved != 1 || report.TasksAdded != 1 {
		t.Errorf("projection = %+v, want 1 duplicate removed and 1 task added", report)
	}

	// Nothing remote or local may have changed.
	if len(client.Snapshot()) != 2 {
		t.Errorf("page count changed: %d", len(client.Snapshot()))
	}
	for _, p := range client.Snapshot() {
		if p.Archived {
			t.Errorf("page %s archived during dry run", p.ID)
		}
	}
	if mapping, _ := idmap.Load(engine.mappingPath, engine.logger); len(mapping) != 0 {
		t.Errorf("mapping written during dry run: %v", mapping)
	}
}

func TestValidateReportsDrift(t *testing.T) {
	client := remote.NewMemClient(nil)
	engine := newTestEngine(t, client)
	snapshot := snap("master", types.Task{ID: 1, Title: "Never synced"})

	report, err := engine.Validate(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !slices.Contains(report.AddedMarkers, "master:1") {
		t.Errorf("AddedMarkers = %v", report.AddedMarkers)
	}
	if report.Integrity == nil || report.Integrity.Missing != 1 {
		t.Errorf("integrity = %+v, want one missing", report.Integrity)
	}
	if len(client.Snapshot()) != 0 {
		t.Error("validate must never mutate")
	}
}

func TestValidateCleanMirror(t *testing.T) {
	client := remote.NewMemClient(nil)
	pageID := seedMarked(client, "master", "1", "Synced", time.Now())

	engine := newTestEngine(t, client)
	if err := idmap.Save(idmap.Mapping{"master": {"1": pageID}}, idmap.Meta{}, engine.mappingPath); err != nil {
		t.Fatal(err)
	}
	snapshot := snap("master", types.Task{ID: 1, Title: "Synced"})

	report, err := engine.Validate(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if report.DuplicatesFound != 0 || report.ExtraFound != 0 || report.InvalidMappings != 0 {
		t.Errorf("clean mirror reported drift: %+v", report)
	}
	if report.Integrity == nil || !report.Integrity.OK() {
		t.Errorf("integrity = %+v, want clean", report.Integrity)
	}
}

func TestResetRebuildsFromScratch(t *testing.T) {
	client := remote.NewMemClient(nil)
	stale := seedMarked(client, "master", "1", "Stale content", time.Now())
	manual := client.Seed(remote.Page{Properties: remote.PropertyMap{
		PropTitle: remote.Title("Manual page"),
	}})

	engine := newTestEngine(t, client)
	if err := idmap.Save(idmap.Mapping{"master": {"1": stale}}, idmap.Meta{}, engine.mappingPath); err != nil {
		t.Fatal(err)
	}
	snapshot := snap("master",
		types.Task{ID: 1, Title: "Fresh"},
		types.Task{ID: 2, Title: "Also fresh"},
	)

	report, err := engine.Reset(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if report.TasksAdded != 2 {
		t.Errorf("TasksAdded = %d, want 2", report.TasksAdded)
	}

	var staleArchived, manualArchived bool
	liveCount := 0
	for _, p := range client.Snapshot() {
		switch p.ID {
		case stale:
			staleArchived = p.Archived
		case manual:
			manualArchived = p.Archived
		default:
			if !p.Archived {
				liveCount++
			}
		}
	}
	if !staleArchived {
		t.Error("old marked record should be archived")
	}
	if manualArchived {
		t.Error("unmarked record must survive a reset")
	}
	if liveCount != 2 {
		t.Errorf("fresh live pages = %d, want 2", liveCount)
	}

	mapping, _ := idmap.Load(engine.mappingPath, engine.logger)
	if idmap.Get(mapping, "master", "1") == "" || idmap.Get(mapping, "master", "2") == "" {
		t.Errorf("fresh mappings missing: %v", mapping)
	}
	if idmap.Get(mapping, "master", "1") == stale {
		t.Error("mapping must point at the re-created page, not the stale one")
	}
}
