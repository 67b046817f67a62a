package mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/taskmirror/taskmirror/internal/mirror/idmap"
	"github.com/taskmirror/taskmirror/internal/mirror/txn"
	"github.com/taskmirror/taskmirror/internal/remote"
	"github.com/taskmirror/taskmirror/internal/types"
)

// Stage names one phase of a repair run. Stages commit independently: a
// failure aborts the remaining stages but never unwinds committed ones.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageAuditing    Stage = "auditing"
	StageDedup       Stage = "deduplicating"
	StageSyncMissing Stage = "syncing-missing"
	StageCleanExtra  Stage = "cleaning-extra"
	StageReconcile   Stage = "reconciling-mappings"
	StageReporting   Stage = "reporting"
)

// Labeler produces a short label string for a task, or fails. Label
// generation is an external collaborator; the engine only consumes the
// contract and never lets a label failure break a sync.
type Labeler interface {
	GenerateLabel(ctx context.Context, title, description string) (string, error)
}

// Engine composes the flattener, diff engine, hierarchy reconciler and
// transactional framework into the sync and repair workflows.
//
// Construct one per invocation with New. The zero value is not usable.
type Engine struct {
	client      remote.Client
	databaseID  string
	mappingPath string
	policy      remote.Policy
	match       MatchStrategy
	labeler     Labeler
	logger      *log.Logger
}

// Options configures an Engine.
type Options struct {
	Client      remote.Client
	DatabaseID  string
	MappingPath string
	// Policy defaults to remote.DefaultPolicy() when zero.
	Policy remote.Policy
	// Match defaults to ContentMatch.
	Match MatchStrategy
	// Labeler is optional; when set, created pages get a generated label.
	Labeler Labeler
	// Logger defaults to stderr with a "[mirror] " prefix.
	Logger *log.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[mirror] ", log.LstdFlags)
	}
	match := opts.Match
	if match == nil {
		match = ContentMatch{}
	}
	pol := opts.Policy
	if pol.Retries == 0 && pol.MinDelay == 0 {
		pol = remote.DefaultPolicy()
	}
	return &Engine{
		client:      opts.Client,
		databaseID:  opts.DatabaseID,
		mappingPath: opts.MappingPath,
		policy:      pol,
		match:       match,
		labeler:     opts.Labeler,
		logger:      logger,
	}
}

// Report is the structured outcome of a validate, repair or reset run.
// Counts are filled identically in dry-run mode; only the *Removed/*Added
// numbers then describe what would have happened.
type Report struct {
	DryRun bool `json:"dryRun" yaml:"dryRun"`

	DuplicatesFound   int `json:"duplicatesFound" yaml:"duplicatesFound"`
	DuplicatesRemoved int `json:"duplicatesRemoved" yaml:"duplicatesRemoved"`
	TasksAdded        int `json:"tasksAdded" yaml:"tasksAdded"`
	ExtraFound        int `json:"extraFound" yaml:"extraFound"`
	ExtraRemoved      int `json:"extraRemoved" yaml:"extraRemoved"`
	InvalidMappings   int `json:"invalidMappingsFound" yaml:"invalidMappingsFound"`
	MappingsRemoved   int `json:"invalidMappingsRemoved" yaml:"invalidMappingsRemoved"`
	UnmarkedRecords   int `json:"unmarkedRecords" yaml:"unmarkedRecords"`
	RelationsUpdated  int `json:"relationsUpdated" yaml:"relationsUpdated"`

	DuplicateMarkers []string          `json:"duplicateMarkers,omitempty" yaml:"duplicateMarkers,omitempty"`
	AddedMarkers     []string          `json:"addedMarkers,omitempty" yaml:"addedMarkers,omitempty"`
	ExtraMarkers     []string          `json:"extraMarkers,omitempty" yaml:"extraMarkers,omitempty"`
	RemovedMappings  []string          `json:"removedMappings,omitempty" yaml:"removedMappings,omitempty"`
	RecordErrors     map[string]string `json:"recordErrors,omitempty" yaml:"recordErrors,omitempty"`

	Integrity *IntegrityReport `json:"integrity,omitempty" yaml:"integrity,omitempty"`

	// FailedStage is set when a stage aborted the run; stages before it
	// are committed, stages after it were not attempted.
	FailedStage Stage  `json:"failedStage,omitempty" yaml:"failedStage,omitempty"`
	FailedError string `json:"failedError,omitempty" yaml:"failedError,omitempty"`
}

func (r *Report) recordErr(id string, err error) {
	if r.RecordErrors == nil {
		r.RecordErrors = make(map[string]string)
	}
	r.RecordErrors[id] = err.Error()
}

// audit is the read-only projection every workflow starts from.
type audit struct {
	caps    RelationCaps
	pages   []remote.Page
	mapping idmap.Mapping
	meta    idmap.Meta

	entities []Entity          // every flattened local entity, all tags
	byMarker map[string]Entity // marker → local entity

	marked    map[string][]remote.Page // marker → live pages carrying it, oldest first
	unmarked  int
	missing   []Entity        // local entities with no live page
	extras    []remote.Page   // marked live pages with no local entity
	invalid   [][2]string     // (tag, localID) mapping entries pointing at dead pages
	liveByID  map[string]bool // live page ids
	pagesByID map[string]remote.Page
}

// runAudit queries the full remote database once and classifies everything.
func (e *Engine) runAudit(ctx context.Context, snapshot types.Snapshot) (*audit, error) {
	schema, err := remote.WithRetry(ctx, e.logger, "retrieve schema", e.policy,
		func(ctx context.Context) (*remote.Schema, error) {
			return e.client.RetrieveSchema(ctx, e.databaseID)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve database schema: %w", err)
	}

	pages, err := remote.WithRetry(ctx, e.logger, "query records", e.policy,
		func(ctx context.Context) ([]remote.Page, error) {
			return remote.QueryAll(ctx, e.client, e.databaseID, nil)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query remote records: %w", err)
	}

	mapping, meta := idmap.Load(e.mappingPath, e.logger)

	a := &audit{
		caps:      DetectRelationCaps(schema),
		pages:     pages,
		mapping:   mapping,
		meta:      meta,
		byMarker:  make(map[string]Entity),
		marked:    make(map[string][]remote.Page),
		liveByID:  make(map[string]bool),
		pagesByID: make(map[string]remote.Page),
	}

	for tag, data := range snapshot {
		for _, ent := range Flatten(data.Tasks, tag) {
			a.entities = append(a.entities, ent)
			a.byMarker[Marker(ent.Tag, ent.ID)] = ent
		}
	}

	for _, p := range pages {
		a.pagesByID[p.ID] = p
		if !p.Archived {
			a.liveByID[p.ID] = true
		}
		marker := p.Properties.PlainText(PropLocalID)
		if marker == "" {
			a.unmarked++
			continue
		}
		if !p.Archived {
			a.marked[marker] = append(a.marked[marker], p)
		}
	}
	for marker, dups := range a.marked {
		sort.Slice(dups, func(i, j int) bool {
			return dups[i].CreatedTime.Before(dups[j].CreatedTime)
		})
		a.marked[marker] = dups
		if _, ok := a.byMarker[marker]; !ok {
			a.extras = append(a.extras, dups...)
		}
	}
	sort.Slice(a.extras, func(i, j int) bool { return a.extras[i].ID < a.extras[j].ID })

	for _, ent := range a.entities {
		if len(a.marked[Marker(ent.Tag, ent.ID)]) == 0 {
			a.missing = append(a.missing, ent)
		}
	}

	for tag, ids := range mapping {
		for localID, remoteID := range ids {
			if !a.liveByID[remoteID] {
				a.invalid = append(a.invalid, [2]string{tag, localID})
			}
		}
	}
	sort.Slice(a.invalid, func(i, j int) bool {
		if a.invalid[i][0] != a.invalid[j][0] {
			return a.invalid[i][0] < a.invalid[j][0]
		}
		return a.invalid[i][1] < a.invalid[j][1]
	})

	return a, nil
}

// Validate audits remote state against the local snapshot without mutating
// anything, and reports drift: duplicates, missing records, extras,
// invalid mappings, unmarked records, and hierarchy integrity issues.
func (e *Engine) Validate(ctx context.Context, snapshot types.Snapshot) (*Report, error) {
	e.logger.Printf("stage %s: querying remote database", StageAuditing)
	a, err := e.runAudit(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	report := &Report{DryRun: true}
	e.projectAudit(a, report)

	integrity := &IntegrityReport{}
	for tag, data := range snapshot {
		local := Flatten(data.Tasks, tag)
		view := ReconstructView(a.pages, tag, a.caps)
		tagReport := ValidateIntegrity(local, view)
		integrity.Checked += tagReport.Checked
		integrity.Missing += tagReport.Missing
		integrity.ParentMismatches += tagReport.ParentMismatches
		integrity.Orphans += tagReport.Orphans
		integrity.Issues = append(integrity.Issues, tagReport.Issues...)
	}
	report.Integrity = integrity

	e.logger.Printf("validate: %d checked, %d missing, %d duplicates, %d extras, %d invalid mappings",
		integrity.Checked, len(a.missing), report.DuplicatesFound, report.ExtraFound, report.InvalidMappings)
	return report, nil
}

// projectAudit fills the "found" half of the report from an audit.
func (e *Engine) projectAudit(a *audit, report *Report) {
	for marker, dups := range a.marked {
		if len(dups) > 1 {
			report.DuplicatesFound += len(dups) - 1
			report.DuplicateMarkers = append(report.DuplicateMarkers, marker)
		}
	}
	sort.Strings(report.DuplicateMarkers)
	for _, ent := range a.missing {
		report.AddedMarkers = append(report.AddedMarkers, Marker(ent.Tag, ent.ID))
	}
	sort.Strings(report.AddedMarkers)
	for _, p := range a.extras {
		report.ExtraMarkers = append(report.ExtraMarkers, p.Properties.PlainText(PropLocalID))
	}
	report.ExtraFound = len(a.extras)
	report.InvalidMappings = len(a.invalid)
	for _, inv := range a.invalid {
		report.RemovedMappings = append(report.RemovedMappings, inv[0]+":"+inv[1])
	}
	report.UnmarkedRecords = a.unmarked
}

// RepairOptions configures a repair run.
type RepairOptions struct {
	// DryRun short-circuits every mutating stage into a read-only
	// projection that still produces the same report shape.
	DryRun bool
}

// Repair runs the full repair workflow: deduplicate, sync missing, clean
// extra, reconcile mappings, then a relation-update pass.
//
// Each stage commits independently. A terminal error in a mutating stage
// aborts the remaining stages of the run - recorded on the report - but
// never rolls back mutations committed by prior stages. Within one stage,
// operations executed under the transactional framework roll back together.
func (e *Engine) Repair(ctx context.Context, snapshot types.Snapshot, opts RepairOptions) (*Report, error) {
	e.logger.Printf("stage %s: querying remote database", StageAuditing)
	a, err := e.runAudit(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	report := &Report{DryRun: opts.DryRun}
	e.projectAudit(a, report)

	stages := []struct {
		stage Stage
		run   func(ctx context.Context, a *audit, report *Report) error
	}{
		{StageDedup, e.stageDeduplicate},
		{StageSyncMissing, e.stageSyncMissing},
		{StageCleanExtra, e.stageCleanExtra},
		{StageReconcile, e.stageReconcileMappings},
	}

	for _, s := range stages {
		if opts.DryRun {
			e.logger.Printf("stage %s: dry run, projecting only", s.stage)
			e.projectStage(s.stage, a, report)
			continue
		}
		e.logger.Printf("stage %s: starting", s.stage)
		if err := s.run(ctx, a, report); err != nil {
			report.FailedStage = s.stage
			report.FailedError = err.Error()
			e.logger.Printf("stage %s failed, aborting remaining stages: %v", s.stage, err)
			return report, fmt.Errorf("stage %s failed: %w", s.stage, err)
		}
		// Stages persist mappings independently; reload so the next stage
		// never saves a stale in-memory copy over newer state.
		a.mapping, a.meta = idmap.Load(e.mappingPath, e.logger)
	}

	if !opts.DryRun {
		updated, failures := e.relationPass(ctx, a)
		report.RelationsUpdated = updated
		for id, ferr := range failures {
			report.recordErr(id, ferr)
		}
	}

	e.logger.Printf("stage %s: repair complete (dryRun=%v)", StageReporting, opts.DryRun)
	return report, nil
}

// projectStage fills a stage's "removed/added" numbers without mutating,
// for dry runs.
func (e *Engine) projectStage(s Stage, a *audit, report *Report) {
	switch s {
	case StageDedup:
		report.DuplicatesRemoved = report.DuplicatesFound
	case StageSyncMissing:
		report.TasksAdded = len(a.missing)
	case StageCleanExtra:
		report.ExtraRemoved = report.ExtraFound
	case StageReconcile:
		report.MappingsRemoved = report.InvalidMappings
	}
}

// stageDeduplicate archives all but the most recently created record for
// every marker carried by more than one live record, and points the
// mapping at the survivor.
func (e *Engine) stageDeduplicate(ctx context.Context, a *audit, report *Report) error {
	var toArchive []string
	mapping := a.mapping

	markers := make([]string, 0, len(a.marked))
	for marker := range a.marked {
		markers = append(markers, marker)
	}
	sort.Strings(markers)

	for _, marker := range markers {
		dups := a.marked[marker]
		if len(dups) < 2 {
			continue
		}
		keeper := dups[len(dups)-1] // newest created_time survives
		for _, p := range dups[:len(dups)-1] {
			toArchive = append(toArchive, p.ID)
		}
		if tag, localID, ok := ParseMarker(marker); ok {
			mapping = idmap.Set(mapping, tag, localID, keeper.ID)
		}
	}
	if len(toArchive) == 0 {
		return nil
	}

	mgr := txn.NewManager(e.logger)
	archiveOp := &txn.BulkArchive{Client: e.client, PageIDs: toArchive, Policy: e.policy, Logger: e.logger}
	result, err := mgr.Execute(ctx, archiveOp)
	if err != nil {
		return err
	}
	if _, err := mgr.Execute(ctx, &txn.MappingWrite{Path: e.mappingPath, Mapping: mapping, Meta: a.meta}); err != nil {
		return err
	}
	mgr.Commit()

	if archived, ok := result.([]string); ok {
		report.DuplicatesRemoved = len(archived)
		for _, id := range archived {
			delete(a.liveByID, id)
		}
	}
	return nil
}

// stageSyncMissing creates a remote record for every local entity that has
// none, persisting each new mapping as it lands.
func (e *Engine) stageSyncMissing(ctx context.Context, a *audit, report *Report) error {
	if len(a.missing) == 0 {
		return nil
	}

	items := make([]txn.CreateItem, 0, len(a.missing))
	for _, ent := range a.missing {
		props := BuildProperties(ent)
		e.applyLabel(ctx, ent, props)
		items = append(items, txn.CreateItem{Tag: ent.Tag, LocalID: ent.ID, Props: props})
	}

	mgr := txn.NewManager(e.logger)
	createOp := &txn.BulkCreate{
		Client:     e.client,
		DatabaseID: e.databaseID,
		Items:      items,
		Policy:     e.policy,
		Logger:     e.logger,
		OnCreated: func(c txn.Created) error {
			// Persist after every successful mutation. The file on disk is
			// authoritative; our in-memory copy is reloaded after the stage.
			mapping, meta := idmap.Load(e.mappingPath, e.logger)
			mapping = idmap.Set(mapping, c.Tag, c.LocalID, c.PageID)
			return idmap.Save(mapping, meta, e.mappingPath)
		},
	}
	result, err := mgr.Execute(ctx, createOp)
	if err != nil {
		return err
	}
	mgr.Commit()

	if created, ok := result.([]txn.Created); ok {
		report.TasksAdded = len(created)
	}
	return nil
}

// stageCleanExtra archives marked records whose entity no longer exists
// locally, and drops their mapping entries.
func (e *Engine) stageCleanExtra(ctx context.Context, a *audit, report *Report) error {
	if len(a.extras) == 0 {
		return nil
	}

	mapping := a.mapping
	ids := make([]string, 0, len(a.extras))
	for _, p := range a.extras {
		ids = append(ids, p.ID)
		if tag, localID, ok := ParseMarker(p.Properties.PlainText(PropLocalID)); ok {
			mapping = idmap.Remove(mapping, tag, localID)
		}
	}

	mgr := txn.NewManager(e.logger)
	result, err := mgr.Execute(ctx, &txn.BulkArchive{Client: e.client, PageIDs: ids, Policy: e.policy, Logger: e.logger})
	if err != nil {
		return err
	}
	if _, err := mgr.Execute(ctx, &txn.MappingWrite{Path: e.mappingPath, Mapping: mapping, Meta: a.meta}); err != nil {
		return err
	}
	mgr.Commit()

	if archived, ok := result.([]string); ok {
		report.ExtraRemoved = len(archived)
		for _, id := range archived {
			delete(a.liveByID, id)
		}
	}
	return nil
}

// stageReconcileMappings drops mapping entries that point at dead records
// and adopts mappings for live marked records the map does not know yet.
// This is the one place remote state flows back, and only to discover
// mappings.
func (e *Engine) stageReconcileMappings(ctx context.Context, a *audit, report *Report) error {
	mapping, meta := idmap.Load(e.mappingPath, e.logger)
	removed := 0

	for tag, ids := range mapping {
		for localID, remoteID := range ids {
			if !a.liveByID[remoteID] {
				mapping = idmap.Remove(mapping, tag, localID)
				removed++
			}
		}
	}

	for marker, pages := range a.marked {
		if len(pages) == 0 {
			continue
		}
		tag, localID, ok := ParseMarker(marker)
		if !ok {
			continue
		}
		if _, isLocal := a.byMarker[marker]; !isLocal {
			continue
		}
		keeper := pages[len(pages)-1]
		if !a.liveByID[keeper.ID] {
			continue
		}
		if idmap.Get(mapping, tag, localID) == "" {
			mapping = idmap.Set(mapping, tag, localID, keeper.ID)
		}
	}

	mgr := txn.NewManager(e.logger)
	if _, err := mgr.Execute(ctx, &txn.MappingWrite{Path: e.mappingPath, Mapping: mapping, Meta: meta}); err != nil {
		return err
	}
	mgr.Commit()

	report.MappingsRemoved = removed
	return nil
}

// relationPass recomputes relation payloads for every mapped local entity
// and applies them in batches. Runs after all records exist so parent and
// dependency targets resolve.
func (e *Engine) relationPass(ctx context.Context, a *audit) (int, map[string]error) {
	mapping, _ := idmap.Load(e.mappingPath, e.logger)

	var updates []RelationUpdate
	for _, ent := range a.entities {
		pageID := idmap.Get(mapping, ent.Tag, ent.ID)
		if pageID == "" {
			continue
		}
		props := RelationProperties(ent, a.caps, mapping)
		if len(props) == 0 {
			continue
		}
		updates = append(updates, RelationUpdate{PageID: pageID, Props: props})
	}
	if len(updates) == 0 {
		return 0, nil
	}
	e.logger.Printf("updating relations on %d record(s)", len(updates))
	return ApplyRelationUpdates(ctx, e.client, updates, e.policy, e.logger)
}

// Reset rebuilds the mirror from scratch: archives every marked record,
// clears the identity map, re-creates every local entity, then runs the
// relation pass. The archive+clear and the re-create run as separate
// independently-committed stages, like repair.
func (e *Engine) Reset(ctx context.Context, snapshot types.Snapshot) (*Report, error) {
	e.logger.Printf("stage %s: querying remote database", StageAuditing)
	a, err := e.runAudit(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	report.UnmarkedRecords = a.unmarked

	var ids []string
	for _, pages := range a.marked {
		for _, p := range pages {
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)

	mgr := txn.NewManager(e.logger)
	if len(ids) > 0 {
		result, err := mgr.Execute(ctx, &txn.BulkArchive{Client: e.client, PageIDs: ids, Policy: e.policy, Logger: e.logger})
		if err != nil {
			report.FailedStage = StageCleanExtra
			report.FailedError = err.Error()
			return report, fmt.Errorf("stage %s failed: %w", StageCleanExtra, err)
		}
		if archived, ok := result.([]string); ok {
			report.ExtraFound = len(ids)
			report.ExtraRemoved = len(archived)
		}
	}
	if _, err := mgr.Execute(ctx, &txn.MappingWrite{Path: e.mappingPath, Mapping: idmap.Mapping{}, Meta: a.meta}); err != nil {
		report.FailedStage = StageReconcile
		report.FailedError = err.Error()
		return report, fmt.Errorf("stage %s failed: %w", StageReconcile, err)
	}
	mgr.Commit()

	// Everything is missing now; reuse the sync-missing stage.
	a.mapping, a.meta = idmap.Load(e.mappingPath, e.logger)
	a.missing = a.entities
	a.marked = map[string][]remote.Page{}
	if err := e.stageSyncMissing(ctx, a, report); err != nil {
		report.FailedStage = StageSyncMissing
		report.FailedError = err.Error()
		return report, fmt.Errorf("stage %s failed: %w", StageSyncMissing, err)
	}

	updated, failures := e.relationPass(ctx, a)
	report.RelationsUpdated = updated
	for id, ferr := range failures {
		report.recordErr(id, ferr)
	}
	return report, nil
}

// applyLabel asks the optional labeler for a short label and attaches it.
// Label failures are logged and dropped; a missing label never blocks a
// sync.
func (e *Engine) applyLabel(ctx context.Context, ent Entity, props remote.PropertyMap) {
	if e.labeler == nil {
		return
	}
	label, err := e.labeler.GenerateLabel(ctx, ent.Task.Title, ent.Task.Description)
	if err != nil {
		e.logger.Printf("WARNING: label generation failed for %s/%s: %v", ent.Tag, ent.ID, err)
		return
	}
	if label != "" {
		props["Label"] = remote.Select(label)
	}
}
