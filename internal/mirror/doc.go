// Package mirror implements the synchronization and reconciliation engine
// between the local task store and its remote page-database mirror.
//
// # Overview
//
// The local store is the source of truth. The remote store is a
// presentation mirror: one page per task or subtask, with typed properties
// and relation links for parent/child and dependency structure. This
// package turns local snapshots into remote mutations and repairs drift.
//
// # Architecture
//
//	Local snapshots (tag → tasks)
//	      ↓ Flatten / FlattenToMap
//	Flattened entities (compound ids for subtasks)
//	      ↓ Diff (added / deleted / updated / moved)
//	Change records
//	      ↓ Engine (apply or repair workflows)
//	txn operations → remote.Client (with retry) → identity map persisted
//
// # Failure model
//
// The engine commits in two tiers. Coarse repair stages (deduplicate,
// sync-missing, clean-extra, reconcile-mappings) commit independently: a
// failing stage aborts the stages after it but never unwinds the stages
// before it. Fine-grained operations inside one stage run under a txn
// Manager and roll back together. The workflow as a whole is never one
// atomic transaction: remote batch operations are not themselves
// transactional, and undoing a fully-applied stage would mean re-deleting
// records that were correctly created.
//
// # Known limitations
//
// Move detection matches on content equality and is probabilistic: a task
// re-created with identical title, description, details and status is
// classified as a move of the deleted one. The identity map file is
// read-modify-write with no locking; the engine assumes single-process,
// sequential CLI invocation.
package mirror
