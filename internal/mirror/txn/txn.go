// Package txn provides the transactional operation framework for remote
// mutations.
//
// An Operation is an execute/rollback pair. Operations compose into
// Composites and run under a Manager, which rolls back everything already
// executed - the failing operation's partial work first, then prior
// operations in reverse order - the moment any operation fails, then
// re-raises the triggering error.
//
// Rollback here is compensation, not isolation: remote batch operations are
// not transactional, so an operation undoes its own observable effects as
// best it can (un-archiving what it archived, archiving what it created,
// restoring file bytes it overwrote). Partial rollback failures are
// reported, never thrown.
package txn

import (
	"context"
	"fmt"
	"log"
	"os"
)

// Operation is one undoable unit of work.
type Operation interface {
	// Name identifies the operation in logs and error messages.
	Name() string

	// Execute performs the work and returns a result token that Rollback
	// needs to undo it (e.g. the list of ids actually archived).
	Execute(ctx context.Context) (any, error)

	// Rollback undoes a successful Execute given its result token.
	Rollback(ctx context.Context, result any) error
}

// Base provides a no-op Rollback for operations with nothing to undo.
// Embed it and override what matters.
type Base struct {
	OpName string
}

// Name implements Operation.
func (b Base) Name() string { return b.OpName }

// Rollback implements Operation with a no-op.
func (b Base) Rollback(ctx context.Context, result any) error { return nil }

// executed pairs an operation with its execute result for later rollback.
type executed struct {
	op     Operation
	result any
}

// Manager runs operations one at a time and tracks them for rollback.
//
// Not safe for concurrent use; one Manager serves one workflow invocation
// and is discarded after Commit or rollback.
type Manager struct {
	logger     *log.Logger
	done       []executed
	rollingBak bool
}

// NewManager creates a transaction manager. A nil logger defaults to stderr.
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[txn] ", log.LstdFlags)
	}
	return &Manager{logger: logger}
}

// Execute runs op. On failure it first rolls back the failing operation's
// own partial result (bulk operations return the work done so far alongside
// the error), then every operation already executed in this transaction, in
// reverse order, then returns the triggering error unchanged inside the
// wrap.
func (m *Manager) Execute(ctx context.Context, op Operation) (any, error) {
	result, err := op.Execute(ctx)
	if err != nil {
		m.logger.Printf("operation %s failed, rolling back %d prior operation(s): %v",
			op.Name(), len(m.done), err)
		if rbErr := op.Rollback(ctx, result); rbErr != nil {
			m.logger.Printf("WARNING: rollback of partial %s failed: %v", op.Name(), rbErr)
		}
		m.rollbackAll(ctx)
		return nil, fmt.Errorf("operation %s failed: %w", op.Name(), err)
	}
	m.done = append(m.done, executed{op: op, result: result})
	return result, nil
}

// Commit discards the rollback history. The transaction is over; nothing
// executed so far can be undone through this Manager anymore.
func (m *Manager) Commit() {
	m.done = nil
}

// rollbackAll undoes executed operations in reverse order. A rollback
// already in progress refuses to start another: if a rollback step itself
// fails and something tries to roll back again, we must not recurse.
func (m *Manager) rollbackAll(ctx context.Context) {
	if m.rollingBak {
		m.logger.Printf("rollback already in progress, skipping nested rollback")
		return
	}
	m.rollingBak = true
	defer func() { m.rollingBak = false }()

	for i := len(m.done) - 1; i >= 0; i-- {
		e := m.done[i]
		if err := e.op.Rollback(ctx, e.result); err != nil {
			m.logger.Printf("WARNING: rollback of %s failed: %v", e.op.Name(), err)
		}
	}
	m.done = nil
}

// Composite runs a sequence of operations as one Operation. On any member's
// failure it rolls back the members already executed, in reverse order, and
// re-raises the triggering error. Rolling back a committed Composite rolls
// back every member in reverse order.
type Composite struct {
	OpName string
	Ops    []Operation
	logger *log.Logger
}

// NewComposite builds a composite operation. A nil logger defaults to stderr.
func NewComposite(name string, logger *log.Logger, ops ...Operation) *Composite {
	if logger == nil {
		logger = log.New(os.Stderr, "[txn] ", log.LstdFlags)
	}
	return &Composite{OpName: name, Ops: ops, logger: logger}
}

// Name implements Operation.
func (c *Composite) Name() string { return c.OpName }

// Execute implements Operation. A failing member's partial result is
// rolled back first, then the members already executed, in reverse order.
func (c *Composite) Execute(ctx context.Context) (any, error) {
	var done []executed
	for _, op := range c.Ops {
		result, err := op.Execute(ctx)
		if err != nil {
			if rbErr := op.Rollback(ctx, result); rbErr != nil {
				c.logger.Printf("WARNING: rollback of partial %s failed: %v", op.Name(), rbErr)
			}
			for i := len(done) - 1; i >= 0; i-- {
				e := done[i]
				if rbErr := e.op.Rollback(ctx, e.result); rbErr != nil {
					c.logger.Printf("WARNING: rollback of %s failed: %v", e.op.Name(), rbErr)
				}
			}
			return nil, fmt.Errorf("composite %s: operation %s failed: %w", c.OpName, op.Name(), err)
		}
		done = append(done, executed{op: op, result: result})
	}
	return done, nil
}

// Rollback implements Operation.
func (c *Composite) Rollback(ctx context.Context, result any) error {
	done, ok := result.([]executed)
	if !ok {
		return nil
	}
	var firstErr error
	for i := len(done) - 1; i >= 0; i-- {
		e := done[i]
		if err := e.op.Rollback(ctx, e.result); err != nil {
			c.logger.Printf("WARNING: rollback of %s failed: %v", e.op.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
