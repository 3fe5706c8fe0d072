package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

var (
	// ErrNoTransaction is returned by Commit or Rollback without a Begin.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrRollbackOnly is returned by the outermost Commit when a nested
	// scope already rolled back. The transaction has been rolled back.
	ErrRollbackOnly = errors.New("transaction marked rollback-only")
)

// TxOption configures a TxManager.
type TxOption func(*TxManager)

// WithTxIDs sets the generator used to name outermost transactions.
func WithTxIDs(gen IDGenerator) TxOption {
	return func(m *TxManager) {
		m.ids = gen
	}
}

// conn is the subset of *sql.DB and *sql.Tx the store issues statements on.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxManager is a reentrant transaction scope over one *sql.DB.
//
// Nested scopes run inside a SQL savepoint. A nested Rollback returns the
// database to that savepoint and runs only the after-rollback hooks the
// scope registered, so the enclosing scope sees the state it had before
// the nested Begin.
//
// It is meant to be owned by a single session. The mutex guards its own
// fields; it does not serialize independent callers interleaving
// Begin/Commit pairs on the same manager.
type TxManager struct {
	db  *sql.DB
	ids IDGenerator

	mu            sync.Mutex
	tx            *sql.Tx
	id            string
	depth         int
	scopes        []savepoint // one per nested scope, innermost last
	rollbackOnly  bool
	afterCommit   []func()
	afterRollback []func()
}

// savepoint records where a nested scope began.
type savepoint struct {
	name         string
	commitMark   int // len(afterCommit) at Begin
	rollbackMark int // len(afterRollback) at Begin
}

func newTxManager(db *sql.DB, opts ...TxOption) *TxManager {
	m := &TxManager{db: db, ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin opens a transaction, or joins the one already open.
func (m *TxManager) Begin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.depth > 0 {
		sp := savepoint{
			name:         fmt.Sprintf("txgraph_sp_%d", m.depth),
			commitMark:   len(m.afterCommit),
			rollbackMark: len(m.afterRollback),
		}
		if _, err := m.tx.ExecContext(ctx, "SAVEPOINT "+sp.name); err != nil {
			return fmt.Errorf("begin nested tx: %w", err)
		}
		m.scopes = append(m.scopes, sp)
		m.depth++
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	m.tx = tx
	m.id = m.ids.Generate()
	m.depth = 1
	slog.Debug("transaction begun", "tx", m.id)
	return nil
}

// Commit ends one scope. A nested scope releases its savepoint and its
// hooks join the enclosing scope. Only the outermost scope commits to the
// database; after-commit hooks run once that commit succeeds. If the commit
// fails the after-rollback hooks run instead.
func (m *TxManager) Commit(ctx context.Context) error {
	m.mu.Lock()
	if m.depth == 0 {
		m.mu.Unlock()
		return ErrNoTransaction
	}
	m.depth--
	if m.depth > 0 {
		defer m.mu.Unlock()
		sp := m.popScope()
		if _, err := m.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.name); err != nil {
			m.rollbackOnly = true
			return fmt.Errorf("release savepoint %s: %w", sp.name, err)
		}
		return nil
	}

	tx, id := m.tx, m.id
	commitHooks, rollbackHooks := m.afterCommit, m.afterRollback
	poisoned := m.rollbackOnly
	m.reset()
	m.mu.Unlock()

	if poisoned {
		rbErr := tx.Rollback()
		runReverse(rollbackHooks)
		slog.Debug("transaction rolled back at commit", "tx", id)
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(ErrRollbackOnly, fmt.Errorf("rollback: %w", rbErr))
		}
		return ErrRollbackOnly
	}

	if err := tx.Commit(); err != nil {
		runReverse(rollbackHooks)
		slog.Warn("transaction commit failed", "tx", id, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	for _, fn := range commitHooks {
		fn()
	}
	slog.Debug("transaction committed", "tx", id)
	return nil
}

// Rollback ends one scope. A nested rollback returns to the scope's
// savepoint, discards the hooks the scope registered after running its
// after-rollback hooks in reverse, and marks the transaction
// rollback-only. The outermost rollback aborts the transaction and runs
// every remaining after-rollback hook in reverse registration order.
func (m *TxManager) Rollback(ctx context.Context) error {
	m.mu.Lock()
	if m.depth == 0 {
		m.mu.Unlock()
		return ErrNoTransaction
	}
	m.depth--
	if m.depth > 0 {
		sp := m.popScope()
		hooks := slices.Clone(m.afterRollback[sp.rollbackMark:])
		m.afterRollback = m.afterRollback[:sp.rollbackMark]
		m.afterCommit = m.afterCommit[:sp.commitMark]
		m.rollbackOnly = true
		tx, id := m.tx, m.id
		m.mu.Unlock()

		_, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp.name)
		if err == nil {
			_, err = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.name)
		}
		runReverse(hooks)
		slog.Debug("nested scope rolled back", "tx", id, "savepoint", sp.name)
		if err != nil {
			return fmt.Errorf("rollback to savepoint %s: %w", sp.name, err)
		}
		return nil
	}

	tx, id := m.tx, m.id
	rollbackHooks := m.afterRollback
	m.reset()
	m.mu.Unlock()

	err := tx.Rollback()
	runReverse(rollbackHooks)
	slog.Debug("transaction rolled back", "tx", id)
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

// AfterCommit registers fn to run once the outermost transaction commits.
// Outside a transaction fn runs immediately.
func (m *TxManager) AfterCommit(fn func()) {
	m.mu.Lock()
	if m.depth == 0 {
		m.mu.Unlock()
		fn()
		return
	}
	m.afterCommit = append(m.afterCommit, fn)
	m.mu.Unlock()
}

// AfterRollback registers fn to run if the outermost transaction rolls
// back. Outside a transaction there is nothing to undo and fn is dropped.
func (m *TxManager) AfterRollback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 {
		return
	}
	m.afterRollback = append(m.afterRollback, fn)
}

// Depth returns the current nesting depth; zero means no transaction.
func (m *TxManager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth
}

// ID returns the id of the open transaction, or "" when none is open.
func (m *TxManager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// conn returns the open transaction or the database.
func (m *TxManager) conn() conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tx != nil {
		return m.tx
	}
	return m.db
}

// popScope removes the innermost savepoint. Caller holds mu.
func (m *TxManager) popScope() savepoint {
	sp := m.scopes[len(m.scopes)-1]
	m.scopes = m.scopes[:len(m.scopes)-1]
	return sp
}

// reset clears per-transaction state. Caller holds mu.
func (m *TxManager) reset() {
	m.tx = nil
	m.id = ""
	m.depth = 0
	m.scopes = nil
	m.rollbackOnly = false
	m.afterCommit = nil
	m.afterRollback = nil
}

func runReverse(hooks []func()) {
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}
