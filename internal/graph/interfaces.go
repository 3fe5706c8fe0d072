package graph

import (
	"context"

	"github.com/roach88/txgraph/internal/value"
)

// Record is the persisted element an Element wraps. *store.Record
// implements it.
type Record interface {
	Get(key string) (value.Value, bool)
	Set(key string, v value.Value)
	Remove(key string) (value.Value, bool)
	PropertyNames() []string
	RecordID() (RecordID, bool)
	Kind() Kind
	Endpoints() (out, in RecordID)
	Save(ctx context.Context) error
	Delete(ctx context.Context) error
	Deleted() bool
}

// TxContext is a reentrant transaction scope. *store.TxManager implements
// it.
//
// Begin joins an open transaction instead of starting a second one. Only
// the outermost Commit reaches the database. An inner Rollback returns the
// database to the scope's savepoint, runs the hooks registered inside that
// scope, and makes the outermost Commit fail. AfterRollback hooks run in
// reverse order; AfterCommit hooks run in order once the outermost
// transaction commits.
type TxContext interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	AfterCommit(fn func())
	AfterRollback(fn func())
	Depth() int
}

// Index maintains the (key, value) -> element ids association.
// Remove of an association that is not present must be a no-op.
// *store.Index and *MemoryIndex implement it.
type Index interface {
	Put(ctx context.Context, key string, v value.Value, id RecordID) error
	Remove(ctx context.Context, key string, v value.Value, id RecordID) error
	Lookup(ctx context.Context, key string, v value.Value) ([]RecordID, error)
	RemoveAll(ctx context.Context, id RecordID) error
}
