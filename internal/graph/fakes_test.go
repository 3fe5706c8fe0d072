package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/roach88/txgraph/internal/store"
	"github.com/roach88/txgraph/internal/value"
)

var errInjected = errors.New("injected failure")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTx is a reentrant TxContext with failure injection. It mirrors the
// semantics of store.TxManager, with hook marks standing in for savepoints.
type fakeTx struct {
	depth    int
	poisoned bool
	marks    [][2]int // afterCommit and afterRollback lengths per nested scope

	begins    int
	commits   int // outermost commits that succeeded
	rollbacks int // outermost rollbacks, including failed commits

	failBegin    error
	failCommit   error
	failRollback error

	afterCommit   []func()
	afterRollback []func()
}

func (f *fakeTx) Begin(context.Context) error {
	if f.failBegin != nil {
		return f.failBegin
	}
	f.begins++
	if f.depth > 0 {
		f.marks = append(f.marks, [2]int{len(f.afterCommit), len(f.afterRollback)})
	}
	f.depth++
	return nil
}

func (f *fakeTx) popMark() [2]int {
	m := f.marks[len(f.marks)-1]
	f.marks = f.marks[:len(f.marks)-1]
	return m
}

func (f *fakeTx) Commit(context.Context) error {
	if f.depth == 0 {
		return errors.New("commit without begin")
	}
	f.depth--
	if f.depth > 0 {
		f.popMark()
		return nil
	}
	if f.failCommit != nil || f.poisoned {
		f.undo()
		if f.failCommit != nil {
			return f.failCommit
		}
		return errors.New("rollback-only")
	}
	hooks := f.afterCommit
	f.reset()
	f.commits++
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.depth == 0 {
		return errors.New("rollback without begin")
	}
	f.depth--
	if f.depth > 0 {
		m := f.popMark()
		hooks := slices.Clone(f.afterRollback[m[1]:])
		f.afterCommit = f.afterCommit[:m[0]]
		f.afterRollback = f.afterRollback[:m[1]]
		f.poisoned = true
		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
		return nil
	}
	f.undo()
	return f.failRollback
}

func (f *fakeTx) undo() {
	hooks := f.afterRollback
	f.reset()
	f.rollbacks++
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

func (f *fakeTx) reset() {
	f.poisoned = false
	f.marks = nil
	f.afterCommit = nil
	f.afterRollback = nil
}

func (f *fakeTx) AfterCommit(fn func()) {
	if f.depth == 0 {
		fn()
		return
	}
	f.afterCommit = append(f.afterCommit, fn)
}

func (f *fakeTx) AfterRollback(fn func()) {
	if f.depth == 0 {
		return
	}
	f.afterRollback = append(f.afterRollback, fn)
}

func (f *fakeTx) Depth() int { return f.depth }

// fakeIndex wraps a MemoryIndex with failure injection.
type fakeIndex struct {
	*MemoryIndex

	failPut       error
	failRemove    error
	failRemoveAll error
	calls         int
}

func (f *fakeIndex) Put(ctx context.Context, key string, v value.Value, id RecordID) error {
	f.calls++
	if f.failPut != nil {
		return f.failPut
	}
	return f.MemoryIndex.Put(ctx, key, v, id)
}

func (f *fakeIndex) Remove(ctx context.Context, key string, v value.Value, id RecordID) error {
	f.calls++
	if f.failRemove != nil {
		return f.failRemove
	}
	return f.MemoryIndex.Remove(ctx, key, v, id)
}

func (f *fakeIndex) RemoveAll(ctx context.Context, id RecordID) error {
	f.calls++
	if f.failRemoveAll != nil {
		return f.failRemoveAll
	}
	return f.MemoryIndex.RemoveAll(ctx, id)
}

// fakeDB holds the "persisted" rows fake records save into.
type fakeDB struct {
	tx     *fakeTx
	rows   map[RecordID]value.Object
	nextID RecordID
	writes int
}

// fakeRecord is a Record over fakeDB. Save and Delete register undo hooks
// the same way store.Record does.
type fakeRecord struct {
	db      *fakeDB
	id      RecordID
	kind    Kind
	props   value.Object
	deleted bool

	failSave   error
	failDelete error
}

func (r *fakeRecord) Get(key string) (value.Value, bool) {
	v, ok := r.props[key]
	return v, ok
}

func (r *fakeRecord) Set(key string, v value.Value) { r.props[key] = v }

func (r *fakeRecord) Remove(key string) (value.Value, bool) {
	v, ok := r.props[key]
	delete(r.props, key)
	return v, ok
}

func (r *fakeRecord) PropertyNames() []string {
	names := make([]string, 0, len(r.props))
	for k := range r.props {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func (r *fakeRecord) RecordID() (RecordID, bool) { return r.id, r.id != 0 }
func (r *fakeRecord) Deleted() bool              { return r.deleted }
func (r *fakeRecord) Kind() Kind                 { return r.kind }
func (r *fakeRecord) Endpoints() (RecordID, RecordID) {
	return 0, 0
}

func (r *fakeRecord) Save(context.Context) error {
	if r.failSave != nil {
		return r.failSave
	}
	if r.deleted {
		return store.ErrRecordDeleted
	}
	if r.id == 0 {
		r.db.nextID++
		r.id = r.db.nextID
		r.db.tx.AfterRollback(func() { r.id = 0 })
	}
	id := r.id
	prev, existed := r.db.rows[id]
	r.db.rows[id] = r.props.Clone()
	r.db.writes++
	r.db.tx.AfterRollback(func() {
		if existed {
			r.db.rows[id] = prev
		} else {
			delete(r.db.rows, id)
		}
	})
	return nil
}

func (r *fakeRecord) Delete(context.Context) error {
	if r.failDelete != nil {
		return r.failDelete
	}
	id := r.id
	prev, existed := r.db.rows[id]
	delete(r.db.rows, id)
	r.deleted = true
	r.db.writes++
	r.db.tx.AfterRollback(func() {
		r.deleted = false
		if existed {
			r.db.rows[id] = prev
		}
	})
	return nil
}

// testEnv is a Graph wired to fakes.
type testEnv struct {
	g   *Graph
	tx  *fakeTx
	idx *fakeIndex
	db  *fakeDB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tx := &fakeTx{}
	idx := &fakeIndex{MemoryIndex: NewMemoryIndex(tx)}
	g := &Graph{
		tx:    tx,
		index: idx,
		cache: NewIdentityCache(nil),
		log:   discardLogger(),
	}
	return &testEnv{
		g:   g,
		tx:  tx,
		idx: idx,
		db:  &fakeDB{tx: tx, rows: make(map[RecordID]value.Object)},
	}
}

// vertex creates a transient, cache-registered element over a fake record.
func (env *testEnv) vertex(t *testing.T) (*Element, *fakeRecord) {
	t.Helper()
	rec := &fakeRecord{db: env.db, kind: KindVertex, props: value.Object{}}
	e, err := env.g.wrap(rec)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return e, rec
}

// lookup returns the ids indexed under (key, v).
func (env *testEnv) lookup(t *testing.T, key string, v value.Value) []RecordID {
	t.Helper()
	ids, err := env.idx.Lookup(context.Background(), key, v)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return ids
}
