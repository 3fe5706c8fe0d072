package graph

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/txgraph/internal/store"
	"github.com/roach88/txgraph/internal/value"
)

type indexKey struct {
	key  string
	hash string
}

// MemoryIndex is an in-process Index. Each mutation registers an undo hook
// on the transaction, so a rollback restores the previous associations.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryIndex struct {
	tx TxContext

	mu      sync.RWMutex
	entries map[indexKey]map[RecordID]struct{}
	byID    map[RecordID]map[indexKey]value.Value
}

// NewMemoryIndex creates an empty index whose undo hooks go to tx.
func NewMemoryIndex(tx TxContext) *MemoryIndex {
	return &MemoryIndex{
		tx:      tx,
		entries: make(map[indexKey]map[RecordID]struct{}),
		byID:    make(map[RecordID]map[indexKey]value.Value),
	}
}

// Put associates (key, v) with id.
func (ix *MemoryIndex) Put(_ context.Context, key string, v value.Value, id RecordID) error {
	k, err := makeIndexKey(key, v)
	if err != nil {
		return fmt.Errorf("index put %q: %w", key, err)
	}
	if ix.put(k, v, id) {
		ix.tx.AfterRollback(func() { ix.remove(k, id) })
	}
	return nil
}

// Remove drops the (key, v) -> id association. Missing associations are a
// no-op.
func (ix *MemoryIndex) Remove(_ context.Context, key string, v value.Value, id RecordID) error {
	k, err := makeIndexKey(key, v)
	if err != nil {
		return fmt.Errorf("index remove %q: %w", key, err)
	}
	if old, ok := ix.remove(k, id); ok {
		ix.tx.AfterRollback(func() { ix.put(k, old, id) })
	}
	return nil
}

// RemoveAll drops every association of id.
func (ix *MemoryIndex) RemoveAll(_ context.Context, id RecordID) error {
	ix.mu.Lock()
	owned := ix.byID[id]
	delete(ix.byID, id)
	for k := range owned {
		ix.dropLocked(k, id)
	}
	ix.mu.Unlock()

	if len(owned) > 0 {
		ix.tx.AfterRollback(func() {
			for k, v := range owned {
				ix.put(k, v, id)
			}
		})
	}
	return nil
}

// Lookup returns the ids associated with (key, v) in ascending order.
func (ix *MemoryIndex) Lookup(_ context.Context, key string, v value.Value) ([]RecordID, error) {
	k, err := makeIndexKey(key, v)
	if err != nil {
		return nil, fmt.Errorf("index lookup %q: %w", key, err)
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	set := ix.entries[k]
	ids := make([]RecordID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Len returns the number of associations.
func (ix *MemoryIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, set := range ix.entries {
		n += len(set)
	}
	return n
}

// Entries returns every association ordered by key, value hash and id,
// the same order the index_entries table yields.
func (ix *MemoryIndex) Entries(_ context.Context) ([]store.IndexEntry, error) {
	ix.mu.RLock()
	type row struct {
		hash  string
		entry store.IndexEntry
	}
	var rows []row
	for id, keys := range ix.byID {
		for k, v := range keys {
			rows = append(rows, row{hash: k.hash, entry: store.IndexEntry{Key: k.key, Value: v, ElementID: id}})
		}
	}
	ix.mu.RUnlock()

	slices.SortFunc(rows, func(a, b row) int {
		return cmp.Or(
			cmp.Compare(a.entry.Key, b.entry.Key),
			cmp.Compare(a.hash, b.hash),
			cmp.Compare(a.entry.ElementID, b.entry.ElementID),
		)
	})
	out := make([]store.IndexEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry
	}
	return out, nil
}

// Rebuild replaces the contents with one association per property of every
// record scan yields. Reserved keys are indexed like any other key.
func (ix *MemoryIndex) Rebuild(ctx context.Context, scan func(ctx context.Context, fn func(Record) error) error) error {
	entries := make(map[indexKey]map[RecordID]struct{})
	byID := make(map[RecordID]map[indexKey]value.Value)

	err := scan(ctx, func(r Record) error {
		id, ok := r.RecordID()
		if !ok {
			return nil
		}
		for _, name := range r.PropertyNames() {
			v, _ := r.Get(name)
			k, err := makeIndexKey(name, v)
			if err != nil {
				return fmt.Errorf("record %d key %q: %w", id, name, err)
			}
			if entries[k] == nil {
				entries[k] = make(map[RecordID]struct{})
			}
			entries[k][id] = struct{}{}
			if byID[id] == nil {
				byID[id] = make(map[indexKey]value.Value)
			}
			byID[id][k] = v
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.byID = byID
	ix.mu.Unlock()
	return nil
}

// put adds the association and reports whether it was new.
func (ix *MemoryIndex) put(k indexKey, v value.Value, id RecordID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	set := ix.entries[k]
	if set == nil {
		set = make(map[RecordID]struct{})
		ix.entries[k] = set
	}
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	if ix.byID[id] == nil {
		ix.byID[id] = make(map[indexKey]value.Value)
	}
	ix.byID[id][k] = v
	return true
}

// remove drops the association and returns the value it held.
func (ix *MemoryIndex) remove(k indexKey, id RecordID) (value.Value, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	v, ok := ix.byID[id][k]
	if !ok {
		return nil, false
	}
	delete(ix.byID[id], k)
	if len(ix.byID[id]) == 0 {
		delete(ix.byID, id)
	}
	ix.dropLocked(k, id)
	return v, true
}

// dropLocked removes id from the entry set. Caller holds mu.
func (ix *MemoryIndex) dropLocked(k indexKey, id RecordID) {
	set := ix.entries[k]
	delete(set, id)
	if len(set) == 0 {
		delete(ix.entries, k)
	}
}

func makeIndexKey(key string, v value.Value) (indexKey, error) {
	hash, err := value.Hash(v)
	if err != nil {
		return indexKey{}, err
	}
	return indexKey{key: key, hash: hash}, nil
}
