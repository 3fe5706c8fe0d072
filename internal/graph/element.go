package graph

import (
	"context"
	"hash/maphash"
	"slices"

	"github.com/roach88/txgraph/internal/value"
)

// LabelKey is the reserved property holding an edge's label. It is stored
// and indexed but never listed by PropertyKeys.
const LabelKey = "label"

var hashSeed = maphash.MakeSeed()

// Element is the live wrapper around one record. Every mutating operation
// runs in its own transaction scope and keeps the record, the index and the
// identity cache in step.
//
// Obtain Elements from a Graph; exactly one Element exists per identity.
type Element struct {
	g         *Graph
	rec       Record
	transient Identity
}

// Identity returns Persisted(id) once the record has been saved, and the
// element's transient identity before that.
func (e *Element) Identity() Identity {
	if id, ok := e.rec.RecordID(); ok {
		return Persisted(id)
	}
	return e.transient
}

// Kind reports whether the element is a vertex or an edge.
func (e *Element) Kind() Kind {
	return e.rec.Kind()
}

// Label returns an edge's label, or "" for vertices.
func (e *Element) Label() string {
	v, ok := e.rec.Get(LabelKey)
	if !ok {
		return ""
	}
	s, _ := v.(value.String)
	return string(s)
}

// OutID returns the id of an edge's tail vertex.
func (e *Element) OutID() RecordID {
	out, _ := e.rec.Endpoints()
	return out
}

// InID returns the id of an edge's head vertex.
func (e *Element) InID() RecordID {
	_, in := e.rec.Endpoints()
	return in
}

// Property returns a copy of the value stored under key.
func (e *Element) Property(key string) (value.Value, bool) {
	v, ok := e.rec.Get(key)
	if !ok {
		return nil, false
	}
	return value.Clone(v), true
}

// PropertyKeys returns the sorted property keys, without LabelKey.
func (e *Element) PropertyKeys() []string {
	return slices.DeleteFunc(e.rec.PropertyNames(), func(k string) bool {
		return k == LabelKey
	})
}

// Properties returns every property except LabelKey.
func (e *Element) Properties() value.Object {
	out := value.Object{}
	for _, k := range e.PropertyKeys() {
		v, _ := e.rec.Get(k)
		out[k] = value.Clone(v)
	}
	return out
}

// SetProperty stores v under key, saves the record and moves the index
// entry for key from the old value to v. On failure the property map,
// record and index are left as they were.
func (e *Element) SetProperty(ctx context.Context, key string, v value.Value) error {
	const op = "set_property"
	id := e.Identity()
	if err := checkKey(op, id, key); err != nil {
		return err
	}
	if v == nil {
		return newError(ErrCodeInvalid, op, id, ErrNilValue)
	}
	if err := e.checkLive(op, id); err != nil {
		return err
	}

	v = value.Clone(v)
	old, hadOld := e.rec.Get(key)
	restore := func() {
		if hadOld {
			e.rec.Set(key, old)
		} else {
			e.rec.Remove(key)
		}
	}

	err := e.g.withTx(ctx, op, id, func() error {
		e.rec.Set(key, v)
		e.g.tx.AfterRollback(restore)

		if err := e.persist(ctx); err != nil {
			return err
		}
		rid, _ := e.rec.RecordID()
		if hadOld {
			if err := e.g.index.Remove(ctx, key, old, rid); err != nil {
				return err
			}
		}
		return e.g.index.Put(ctx, key, v, rid)
	})
	if err != nil {
		restore()
		return err
	}
	e.g.log.Debug("property set", "identity", e.Identity().String(), "key", key)
	return nil
}

// RemoveProperty deletes key and its index entry and returns the previous
// value. Removing an absent key returns false and touches nothing.
func (e *Element) RemoveProperty(ctx context.Context, key string) (value.Value, bool, error) {
	const op = "remove_property"
	id := e.Identity()
	if err := checkKey(op, id, key); err != nil {
		return nil, false, err
	}
	if err := e.checkLive(op, id); err != nil {
		return nil, false, err
	}

	old, ok := e.rec.Get(key)
	if !ok {
		return nil, false, nil
	}
	restore := func() { e.rec.Set(key, old) }

	err := e.g.withTx(ctx, op, id, func() error {
		e.rec.Remove(key)
		e.g.tx.AfterRollback(restore)

		if err := e.persist(ctx); err != nil {
			return err
		}
		rid, _ := e.rec.RecordID()
		return e.g.index.Remove(ctx, key, old, rid)
	})
	if err != nil {
		restore()
		return nil, false, err
	}
	e.g.log.Debug("property removed", "identity", e.Identity().String(), "key", key)
	return value.Clone(old), true, nil
}

// ID returns the element's persisted identity, saving the record first if
// it is still transient. Repeated calls return the same identity.
func (e *Element) ID(ctx context.Context) (Identity, error) {
	if id := e.Identity(); !id.IsTransient() {
		return id, nil
	}
	if err := e.Save(ctx); err != nil {
		return Identity{}, err
	}
	return e.Identity(), nil
}

// Save writes the record in its own transaction scope.
func (e *Element) Save(ctx context.Context) error {
	if err := e.checkLive("save", e.Identity()); err != nil {
		return err
	}
	return e.g.withTx(ctx, "save", e.Identity(), func() error {
		return e.persist(ctx)
	})
}

// Delete removes the record and all of its index entries. The element
// leaves the identity cache only once the deletion commits.
func (e *Element) Delete(ctx context.Context) error {
	const op = "delete"
	id := e.Identity()
	if err := e.checkLive(op, id); err != nil {
		return err
	}

	err := e.g.withTx(ctx, op, id, func() error {
		if rid, ok := id.RecordID(); ok {
			if err := e.g.index.RemoveAll(ctx, rid); err != nil {
				return err
			}
		}
		if err := e.rec.Delete(ctx); err != nil {
			return err
		}
		e.g.tx.AfterCommit(func() {
			e.g.cache.Remove(id)
			e.g.log.Debug("element deleted", "identity", id.String())
		})
		return nil
	})
	return err
}

// Equal reports whether e and other name the same persisted record. A
// transient element is equal only to itself.
func (e *Element) Equal(other *Element) bool {
	if e == other {
		return true
	}
	if e == nil || other == nil {
		return false
	}
	a, b := e.Identity(), other.Identity()
	if a.IsTransient() || b.IsTransient() {
		return false
	}
	return a == b
}

// Hash is derived from the identity, so it changes when a transient
// element is first saved. Equal elements hash identically.
func (e *Element) Hash() uint64 {
	return maphash.Comparable(hashSeed, e.Identity())
}

// String renders the identity.
func (e *Element) String() string {
	return string(e.Kind()) + e.Identity().String()
}

// persist saves the record inside the open transaction. A first save moves
// the cache entry from the transient to the persisted identity, and moves
// it back if the transaction rolls back.
func (e *Element) persist(ctx context.Context) error {
	before := e.Identity()
	if err := e.rec.Save(ctx); err != nil {
		return err
	}
	if !before.IsTransient() {
		return nil
	}
	after := e.Identity()
	if err := e.g.cache.Rekey(before, after); err != nil {
		return err
	}
	e.g.tx.AfterRollback(func() {
		if err := e.g.cache.Rekey(after, before); err != nil {
			e.g.log.Warn("cache rekey undo failed", "identity", after.String(), "error", err)
		}
	})
	return nil
}

// Deleted reports whether the element's deletion took effect. It stays
// false once a deleting transaction rolls back.
func (e *Element) Deleted() bool {
	return e.rec.Deleted()
}

// checkLive rejects writes to an element whose record was deleted.
func (e *Element) checkLive(op string, id Identity) error {
	if e.rec.Deleted() {
		return newError(ErrCodeNotFound, op, id, ErrElementDeleted)
	}
	return nil
}

func checkKey(op string, id Identity, key string) error {
	switch key {
	case "":
		return newError(ErrCodeInvalid, op, id, ErrInvalidKey)
	case LabelKey:
		return newError(ErrCodeInvalid, op, id, ErrReservedKey)
	}
	return nil
}
