package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/roach88/txgraph/internal/store"
)

// RecordID is the permanent id the store assigns on first save.
type RecordID = store.RecordID

// Kind distinguishes vertices from edges.
type Kind = store.Kind

const (
	KindVertex = store.KindVertex
	KindEdge   = store.KindEdge
)

// Identity names an element. It is either Transient, carrying a
// process-unique token, or Persisted, carrying the store's RecordID.
//
// Identity is comparable and usable as a map key. The zero value is not a
// valid identity.
type Identity struct {
	id    RecordID
	token int64
}

// Persisted returns the identity of a saved record.
func Persisted(id RecordID) Identity {
	return Identity{id: id}
}

// Transient returns the identity of an unsaved element. Tokens come from
// NewTransient; callers only build them directly in tests.
func Transient(token int64) Identity {
	return Identity{token: token}
}

var transientSeq atomic.Int64

// NewTransient allocates a fresh transient identity. Tokens are negative so
// they can never be mistaken for record ids.
func NewTransient() Identity {
	return Transient(-transientSeq.Add(1))
}

// IsTransient reports whether the element has not been saved yet.
func (i Identity) IsTransient() bool {
	return i.id == 0
}

// RecordID returns the record id and true for persisted identities.
func (i Identity) RecordID() (RecordID, bool) {
	return i.id, i.id != 0
}

// IsZero reports whether i is the zero Identity.
func (i Identity) IsZero() bool {
	return i.id == 0 && i.token == 0
}

// String renders "#<id>" for persisted and "#t<token>" for transient
// identities.
func (i Identity) String() string {
	if i.id != 0 {
		return fmt.Sprintf("#%d", i.id)
	}
	if i.token == 0 {
		return "#invalid"
	}
	return fmt.Sprintf("#t%d", -i.token)
}
