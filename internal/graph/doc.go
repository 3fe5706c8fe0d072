// Package graph coordinates element records, the secondary index and the
// identity cache under one transaction per mutating operation.
//
// An Element wraps one store record. SetProperty, RemoveProperty, Save and
// Delete each run inside a transaction scope (withTx). The scope joins a
// transaction the caller already opened with Graph.Update, so a sequence of
// element operations can commit as one unit.
//
// CONSISTENCY:
//
// On any failure the record, its index entries and its cache entry are left
// as they were before the call:
//   - the database rolls back the row and index writes
//   - the in-memory property map is restored by the element
//   - an identity assigned by a rolled-back first save reverts to transient
//   - cache deregistration on delete waits for the commit
//
// IDENTITY:
//
// Elements start Transient with a process-unique token, and become
// Persisted(id) on their first save. The IdentityCache holds at most one
// Element per Identity. Two Elements are Equal when they name the same
// persisted record.
//
// Thread-safety: the IdentityCache and MemoryIndex are safe for concurrent
// use. A Graph's transaction scope belongs to one session; callers sharing
// a Graph across goroutines must serialize mutations themselves.
package graph
