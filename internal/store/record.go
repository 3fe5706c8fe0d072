package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/txgraph/internal/value"
)

// RecordID is the permanent id the database assigns on first save.
// Zero means the record has never been saved.
type RecordID int64

// Kind distinguishes vertices from edges.
type Kind string

const (
	KindVertex Kind = "vertex"
	KindEdge   Kind = "edge"
)

// Record is the in-memory projection of one row of the elements table.
//
// Property changes stay in memory until Save. Save and Delete write
// through the store's open transaction, and register undo hooks so that a
// rollback leaves the record's id and deleted flag as they were.
type Record struct {
	st *Store

	mu      sync.RWMutex
	id      RecordID
	kind    Kind
	outID   RecordID
	inID    RecordID
	props   value.Object
	version int64
	deleted bool
}

// NewVertex returns an unsaved vertex record.
func (s *Store) NewVertex() *Record {
	return &Record{st: s, kind: KindVertex, props: value.Object{}}
}

// NewEdge returns an unsaved edge record between two saved vertices.
func (s *Store) NewEdge(out, in RecordID) *Record {
	return &Record{st: s, kind: KindEdge, outID: out, inID: in, props: value.Object{}}
}

// RecordID returns the permanent id and true, or zero and false while the
// record is transient.
func (r *Record) RecordID() (RecordID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id, r.id != 0
}

// Kind returns the element kind.
func (r *Record) Kind() Kind {
	return r.kind
}

// Endpoints returns the out and in vertex ids of an edge. Both are zero
// for vertices.
func (r *Record) Endpoints() (out, in RecordID) {
	return r.outID, r.inID
}

// Version returns the number of saves applied to the row.
func (r *Record) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Get returns the property stored under key.
func (r *Record) Get(key string) (value.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.props[key]
	return v, ok
}

// Set stores v under key in memory.
func (r *Record) Set(key string, v value.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.props[key] = v
}

// Remove deletes key in memory and returns the previous value.
func (r *Record) Remove(key string) (value.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.props[key]
	if ok {
		delete(r.props, key)
	}
	return old, ok
}

// PropertyNames returns every stored key in sorted order, including
// reserved ones.
func (r *Record) PropertyNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.props))
	for k := range r.props {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// Properties returns a deep copy of the property map.
func (r *Record) Properties() value.Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.props.Clone()
}

// Save writes the property map. The first save inserts the row and assigns
// the record its id; if the surrounding transaction rolls back the record
// becomes transient again.
func (r *Record) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return ErrRecordDeleted
	}
	data, err := value.MarshalCanonical(r.props)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}

	if r.id == 0 {
		var id int64
		err := r.st.queryRow(ctx,
			`INSERT INTO elements (kind, out_id, in_id, properties, version)
			VALUES (?, ?, ?, ?, 1)
			RETURNING id`,
			string(r.kind), nullableID(r.outID), nullableID(r.inID), string(data),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("save record: insert: %w", err)
		}
		r.id = RecordID(id)
		r.version = 1
		r.st.tx.AfterRollback(func() {
			r.mu.Lock()
			r.id = 0
			r.version = 0
			r.mu.Unlock()
		})
		return nil
	}

	res, err := r.st.exec(ctx,
		`UPDATE elements SET properties = ?, version = version + 1 WHERE id = ?`,
		string(data), int64(r.id),
	)
	if err != nil {
		return fmt.Errorf("save record %d: %w", r.id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save record %d: %w", r.id, ErrNotFound)
	}
	prev := r.version
	r.version++
	r.st.tx.AfterRollback(func() {
		r.mu.Lock()
		r.version = prev
		r.mu.Unlock()
	})
	return nil
}

// Delete removes the row. Deleting a transient record only marks it
// deleted. The record cannot be saved again afterwards.
func (r *Record) Delete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return ErrRecordDeleted
	}
	if r.id != 0 {
		res, err := r.st.exec(ctx, `DELETE FROM elements WHERE id = ?`, int64(r.id))
		if err != nil {
			return fmt.Errorf("delete record %d: %w", r.id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("delete record %d: %w", r.id, ErrNotFound)
		}
	}
	r.deleted = true
	r.st.tx.AfterRollback(func() {
		r.mu.Lock()
		r.deleted = false
		r.mu.Unlock()
	})
	return nil
}

// Deleted reports whether Delete succeeded on this record.
func (r *Record) Deleted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deleted
}

// Load reads the record with the given id.
func (s *Store) Load(ctx context.Context, id RecordID) (*Record, error) {
	row := s.queryRow(ctx,
		`SELECT id, kind, out_id, in_id, properties, version FROM elements WHERE id = ?`,
		int64(id),
	)
	rec, err := s.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load record %d: %w", id, err)
	}
	return rec, nil
}

// Scan calls fn for every record in id order. Iteration stops at the first
// error fn returns.
func (s *Store) Scan(ctx context.Context, fn func(*Record) error) error {
	rows, err := s.query(ctx,
		`SELECT id, kind, out_id, in_id, properties, version FROM elements ORDER BY id ASC`,
	)
	if err != nil {
		return fmt.Errorf("scan records: %w", err)
	}
	var recs []*Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan records: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("scan records: %w", err)
	}
	// Close before calling back: with one SQLite connection fn could not
	// issue statements while rows are open.
	rows.Close()

	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of element rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM elements`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Restore writes a record with a caller-chosen id, replacing any row with
// that id. Used when importing snapshots.
func (s *Store) Restore(ctx context.Context, id RecordID, kind Kind, out, in RecordID, props value.Object) (*Record, error) {
	if id <= 0 {
		return nil, fmt.Errorf("restore record: invalid id %d", id)
	}
	if props == nil {
		props = value.Object{}
	}
	data, err := value.MarshalCanonical(props)
	if err != nil {
		return nil, fmt.Errorf("restore record %d: %w", id, err)
	}
	if _, err := s.exec(ctx, `DELETE FROM elements WHERE id = ?`, int64(id)); err != nil {
		return nil, fmt.Errorf("restore record %d: %w", id, err)
	}
	if _, err := s.exec(ctx,
		`INSERT INTO elements (id, kind, out_id, in_id, properties, version) VALUES (?, ?, ?, ?, ?, 1)`,
		int64(id), string(kind), nullableID(out), nullableID(in), string(data),
	); err != nil {
		return nil, fmt.Errorf("restore record %d: %w", id, err)
	}
	if s.driver == DriverPostgres {
		// keep BIGSERIAL ahead of explicitly inserted ids
		if _, err := s.exec(ctx,
			`SELECT setval(pg_get_serial_sequence('elements', 'id'), (SELECT MAX(id) FROM elements))`,
		); err != nil {
			return nil, fmt.Errorf("restore record %d: sequence: %w", id, err)
		}
	}
	return &Record{st: s, id: id, kind: kind, outID: out, inID: in, props: props.Clone(), version: 1}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRecord(row rowScanner) (*Record, error) {
	var (
		id, version int64
		kind, props string
		out, in     sql.NullInt64
	)
	if err := row.Scan(&id, &kind, &out, &in, &props, &version); err != nil {
		return nil, err
	}
	obj, err := unmarshalProperties(props)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", id, err)
	}
	return &Record{
		st:      s,
		id:      RecordID(id),
		kind:    Kind(kind),
		outID:   RecordID(out.Int64),
		inID:    RecordID(in.Int64),
		props:   obj,
		version: version,
	}, nil
}

func nullableID(id RecordID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(id), Valid: id != 0}
}
