package store

import (
	"context"
	"fmt"

	"github.com/roach88/txgraph/internal/value"
)

// Index is the persisted (key, value) -> elements association. Writes go
// through the store's open transaction and commit or roll back with the
// element rows they describe.
type Index struct {
	st *Store
}

// Index returns the store's persisted index.
func (s *Store) Index() *Index {
	return &Index{st: s}
}

// IndexEntry is one association row.
type IndexEntry struct {
	Key       string
	Value     value.Value
	ElementID RecordID
}

// Put associates (key, v) with id. Existing associations are left as is.
func (ix *Index) Put(ctx context.Context, key string, v value.Value, id RecordID) error {
	hash, err := value.Hash(v)
	if err != nil {
		return fmt.Errorf("index put %q: %w", key, err)
	}
	enc, err := marshalValue(v)
	if err != nil {
		return fmt.Errorf("index put %q: %w", key, err)
	}
	_, err = ix.st.exec(ctx, `
		INSERT INTO index_entries (prop_key, value_hash, value, element_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (prop_key, value_hash, element_id) DO NOTHING
	`, key, hash, enc, int64(id))
	if err != nil {
		return fmt.Errorf("index put %q: %w", key, err)
	}
	return nil
}

// Remove drops the (key, v) -> id association. Removing an association
// that does not exist is not an error.
func (ix *Index) Remove(ctx context.Context, key string, v value.Value, id RecordID) error {
	hash, err := value.Hash(v)
	if err != nil {
		return fmt.Errorf("index remove %q: %w", key, err)
	}
	_, err = ix.st.exec(ctx,
		`DELETE FROM index_entries WHERE prop_key = ? AND value_hash = ? AND element_id = ?`,
		key, hash, int64(id),
	)
	if err != nil {
		return fmt.Errorf("index remove %q: %w", key, err)
	}
	return nil
}

// RemoveAll drops every association of id.
func (ix *Index) RemoveAll(ctx context.Context, id RecordID) error {
	if _, err := ix.st.exec(ctx, `DELETE FROM index_entries WHERE element_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("index remove all %d: %w", id, err)
	}
	return nil
}

// Lookup returns the ids associated with (key, v) in ascending order.
func (ix *Index) Lookup(ctx context.Context, key string, v value.Value) ([]RecordID, error) {
	hash, err := value.Hash(v)
	if err != nil {
		return nil, fmt.Errorf("index lookup %q: %w", key, err)
	}
	rows, err := ix.st.query(ctx, `
		SELECT element_id FROM index_entries
		WHERE prop_key = ? AND value_hash = ?
		ORDER BY element_id ASC
	`, key, hash)
	if err != nil {
		return nil, fmt.Errorf("index lookup %q: %w", key, err)
	}
	defer rows.Close()

	var ids []RecordID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("index lookup %q: %w", key, err)
		}
		ids = append(ids, RecordID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index lookup %q: %w", key, err)
	}
	return ids, nil
}

// Entries returns every association ordered by key, value hash and id.
func (ix *Index) Entries(ctx context.Context) ([]IndexEntry, error) {
	rows, err := ix.st.query(ctx, `
		SELECT prop_key, value, element_id FROM index_entries
		ORDER BY prop_key ASC, value_hash ASC, element_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("index entries: %w", err)
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var (
			key, enc string
			id       int64
		)
		if err := rows.Scan(&key, &enc, &id); err != nil {
			return nil, fmt.Errorf("index entries: %w", err)
		}
		v, err := unmarshalValue(enc)
		if err != nil {
			return nil, fmt.Errorf("index entries: %w", err)
		}
		out = append(out, IndexEntry{Key: key, Value: v, ElementID: RecordID(id)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index entries: %w", err)
	}
	return out, nil
}

// Clear drops every association. Used before a snapshot import or a
// rebuild.
func (ix *Index) Clear(ctx context.Context) error {
	if _, err := ix.st.exec(ctx, `DELETE FROM index_entries`); err != nil {
		return fmt.Errorf("index clear: %w", err)
	}
	return nil
}
