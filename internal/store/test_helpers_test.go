package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestStore opens a fresh SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	return createTestStoreWithDriver(t, DriverSQLite3)
}

func createTestStoreWithDriver(t *testing.T, driver Driver) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenDriver(context.Background(), driver, path, WithTxIDs(NewFixedGenerator("tx-1", "tx-2", "tx-3")))
	require.NoError(t, err, "OpenDriver(%s)", driver)
	t.Cleanup(func() { s.Close() })
	return s
}

// savedVertex creates and saves a vertex with the given properties.
func savedVertex(t *testing.T, s *Store, props map[string]string) *Record {
	t.Helper()
	r := s.NewVertex()
	for k, v := range props {
		r.Set(k, valueString(v))
	}
	require.NoError(t, r.Save(context.Background()))
	return r
}

// mustID returns the id of a saved record.
func mustID(t *testing.T, r *Record) RecordID {
	t.Helper()
	id, ok := r.RecordID()
	require.True(t, ok, "record is not saved")
	return id
}
