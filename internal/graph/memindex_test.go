package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txgraph/internal/value"
)

func TestMemoryIndex_PutLookupRemove(t *testing.T) {
	ctx := context.Background()
	ix := NewMemoryIndex(&fakeTx{})

	require.NoError(t, ix.Put(ctx, "name", value.String("a"), 3))
	require.NoError(t, ix.Put(ctx, "name", value.String("a"), 1))
	require.NoError(t, ix.Put(ctx, "name", value.String("b"), 2))

	ids, err := ix.Lookup(ctx, "name", value.String("a"))
	require.NoError(t, err)
	assert.Equal(t, []RecordID{1, 3}, ids)

	require.NoError(t, ix.Remove(ctx, "name", value.String("a"), 3))
	ids, _ = ix.Lookup(ctx, "name", value.String("a"))
	assert.Equal(t, []RecordID{1}, ids)
	assert.Equal(t, 2, ix.Len())
}

func TestMemoryIndex_RemoveMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	ix := NewMemoryIndex(tx)

	require.NoError(t, tx.Begin(ctx))
	assert.NoError(t, ix.Remove(ctx, "never", value.Int(1), 1))
	assert.Empty(t, tx.afterRollback, "nothing to undo")
	require.NoError(t, tx.Commit(ctx))
}

func TestMemoryIndex_RollbackUndoes(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	ix := NewMemoryIndex(tx)
	require.NoError(t, ix.Put(ctx, "k", value.String("old"), 1))
	require.NoError(t, ix.Put(ctx, "other", value.Int(5), 1))

	require.NoError(t, tx.Begin(ctx))
	require.NoError(t, ix.Remove(ctx, "k", value.String("old"), 1))
	require.NoError(t, ix.Put(ctx, "k", value.String("new"), 1))
	require.NoError(t, ix.RemoveAll(ctx, 1))
	assert.Equal(t, 0, ix.Len())
	require.NoError(t, tx.Rollback(ctx))

	ids, _ := ix.Lookup(ctx, "k", value.String("old"))
	assert.Equal(t, []RecordID{1}, ids)
	ids, _ = ix.Lookup(ctx, "k", value.String("new"))
	assert.Empty(t, ids)
	ids, _ = ix.Lookup(ctx, "other", value.Int(5))
	assert.Equal(t, []RecordID{1}, ids)
}

func TestMemoryIndex_PutExistingRegistersNoUndo(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	ix := NewMemoryIndex(tx)
	require.NoError(t, ix.Put(ctx, "k", value.Int(1), 1))

	require.NoError(t, tx.Begin(ctx))
	require.NoError(t, ix.Put(ctx, "k", value.Int(1), 1))
	require.NoError(t, tx.Rollback(ctx))

	ids, _ := ix.Lookup(ctx, "k", value.Int(1))
	assert.Equal(t, []RecordID{1}, ids, "pre-existing entry survives the rollback")
}

func TestMemoryIndex_Rebuild(t *testing.T) {
	ctx := context.Background()
	ix := NewMemoryIndex(&fakeTx{})
	require.NoError(t, ix.Put(ctx, "stale", value.Int(1), 9))

	records := []Record{
		&fakeRecord{id: 1, kind: KindVertex, props: value.Object{"name": value.String("a")}},
		&fakeRecord{id: 2, kind: KindEdge, props: value.Object{LabelKey: value.String("knows")}},
		&fakeRecord{kind: KindVertex, props: value.Object{"name": value.String("transient")}},
	}
	scan := func(_ context.Context, fn func(Record) error) error {
		for _, r := range records {
			if err := fn(r); err != nil {
				return err
			}
		}
		return nil
	}
	require.NoError(t, ix.Rebuild(ctx, scan))

	assert.Equal(t, 2, ix.Len())
	ids, _ := ix.Lookup(ctx, LabelKey, value.String("knows"))
	assert.Equal(t, []RecordID{2}, ids)
	ids, _ = ix.Lookup(ctx, "stale", value.Int(1))
	assert.Empty(t, ids)
}
