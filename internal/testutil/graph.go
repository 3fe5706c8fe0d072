// Package testutil provides helpers for tests that need a real graph.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/txgraph/internal/graph"
	"github.com/roach88/txgraph/internal/store"
	"github.com/roach88/txgraph/internal/value"
)

// TxID is the id every transaction of a test graph gets.
const TxID = "test-tx"

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenGraph opens a graph on a fresh SQLite file in t's temp dir. Logs
// are discarded and transaction ids are fixed so traces are stable; opts
// are applied after those defaults. The graph is closed on cleanup.
func OpenGraph(t testing.TB, opts ...graph.Option) *graph.Graph {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	all := append([]graph.Option{
		graph.WithLogger(DiscardLogger()),
		graph.WithTxIDs(store.NewFixedGenerator(TxID)),
	}, opts...)
	g, err := graph.Open(context.Background(), store.DriverSQLite3, path, all...)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

// Vertex creates a vertex and sets props on it in key order. A vertex
// without props is still saved.
func Vertex(t testing.TB, g *graph.Graph, props value.Object) *graph.Element {
	t.Helper()
	ctx := context.Background()
	v, err := g.AddVertex(ctx)
	require.NoError(t, err)
	for _, k := range props.SortedKeys() {
		require.NoError(t, v.SetProperty(ctx, k, props[k]))
	}
	_, err = v.ID(ctx)
	require.NoError(t, err)
	return v
}

// Edge creates an edge from out to in and sets props on it in key order.
func Edge(t testing.TB, g *graph.Graph, out, in *graph.Element, label string, props value.Object) *graph.Element {
	t.Helper()
	ctx := context.Background()
	e, err := g.AddEdge(ctx, out, in, label)
	require.NoError(t, err)
	for _, k := range props.SortedKeys() {
		require.NoError(t, e.SetProperty(ctx, k, props[k]))
	}
	return e
}

// Knows builds the two-vertex graph most tests start from:
// #1 {name: Alice} -knows-> #2 {name: Bob}, edge #3.
func Knows(t testing.TB, g *graph.Graph) (alice, bob, knows *graph.Element) {
	t.Helper()
	alice = Vertex(t, g, value.Object{"name": value.String("Alice")})
	bob = Vertex(t, g, value.Object{"name": value.String("Bob")})
	knows = Edge(t, g, alice, bob, "knows", nil)
	return alice, bob, knows
}
