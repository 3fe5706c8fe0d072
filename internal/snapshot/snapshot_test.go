package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txgraph/internal/graph"
	"github.com/roach88/txgraph/internal/store"
	"github.com/roach88/txgraph/internal/testutil"
	"github.com/roach88/txgraph/internal/value"
)

func openGraph(t *testing.T) *graph.Graph {
	t.Helper()
	return testutil.OpenGraph(t)
}

// seed builds alice -knows-> bob.
func seed(t *testing.T, g *graph.Graph) {
	t.Helper()
	alice := testutil.Vertex(t, g, value.Object{
		"name": value.String("Alice"),
		"tags": value.Array{value.String("admin"), value.Int(7)},
	})
	bob := testutil.Vertex(t, g, value.Object{"name": value.String("Bob")})
	testutil.Edge(t, g, alice, bob, "knows", value.Object{
		"meta": value.Object{"since": value.Int(2020), "close": value.Bool(true)},
	})
}

func testSnapshot() *Snapshot {
	return &Snapshot{Elements: []Element{
		{ID: 1, Kind: store.KindVertex, Properties: value.Object{"name": value.String("Alice")}},
		{ID: 2, Kind: store.KindVertex, Properties: value.Object{}},
		{ID: 3, Kind: store.KindEdge, Out: 1, In: 2, Properties: value.Object{
			"label": value.String("knows"),
			"meta":  value.Object{"since": value.Int(2020), "list": value.Array{value.Bool(false)}},
		}},
	}}
}

func TestCodecs_RoundTrip(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecFor(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.Name())

			data, err := codec.Encode(testSnapshot())
			require.NoError(t, err)
			got, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, testSnapshot(), got)

			again, err := codec.Encode(got)
			require.NoError(t, err)
			assert.Equal(t, data, again, "encoding is deterministic")
		})
	}
}

func TestJSONCodec_Layout(t *testing.T) {
	data, err := JSONCodec{}.Encode(&Snapshot{Elements: []Element{
		{ID: 1, Kind: store.KindVertex, Properties: value.Object{"b": value.Int(2), "a": value.String("x")}},
	}})
	require.NoError(t, err)

	want := `{
  "version": 1,
  "elements": [
    {
      "id": 1,
      "kind": "vertex",
      "properties": {
        "a": "x",
        "b": 2
      }
    }
  ]
}
`
	assert.Equal(t, want, string(data))
}

func TestJSONCodec_Rejects(t *testing.T) {
	codec := JSONCodec{}
	for name, doc := range map[string]string{
		"version": `{"version": 2, "elements": []}`,
		"kind":    `{"version": 1, "elements": [{"id": 1, "kind": "hyperedge", "properties": {}}]}`,
		"float":   `{"version": 1, "elements": [{"id": 1, "kind": "vertex", "properties": {"x": 1.5}}]}`,
		"unknown": `{"version": 1, "elements": [], "extra": true}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestCodecFor_Unknown(t *testing.T) {
	_, err := CodecFor("xml")
	assert.Error(t, err)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := openGraph(t)
	seed(t, src)

	snap, err := Export(ctx, src)
	require.NoError(t, err)
	require.Len(t, snap.Elements, 3)
	assert.Equal(t, store.KindEdge, snap.Elements[2].Kind)
	assert.Equal(t, store.RecordID(1), snap.Elements[2].Out)

	dst := openGraph(t)
	require.NoError(t, Import(ctx, dst, snap))

	again, err := Export(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, snap, again)

	bobs, err := dst.Lookup(ctx, "name", value.String("Bob"))
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	id, _ := bobs[0].Identity().RecordID()
	assert.Equal(t, store.RecordID(2), id)

	edges, err := dst.Lookup(ctx, graph.LabelKey, value.String("knows"))
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "knows", edges[0].Label())

	v, err := dst.AddVertex(ctx)
	require.NoError(t, err)
	vid, err := v.ID(ctx)
	require.NoError(t, err)
	n, _ := vid.RecordID()
	assert.Equal(t, store.RecordID(4), n, "new ids continue after imported ones")
}

func TestImport_RefusesNonEmptyGraph(t *testing.T) {
	ctx := context.Background()
	g := openGraph(t)
	seed(t, g)

	err := Import(ctx, g, testSnapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotEmpty)

	n, err := g.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestImport_RejectsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	g := openGraph(t)
	snap := &Snapshot{Elements: []Element{
		{ID: 1, Kind: store.KindVertex, Properties: value.Object{"name": value.String("Alice")}},
		{ID: 2, Kind: store.KindVertex, Properties: value.Object{}},
		{ID: 1, Kind: store.KindVertex, Properties: value.Object{"name": value.String("Bob")}},
	}}

	err := Import(ctx, g, snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Contains(t, err.Error(), "duplicate element id 1")

	n, err := g.Store().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	elems, err := g.Lookup(ctx, "name", value.String("Alice"))
	require.NoError(t, err)
	assert.Empty(t, elems)
}

func TestSaveRestore_ThroughSinks(t *testing.T) {
	ctx := context.Background()
	s3Sink, _ := newMockS3Sink(t)
	fsSink, err := NewFSSink(t.TempDir())
	require.NoError(t, err)

	for name, sink := range map[string]Sink{
		"memory": NewMemorySink(),
		"fs":     fsSink,
		"s3":     s3Sink,
	} {
		for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
			t.Run(name+"/"+codec.Name(), func(t *testing.T) {
				src := openGraph(t)
				seed(t, src)
				key := "graph." + codec.Name()

				saved, err := Save(ctx, src, sink, codec, key)
				require.NoError(t, err)

				dst := openGraph(t)
				restored, err := Restore(ctx, dst, sink, codec, key)
				require.NoError(t, err)
				assert.Equal(t, saved, restored)

				alices, err := dst.Lookup(ctx, "name", value.String("Alice"))
				require.NoError(t, err)
				assert.Len(t, alices, 1)
			})
		}
	}
}

func TestRestore_MissingKey(t *testing.T) {
	_, err := Restore(context.Background(), openGraph(t), NewMemorySink(), JSONCodec{}, "nope.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
