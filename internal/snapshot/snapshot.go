package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/txgraph/internal/graph"
	"github.com/roach88/txgraph/internal/store"
	"github.com/roach88/txgraph/internal/value"
)

// FormatVersion is written into every snapshot.
const FormatVersion = 1

var (
	// ErrNotEmpty is returned when importing into a graph that has elements.
	ErrNotEmpty = errors.New("graph is not empty")
	// ErrDuplicateID is returned when a snapshot lists the same id twice.
	ErrDuplicateID = errors.New("duplicate element id")
)

// Snapshot is the exported state of a graph.
type Snapshot struct {
	Elements []Element
}

// Element is one exported record.
type Element struct {
	ID         store.RecordID
	Kind       store.Kind
	Out        store.RecordID
	In         store.RecordID
	Properties value.Object
}

// Export reads every element of g in id order.
func Export(ctx context.Context, g *graph.Graph) (*Snapshot, error) {
	snap := &Snapshot{}
	err := g.Store().Scan(ctx, func(r *store.Record) error {
		id, _ := r.RecordID()
		out, in := r.Endpoints()
		snap.Elements = append(snap.Elements, Element{
			ID:         id,
			Kind:       r.Kind(),
			Out:        out,
			In:         in,
			Properties: r.Properties(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return snap, nil
}

// Import writes every element of snap into g, keeping their ids, and
// rebuilds the index. It runs in one transaction and refuses a non-empty
// graph. A snapshot that repeats an id is rejected before anything is
// written.
func Import(ctx context.Context, g *graph.Graph, snap *Snapshot) error {
	seen := make(map[store.RecordID]struct{}, len(snap.Elements))
	for _, e := range snap.Elements {
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("import: %w %d", ErrDuplicateID, e.ID)
		}
		seen[e.ID] = struct{}{}
	}

	return g.Update(ctx, func(ctx context.Context) error {
		n, err := g.Store().Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("import: %w (%d elements)", ErrNotEmpty, n)
		}
		for _, e := range snap.Elements {
			if _, err := g.Store().Restore(ctx, e.ID, e.Kind, e.Out, e.In, e.Properties); err != nil {
				return fmt.Errorf("import: %w", err)
			}
		}
		return g.Reindex(ctx)
	})
}

// Save exports g, encodes it with codec and writes it to sink under key.
func Save(ctx context.Context, g *graph.Graph, sink Sink, codec Codec, key string) (*Snapshot, error) {
	snap, err := Export(ctx, g)
	if err != nil {
		return nil, err
	}
	data, err := codec.Encode(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := sink.Put(ctx, key, data, codec.ContentType()); err != nil {
		return nil, fmt.Errorf("write snapshot %s: %w", key, err)
	}
	slog.Info("snapshot saved", "key", key, "elements", len(snap.Elements), "format", codec.Name(), "bytes", len(data))
	return snap, nil
}

// Restore reads key from sink, decodes it and imports it into g.
func Restore(ctx context.Context, g *graph.Graph, sink Sink, codec Codec, key string) (*Snapshot, error) {
	data, err := sink.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	snap, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	if err := Import(ctx, g, snap); err != nil {
		return nil, err
	}
	slog.Info("snapshot restored", "key", key, "elements", len(snap.Elements))
	return snap, nil
}
