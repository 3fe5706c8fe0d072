package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/txgraph/internal/store"
	"github.com/roach88/txgraph/internal/value"
)

// Codec converts snapshots to bytes and back.
type Codec interface {
	Name() string
	ContentType() string
	Encode(*Snapshot) ([]byte, error)
	Decode([]byte) (*Snapshot, error)
}

// CodecFor returns the codec registered under name: "json" or "msgpack".
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", name)
	}
}

// document is the wire layout shared by both codecs. Property values are
// carried as plain Go values so each codec can use its native types.
type document struct {
	Version  int          `json:"version" msgpack:"version"`
	Elements []elementDoc `json:"elements" msgpack:"elements"`
}

type elementDoc struct {
	ID         int64          `json:"id" msgpack:"id"`
	Kind       string         `json:"kind" msgpack:"kind"`
	Out        int64          `json:"out,omitempty" msgpack:"out,omitempty"`
	In         int64          `json:"in,omitempty" msgpack:"in,omitempty"`
	Properties map[string]any `json:"properties" msgpack:"properties"`
}

func toDocument(snap *Snapshot) document {
	doc := document{Version: FormatVersion, Elements: make([]elementDoc, 0, len(snap.Elements))}
	for _, e := range snap.Elements {
		props := make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			props[k] = value.ToAny(v)
		}
		doc.Elements = append(doc.Elements, elementDoc{
			ID:         int64(e.ID),
			Kind:       string(e.Kind),
			Out:        int64(e.Out),
			In:         int64(e.In),
			Properties: props,
		})
	}
	return doc
}

func fromDocument(doc document) (*Snapshot, error) {
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	snap := &Snapshot{Elements: make([]Element, 0, len(doc.Elements))}
	for _, d := range doc.Elements {
		kind := store.Kind(d.Kind)
		if kind != store.KindVertex && kind != store.KindEdge {
			return nil, fmt.Errorf("element %d: unknown kind %q", d.ID, d.Kind)
		}
		props := make(value.Object, len(d.Properties))
		for k, raw := range d.Properties {
			v, err := value.FromAny(raw)
			if err != nil {
				return nil, fmt.Errorf("element %d property %q: %w", d.ID, k, err)
			}
			props[k] = v
		}
		snap.Elements = append(snap.Elements, Element{
			ID:         store.RecordID(d.ID),
			Kind:       kind,
			Out:        store.RecordID(d.Out),
			In:         store.RecordID(d.In),
			Properties: props,
		})
	}
	return snap, nil
}

// JSONCodec writes indented JSON with sorted object keys.
type JSONCodec struct{}

func (JSONCodec) Name() string        { return "json" }
func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Encode(snap *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(toDocument(snap), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (JSONCodec) Decode(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return fromDocument(doc)
}

// MsgpackCodec writes msgpack with map keys sorted.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string        { return "msgpack" }
func (MsgpackCodec) ContentType() string { return "application/msgpack" }

func (MsgpackCodec) Encode(snap *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(toDocument(snap)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(data []byte) (*Snapshot, error) {
	var doc document
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return fromDocument(doc)
}
