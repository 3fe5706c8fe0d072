package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/txgraph/internal/value"
)

// marshalValue converts a property value to canonical JSON TEXT for the
// index_entries.value column.
func marshalValue(v value.Value) (string, error) {
	data, err := value.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalProperties parses the elements.properties column.
// value.Object decodes numbers via json.Number, so int64 values above 2^53
// survive the round trip.
func unmarshalProperties(data string) (value.Object, error) {
	if data == "" || data == "{}" {
		return value.Object{}, nil
	}
	var obj value.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	return obj, nil
}

// unmarshalValue parses the index_entries.value column.
func unmarshalValue(data string) (value.Value, error) {
	v, err := value.Unmarshal([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}
