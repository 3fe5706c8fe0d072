package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/txgraph/internal/value"
)

// TraceSnapshot is the golden-file form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string
	Result       *Result
}

// toCanonicalMap converts the snapshot to plain maps for canonical JSON.
// Empty optional fields are omitted the same way the json tags do.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Result.Trace))
	for i, ev := range s.Result.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"op":      ev.Op,
			"outcome": ev.Outcome,
		}
		if ev.Depth != 0 {
			m["depth"] = int64(ev.Depth)
		}
		if ev.Element != "" {
			m["element"] = ev.Element
		}
		if ev.Args != nil {
			m["args"] = ev.Args
		}
		if ev.Result != nil {
			m["result"] = ev.Result
		}
		trace[i] = m
	}

	elements := make([]any, len(s.Result.Elements))
	for i, el := range s.Result.Elements {
		m := map[string]any{
			"id":         el.ID,
			"kind":       el.Kind,
			"properties": el.Properties,
		}
		if el.Label != "" {
			m["label"] = el.Label
		}
		if el.Out != 0 {
			m["out"] = el.Out
		}
		if el.In != 0 {
			m["in"] = el.In
		}
		elements[i] = m
	}

	index := make([]any, len(s.Result.Index))
	for i, entry := range s.Result.Index {
		index[i] = map[string]any{
			"key":        entry.Key,
			"value":      entry.Value,
			"element_id": entry.ElementID,
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"pass":          s.Result.Pass,
		"trace":         trace,
		"elements":      elements,
		"index":         index,
	}
}

// MarshalTrace renders a result as indented canonical JSON with a trailing
// newline. Keys are sorted, so the output is byte-stable across runs.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Result: result}
	canonical, err := value.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
