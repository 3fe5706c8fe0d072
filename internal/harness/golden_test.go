package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_Scenarios(t *testing.T) {
	for _, name := range []string{"element_lifecycle", "nested_update_rollback"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)

			// First run with -update to create golden file:
			//   go test ./internal/harness -run TestRunWithGolden_Scenarios -update
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestMarshalTrace_Deterministic(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "nested_update_rollback.yaml"))
	require.NoError(t, err)

	var outputs [][]byte
	for range 3 {
		result, err := Run(s)
		require.NoError(t, err)
		data, err := MarshalTrace(s.Name, result)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[1], outputs[2])
}

func TestMarshalTrace_Layout(t *testing.T) {
	result := NewResult()
	result.addEvent(TraceEvent{Op: OpAddVertex, Args: map[string]any{"as": "v"}, Outcome: "ok"})

	data, err := MarshalTrace("layout", result)
	require.NoError(t, err)

	want := `{
  "elements": [],
  "index": [],
  "pass": true,
  "scenario_name": "layout",
  "trace": [
    {
      "args": {
        "as": "v"
      },
      "op": "add_vertex",
      "outcome": "ok",
      "seq": 1
    }
  ]
}
`
	assert.Equal(t, want, string(data))
}
