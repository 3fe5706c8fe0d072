package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txgraph/internal/graph"
	"github.com/roach88/txgraph/internal/testutil"
	"github.com/roach88/txgraph/internal/value"
)

// runCLI executes one command line against a fresh root command.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// mustRun executes a command line that must succeed and returns its
// trimmed output.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	require.NoError(t, err, "txgraph %s\n%s", strings.Join(args, " "), out)
	return strings.TrimRight(out, "\n")
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "graph.db")
}

func TestCLI_PropertyLifecycle(t *testing.T) {
	db := tempDB(t)

	assert.Equal(t, `#1 vertex age=30 name="Alice"`,
		mustRun(t, "--db", db, "vertex", "add", "--prop", "name=Alice", "-p", "age=30"))
	assert.Equal(t, `#1 name="Alice"`, mustRun(t, "--db", db, "get", "1", "name"))
	assert.Equal(t, "age\nname", mustRun(t, "--db", db, "keys", "#1"))

	assert.Equal(t, `#1 vertex age=31 name="Alice"`, mustRun(t, "--db", db, "set", "1", "age", "31"))
	assert.Equal(t, `#1 vertex age=31 name="Alice"`, mustRun(t, "--db", db, "lookup", "age", "31"))
	assert.Equal(t, "(none)", mustRun(t, "--db", db, "lookup", "age", "30"))

	assert.Equal(t, "#1 age=31", mustRun(t, "--db", db, "rm", "1", "age"))
	assert.Equal(t, "#1 age (not set)", mustRun(t, "--db", db, "rm", "1", "age"))
	assert.Equal(t, "(none)", mustRun(t, "--db", db, "lookup", "age", "31"))

	assert.Equal(t, "#1", mustRun(t, "--db", db, "id", "1"))
}

func TestCLI_GetMissingProperty(t *testing.T) {
	db := tempDB(t)
	mustRun(t, "--db", db, "vertex", "add")

	out, err := runCLI(t, "--db", db, "get", "1", "name")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [NOT_FOUND]")
	assert.True(t, graph.IsNotFound(err))
}

func TestCLI_RejectsBadArguments(t *testing.T) {
	db := tempDB(t)
	mustRun(t, "--db", db, "vertex", "add", "-p", "name=Alice")

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"bad_id", []string{"get", "abc", "name"}, "INVALID_ARGUMENT"},
		{"zero_id", []string{"keys", "0"}, "INVALID_ARGUMENT"},
		{"unknown_element", []string{"get", "99", "name"}, "NOT_FOUND"},
		{"reserved_key", []string{"set", "1", "label", "person"}, "INVALID_ARGUMENT"},
		{"empty_key", []string{"set", "1", "", "x"}, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, append([]string{"--db", db, "--format", "json"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}

	// nothing above changed the element
	assert.Equal(t, `#1 vertex name="Alice"`, mustRun(t, "--db", db, "list"))
}

func TestCLI_InvalidPropFlag(t *testing.T) {
	out, err := runCLI(t, "--db", tempDB(t), "vertex", "add", "--prop", "name")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "want key=value")
}

func TestCLI_Edges(t *testing.T) {
	db := tempDB(t)
	mustRun(t, "--db", db, "vertex", "add", "-p", "name=Alice")
	mustRun(t, "--db", db, "vertex", "add", "-p", "name=Bob")

	assert.Equal(t, "#3 edge knows #1->#2 since=2020",
		mustRun(t, "--db", db, "edge", "add", "1", "2", "knows", "-p", "since=2020"))
	assert.Equal(t, "#3 edge knows #1->#2 since=2020", mustRun(t, "--db", db, "lookup", "label", "knows"))

	list := mustRun(t, "--db", db, "list")
	assert.Equal(t, strings.Join([]string{
		`#1 vertex name="Alice"`,
		`#2 vertex name="Bob"`,
		`#3 edge knows #1->#2 since=2020`,
	}, "\n"), list)

	out, err := runCLI(t, "--db", db, "edge", "add", "1", "3", "likes")
	require.Error(t, err)
	assert.Contains(t, out, "Error [INVALID_ARGUMENT]")

	assert.Equal(t, "deleted #3", mustRun(t, "--db", db, "delete", "3"))
	assert.Equal(t, "(none)", mustRun(t, "--db", db, "lookup", "label", "knows"))
	assert.Equal(t, "reindexed 2 entries", mustRun(t, "--db", db, "reindex"))
}

func TestCLI_JSONOutput(t *testing.T) {
	db := tempDB(t)
	mustRun(t, "--db", db, "vertex", "add", "-p", "name=Alice", "-p", `tags=["a","b"]`)

	out := mustRun(t, "--db", db, "--format", "json", "get", "1", "tags")
	var resp struct {
		Status string       `json:"status"`
		Data   propertyView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(1), resp.Data.ID)
	assert.Equal(t, "tags", resp.Data.Key)
	assert.True(t, resp.Data.Found)
	assert.Equal(t, []any{"a", "b"}, resp.Data.Value)

	out = mustRun(t, "--db", db, "--format", "json", "list")
	var listResp struct {
		Data []elementView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listResp))
	require.Len(t, listResp.Data, 1)
	assert.Equal(t, "vertex", listResp.Data[0].Kind)
	assert.Equal(t, "Alice", listResp.Data[0].Properties["name"])
}

func TestCLI_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "txgraph.cue")
	cfg := `storage: dsn: "` + filepath.ToSlash(filepath.Join(dir, "cfg.db")) + `"
index: mode: "memory"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	mustRun(t, "-c", cfgPath, "vertex", "add", "-p", "name=Alice")
	assert.Equal(t, `#1 vertex name="Alice"`, mustRun(t, "-c", cfgPath, "lookup", "name", "Alice"))
	_, err := os.Stat(filepath.Join(dir, "cfg.db"))
	assert.NoError(t, err)

	out, err := runCLI(t, "-c", filepath.Join(dir, "missing.cue"), "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [CONFIG_ERROR]")
}

func TestCLI_ExportImport(t *testing.T) {
	t.Setenv("TXGRAPH_SNAPSHOT_DRIVER", "fs")
	t.Setenv("TXGRAPH_SNAPSHOT_ROOT", t.TempDir())

	src := tempDB(t)
	mustRun(t, "--db", src, "vertex", "add", "-p", "name=Alice")
	mustRun(t, "--db", src, "vertex", "add", "-p", "name=Bob")
	mustRun(t, "--db", src, "edge", "add", "1", "2", "knows")

	assert.Equal(t, "3 elements fs:graph.json (json)", mustRun(t, "--db", src, "export"))
	assert.Equal(t, "3 elements fs:graph.msgpack (msgpack)", mustRun(t, "--db", src, "export", "--codec", "msgpack"))
	assert.Equal(t, "graph.json\ngraph.msgpack", mustRun(t, "--db", src, "import", "--list"))

	for _, codec := range []string{"json", "msgpack"} {
		t.Run(codec, func(t *testing.T) {
			dst := tempDB(t)
			assert.Equal(t, "3 elements fs:graph."+codec+" ("+codec+")",
				mustRun(t, "--db", dst, "import", "--codec", codec))
			assert.Equal(t, "#3 edge knows #1->#2", mustRun(t, "--db", dst, "lookup", "label", "knows"))
			assert.Equal(t, `#2 vertex name="Bob"`, mustRun(t, "--db", dst, "lookup", "name", "Bob"))
			// new elements continue after the imported ids
			assert.Equal(t, "#4 vertex", mustRun(t, "--db", dst, "vertex", "add"))
		})
	}

	out, err := runCLI(t, "--db", src, "import")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "not empty")

	_, err = runCLI(t, "--db", src, "export", "--codec", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCLI_Scenario(t *testing.T) {
	out, err := runCLI(t, "scenario", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "ok   element_lifecycle")
	assert.Contains(t, out, "ok   nested_update_rollback")
	assert.Contains(t, out, "Summary: 2 passed, 0 failed, 2 total")
}

func TestCLI_ScenarioFilterAndJSON(t *testing.T) {
	out, err := runCLI(t, "--format", "json", "scenario",
		filepath.Join("..", "harness", "testdata", "scenarios"), "--filter", "nested_*")
	require.NoError(t, err, out)

	var resp struct {
		Status string          `json:"status"`
		Data   ScenarioSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "nested_update_rollback", resp.Data.Scenarios[0].Name)
}

func TestCLI_ScenarioGolden(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: single_vertex
flow:
  - op: add_vertex
    as: v
  - op: set
    element: v
    key: name
    value: Alice
assertions:
  - type: lookup
    key: name
    value: Alice
    ids: [1]
`
	file := filepath.Join(dir, "single_vertex.yaml")
	require.NoError(t, os.WriteFile(file, []byte(scenario), 0o644))

	out, err := runCLI(t, "scenario", file, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "golden updated")

	golden := filepath.Join(dir, "golden", "single_vertex.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"op": "set"`)

	out, err = runCLI(t, "scenario", file)
	require.NoError(t, err, out)
	assert.Contains(t, out, "ok   single_vertex")

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0o644))
	out, err = runCLI(t, "scenario", file)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL single_vertex")
	assert.Contains(t, out, "does not match golden file")
}

func TestCLI_ScenarioMissingPath(t *testing.T) {
	_, err := runCLI(t, "scenario", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCLI_Stats(t *testing.T) {
	db := tempDB(t)
	mustRun(t, "--db", db, "vertex", "add", "-p", "name=Alice")
	mustRun(t, "--db", db, "vertex", "add", "-p", "name=Bob")
	mustRun(t, "--db", db, "edge", "add", "1", "2", "knows")

	assert.Equal(t, "vertices: 2\nedges: 1\nindex entries: 3", mustRun(t, "--db", db, "stats"))

	out := mustRun(t, "--db", db, "stats", "--metrics")
	assert.Contains(t, out, "# TYPE txgraph_cache_size gauge")
	assert.Contains(t, out, "txgraph_cache_size 3")
	assert.Contains(t, out, "txgraph_cache_misses_total")
}

func TestMetricsMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := testutil.OpenGraph(t, graph.WithMetrics(reg))

	v, err := g.AddVertex(context.Background())
	require.NoError(t, err)
	require.NoError(t, v.SetProperty(context.Background(), "name", value.String("Alice")))

	srv := httptest.NewServer(newMetricsMux(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `txgraph_element_operations_total{op="set_property",outcome="commit"} 1`)
	assert.Contains(t, string(body), "txgraph_cache_size 1")
}

// lineWriter collects output and signals once a line containing marker
// has been written.
type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	marker string
	ready  chan struct{}
	once   sync.Once
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.buf.Write(p)
	if strings.Contains(w.buf.String(), w.marker) {
		w.once.Do(func() { close(w.ready) })
	}
	return n, err
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestCLI_ServeStopsOnCancel(t *testing.T) {
	db := tempDB(t)
	mustRun(t, "--db", db, "vertex", "add", "-p", "name=Alice")

	out := &lineWriter{marker: "Press Ctrl-C", ready: make(chan struct{})}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--db", db, "serve", "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- cmd.ExecuteContext(ctx)
	}()

	select {
	case <-out.ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not start")
	}

	line := out.String()
	addr := strings.TrimSuffix(strings.Fields(strings.TrimPrefix(line, "Serving metrics on "))[0], ".")
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "txgraph_cache_size 1")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
