package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "sqlite3", cfg.Storage.Driver)
	assert.Equal(t, "txgraph.db", cfg.Storage.DSN)
	assert.Equal(t, "sql", cfg.Index.Mode)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "fs", cfg.Snapshot.Driver)
	assert.Equal(t, "snapshots", cfg.Snapshot.Root)
	assert.Equal(t, "json", cfg.Snapshot.Format)
	assert.Equal(t, "us-east-1", cfg.Snapshot.S3.Region)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "full.cue"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/txgraph/graph.db", cfg.Storage.DSN)
	assert.Equal(t, "memory", cfg.Index.Mode)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "s3", cfg.Snapshot.Driver)
	assert.Equal(t, "msgpack", cfg.Snapshot.Format)
	assert.Equal(t, S3{
		Bucket:    "graph-snapshots",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		PathStyle: true,
	}, cfg.Snapshot.S3)
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "unknown_field.cue"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "pool")
}

func TestLoad_RejectsBadDriver(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "bad_driver.cue"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestLoad_SyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("storage: {"), 0o644))

	_, err := Load(path)
	assert.True(t, IsConfigError(err))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TXGRAPH_STORAGE_DRIVER", "pgx")
	t.Setenv("TXGRAPH_DSN", "postgres://localhost/txgraph")
	t.Setenv("TXGRAPH_INDEX_MODE", "memory")
	t.Setenv("TXGRAPH_SNAPSHOT_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/txgraph", cfg.Storage.DSN)
	assert.Equal(t, "memory", cfg.Index.Mode)
	assert.Equal(t, "memory", cfg.Snapshot.Driver)
}

func TestLoad_EnvOverrideValidated(t *testing.T) {
	t.Setenv("TXGRAPH_INDEX_MODE", "btree")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "btree")
}

func TestValidate_S3NeedsBucket(t *testing.T) {
	cfg := Default()
	cfg.Snapshot.Driver = "s3"
	assert.Error(t, cfg.Validate())

	cfg.Snapshot.S3.Bucket = "b"
	assert.NoError(t, cfg.Validate())
}
