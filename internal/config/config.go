// Package config loads txgraph configuration from a CUE file.
//
// The file is unified with a closed schema that supplies defaults, so an
// empty or missing file yields a working SQLite setup. Environment
// variables override individual fields after the file is decoded:
//
//	TXGRAPH_STORAGE_DRIVER   storage.driver
//	TXGRAPH_DSN              storage.dsn
//	TXGRAPH_INDEX_MODE       index.mode
//	TXGRAPH_SNAPSHOT_DRIVER  snapshot.driver
//	TXGRAPH_SNAPSHOT_ROOT    snapshot.root
//	TXGRAPH_S3_BUCKET        snapshot.s3.bucket
//	TXGRAPH_S3_ENDPOINT      snapshot.s3.endpoint
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// Config is the decoded configuration.
type Config struct {
	Storage  Storage  `json:"storage"`
	Index    Index    `json:"index"`
	Metrics  Metrics  `json:"metrics"`
	Snapshot Snapshot `json:"snapshot"`
}

// Storage selects the database.
type Storage struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// Index selects where index entries live: "sql" or "memory".
type Index struct {
	Mode string `json:"mode"`
}

// Metrics controls the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Snapshot configures export/import destinations.
type Snapshot struct {
	Driver string `json:"driver"`
	Root   string `json:"root"`
	Format string `json:"format"`
	S3     S3     `json:"s3"`
}

// S3 configures the S3 snapshot sink.
type S3 struct {
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	PathStyle bool   `json:"path_style"`
}

// ConfigError reports an invalid configuration file or value.
type ConfigError struct {
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Message)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Default returns the configuration an empty file produces, without
// environment overrides.
func Default() *Config {
	cfg, err := decode(cuecontext.New(), "", nil)
	if err != nil {
		// the embedded schema is static
		panic(err)
	}
	return cfg
}

// Load reads the CUE file at path and applies environment overrides. An
// empty path loads only defaults.
func Load(path string) (*Config, error) {
	var src []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Path: path, Message: err.Error()}
		}
		src = data
	}

	cfg, err := decode(cuecontext.New(), path, src)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(ctx *cue.Context, path string, src []byte) (*Config, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &ConfigError{Path: "schema.cue", Message: err.Error()}
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := def
	if len(src) > 0 {
		file := ctx.CompileBytes(src, cue.Filename(path))
		if err := file.Err(); err != nil {
			return nil, &ConfigError{Path: path, Message: err.Error()}
		}
		val = def.Unify(file)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}

	var cfg Config
	if err := val.Decode(&cfg); err != nil {
		return nil, &ConfigError{Path: path, Message: err.Error()}
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"TXGRAPH_STORAGE_DRIVER", &c.Storage.Driver},
		{"TXGRAPH_DSN", &c.Storage.DSN},
		{"TXGRAPH_INDEX_MODE", &c.Index.Mode},
		{"TXGRAPH_SNAPSHOT_DRIVER", &c.Snapshot.Driver},
		{"TXGRAPH_SNAPSHOT_ROOT", &c.Snapshot.Root},
		{"TXGRAPH_S3_BUCKET", &c.Snapshot.S3.Bucket},
		{"TXGRAPH_S3_ENDPOINT", &c.Snapshot.S3.Endpoint},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.name); ok && v != "" {
			*o.dst = v
		}
	}
}

// Validate checks values the schema cannot, including those set from the
// environment.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite3", "sqlite", "pgx":
	default:
		return &ConfigError{Message: fmt.Sprintf("unknown storage driver %q", c.Storage.Driver)}
	}
	if c.Storage.DSN == "" {
		return &ConfigError{Message: "storage.dsn must not be empty"}
	}
	switch c.Index.Mode {
	case "sql", "memory":
	default:
		return &ConfigError{Message: fmt.Sprintf("unknown index mode %q", c.Index.Mode)}
	}
	switch c.Snapshot.Driver {
	case "fs", "memory":
	case "s3":
		if c.Snapshot.S3.Bucket == "" {
			return &ConfigError{Message: "snapshot.s3.bucket is required for the s3 driver"}
		}
	default:
		return &ConfigError{Message: fmt.Sprintf("unknown snapshot driver %q", c.Snapshot.Driver)}
	}
	switch c.Snapshot.Format {
	case "json", "msgpack":
	default:
		return &ConfigError{Message: fmt.Sprintf("unknown snapshot format %q", c.Snapshot.Format)}
	}
	return nil
}
