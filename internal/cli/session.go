package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/txgraph/internal/config"
	"github.com/roach88/txgraph/internal/graph"
	"github.com/roach88/txgraph/internal/store"
)

// session is one opened graph plus the configuration it came from.
type session struct {
	graph    *graph.Graph
	config   *config.Config
	registry *prometheus.Registry // nil unless metrics are enabled
	log      *slog.Logger
}

// openSession loads the configuration, configures logging on cmd's error
// stream and opens the graph. withMetrics forces a metrics registry even
// when the config leaves metrics disabled.
func openSession(cmd *cobra.Command, opts *RootOptions, withMetrics bool) (*session, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Storage.DSN = opts.Database
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	driver, err := store.ParseDriver(cfg.Storage.Driver)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid storage driver", err)
	}

	graphOpts := []graph.Option{graph.WithLogger(logger)}
	if cfg.Index.Mode == "memory" {
		graphOpts = append(graphOpts, graph.WithMemoryIndex())
	}
	var reg *prometheus.Registry
	if cfg.Metrics.Enabled || withMetrics {
		reg = prometheus.NewRegistry()
		graphOpts = append(graphOpts, graph.WithMetrics(reg))
	}

	logger.Debug("opening graph", "driver", driver, "dsn", cfg.Storage.DSN, "index", cfg.Index.Mode)
	g, err := graph.Open(commandContext(cmd), driver, cfg.Storage.DSN, graphOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open graph", err)
	}
	return &session{graph: g, config: cfg, registry: reg, log: logger}, nil
}

// Close closes the graph, logging any error.
func (s *session) Close() {
	if err := s.graph.Close(); err != nil {
		s.log.Error("error closing graph", "error", err)
	}
}

// element resolves a "#<id>" or "<id>" argument.
func (s *session) element(ctx context.Context, ref string) (*graph.Element, error) {
	id, err := parseRecordID(ref)
	if err != nil {
		return nil, err
	}
	return s.graph.Element(ctx, id)
}

// parseRecordID accepts "12" or "#12".
func parseRecordID(ref string) (graph.RecordID, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(ref, "#"), 10, 64)
	if err != nil || n <= 0 {
		return 0, &graph.Error{
			Code: graph.ErrCodeInvalid,
			Op:   "parse_id",
			Err:  fmt.Errorf("invalid element id %q", ref),
		}
	}
	return graph.RecordID(n), nil
}

// withSession opens a session, runs fn and closes the session. Errors
// from fn are reported through the formatter and mapped to ExitFailure.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session, out *OutputFormatter) error) error {
	out := newFormatter(cmd, opts)
	s, err := openSession(cmd, opts, false)
	if err != nil {
		return reportExit(out, err)
	}
	defer s.Close()

	if err := fn(commandContext(cmd), s, out); err != nil {
		return reportExit(out, err)
	}
	return nil
}

// reportExit writes err in the configured format unless it is already an
// ExitError that was reported.
func reportExit(out *OutputFormatter, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err == nil {
			_ = out.Error("COMMAND_ERROR", exitErr.Message, nil)
			return exitErr
		}
		return out.Fail(exitErr.Code, exitErr.Message, exitErr.Err)
	}
	return out.Fail(ExitFailure, "operation failed", err)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
