package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/txgraph/internal/graph"
)

// statsView summarizes a graph.
type statsView struct {
	Vertices     int    `json:"vertices"`
	Edges        int    `json:"edges"`
	IndexEntries int    `json:"index_entries"`
	Metrics      string `json:"metrics,omitempty"` // Prometheus text exposition
}

func (v statsView) String() string {
	s := fmt.Sprintf("vertices: %d\nedges: %d\nindex entries: %d", v.Vertices, v.Edges, v.IndexEntries)
	if v.Metrics != "" {
		s += "\n\n" + strings.TrimRight(v.Metrics, "\n")
	}
	return s
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var withMetrics bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count elements and index entries",
		Long: `Count vertices, edges and index entries. With --metrics, also print
the session's Prometheus metrics in text exposition format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			s, err := openSession(cmd, rootOpts, withMetrics)
			if err != nil {
				return reportExit(out, err)
			}
			defer s.Close()

			view, err := collectStats(commandContext(cmd), s)
			if err != nil {
				return reportExit(out, err)
			}
			return out.Success(view)
		},
	}
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "include Prometheus metrics")
	return cmd
}

func collectStats(ctx context.Context, s *session) (statsView, error) {
	var view statsView
	elems, err := s.graph.Elements(ctx)
	if err != nil {
		return view, err
	}
	for _, e := range elems {
		if e.Kind() == graph.KindEdge {
			view.Edges++
		} else {
			view.Vertices++
		}
	}
	entries, err := s.graph.IndexEntries(ctx)
	if err != nil {
		return view, err
	}
	view.IndexEntries = len(entries)

	if s.registry != nil {
		text, err := exposition(s.registry)
		if err != nil {
			return view, err
		}
		view.Metrics = text
	}
	return view, nil
}

// exposition renders every metric family gathered from reg.
func exposition(reg prometheus.Gatherer) (string, error) {
	families, err := reg.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}
	var b strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&b, mf); err != nil {
			return "", fmt.Errorf("encode metrics: %w", err)
		}
	}
	return b.String(), nil
}

// newMetricsMux serves /metrics from reg and a /health check.
func newMetricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Hold the graph open and expose Prometheus metrics",
		Long: `Open the graph, load every element into the identity cache and
serve /metrics and /health until interrupted.

Example:
  txgraph serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return reportExit(out, err)
			}
			defer s.Close()

			if addr == "" {
				addr = s.config.Metrics.Addr
			}
			if err := serveMetrics(cmd, s, addr); err != nil {
				return reportExit(out, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from metrics.addr)")
	return cmd
}

func serveMetrics(cmd *cobra.Command, s *session, addr string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := s.graph.Elements(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to load elements", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           newMetricsMux(s.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.log.Info("serving metrics", "addr", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on %s. Press Ctrl-C to stop.\n", ln.Addr())

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "metrics server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "metrics server shutdown", err)
	}
	s.log.Info("metrics server stopped")
	return nil
}
