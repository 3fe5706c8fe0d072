package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/txgraph/internal/graph"
	"github.com/roach88/txgraph/internal/store"
	"github.com/roach88/txgraph/internal/value"
)

// errRollbackRequested aborts an update step that asked to roll back.
var errRollbackRequested = errors.New("rollback requested by scenario")

// Harness executes one scenario against one graph.
type Harness struct {
	graph    *graph.Graph
	elements map[string]*graph.Element
	logger   *slog.Logger
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger for step progress. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) {
		o.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with fixed transaction
// ids. Run returns an error only when the graph cannot be opened or its
// final state cannot be read; step failures are reported in the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	graphOpts := []graph.Option{
		graph.WithLogger(o.logger),
		graph.WithTxIDs(store.NewFixedGenerator("scenario-tx")),
	}
	if scenario.Index == "memory" {
		graphOpts = append(graphOpts, graph.WithMemoryIndex())
	}
	g, err := graph.Open(ctx, store.DriverSQLite3, ":memory:", graphOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory graph: %w", err)
	}
	defer g.Close()

	h := &Harness{
		graph:    g,
		elements: make(map[string]*graph.Element),
		logger:   o.logger,
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		h.executeStep(ctx, step, 0, fmt.Sprintf("flow[%d]", i), result)
	}

	if err := h.captureState(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}
	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step, records it in the trace and checks its expect
// clause. The returned error is the operation's own error, which an
// enclosing update uses to abort.
func (h *Harness) executeStep(ctx context.Context, step Step, depth int, where string, result *Result) error {
	ev := TraceEvent{
		Op:      step.Op,
		Depth:   depth,
		Element: step.Element,
		Args:    stepArgs(step),
	}

	res, err := h.apply(ctx, step, depth, where, result)
	ev.Outcome = outcome(err)
	ev.Result = res
	ev = result.addEvent(ev)

	for _, msg := range checkExpect(step, ev, err) {
		result.AddError(fmt.Sprintf("%s (%s): %s", where, step.Op, msg))
	}
	h.logger.Info("step completed",
		"seq", ev.Seq,
		"op", step.Op,
		"element", step.Element,
		"outcome", ev.Outcome,
	)
	return err
}

// apply performs the operation and returns its trace result.
func (h *Harness) apply(ctx context.Context, step Step, depth int, where string, result *Result) (map[string]any, error) {
	var target *graph.Element
	for _, name := range []string{step.Element, step.Out, step.In} {
		if name == "" {
			continue
		}
		e, ok := h.elements[name]
		if !ok {
			return nil, fmt.Errorf("element %q was never created", name)
		}
		if name == step.Element {
			target = e
		}
	}

	switch step.Op {
	case OpAddVertex:
		e, err := h.graph.AddVertex(ctx)
		if err != nil {
			return nil, err
		}
		h.elements[step.As] = e
		return map[string]any{"identity": identityString(e)}, nil

	case OpAddEdge:
		e, err := h.graph.AddEdge(ctx, h.elements[step.Out], h.elements[step.In], step.Label)
		if err != nil {
			return nil, err
		}
		h.elements[step.As] = e
		return map[string]any{"identity": identityString(e)}, nil

	case OpSet:
		v, err := value.FromAny(step.Value)
		if err != nil {
			return nil, &graph.Error{Code: graph.ErrCodeInvalid, Op: "set_property", Err: err}
		}
		e := target
		if err := e.SetProperty(ctx, step.Key, v); err != nil {
			return nil, err
		}
		return map[string]any{"identity": identityString(e)}, nil

	case OpRemove:
		old, found, err := target.RemoveProperty(ctx, step.Key)
		if err != nil {
			return nil, err
		}
		return foundResult(old, found), nil

	case OpGet:
		v, found := target.Property(step.Key)
		return foundResult(v, found), nil

	case OpKeys:
		keys := target.PropertyKeys()
		list := make([]any, len(keys))
		for i, k := range keys {
			list[i] = k
		}
		return map[string]any{"keys": list}, nil

	case OpID:
		id, err := target.ID(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"identity": id.String()}, nil

	case OpSave:
		e := target
		if err := e.Save(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"identity": identityString(e)}, nil

	case OpDelete:
		return nil, target.Delete(ctx)

	case OpLookup:
		v, err := value.FromAny(step.Value)
		if err != nil {
			return nil, &graph.Error{Code: graph.ErrCodeInvalid, Op: "lookup", Err: err}
		}
		elems, err := h.graph.Lookup(ctx, step.Key, v)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ids": elementIDs(elems)}, nil

	case OpUpdate:
		err := h.graph.Update(ctx, func(ctx context.Context) error {
			for i, inner := range step.Steps {
				if err := h.executeStep(ctx, inner, depth+1, fmt.Sprintf("%s.steps[%d]", where, i), result); err != nil {
					return err
				}
			}
			if step.Rollback {
				return errRollbackRequested
			}
			return nil
		})
		return nil, err

	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}

// captureState records every persisted element and index association.
// Index entries are ordered by key, canonical value and element id so the
// order does not depend on value hashes.
func (h *Harness) captureState(ctx context.Context, result *Result) error {
	elems, err := h.graph.Elements(ctx)
	if err != nil {
		return err
	}
	for _, e := range elems {
		rid, _ := e.Identity().RecordID()
		props := make(map[string]any)
		for k, v := range e.Properties() {
			props[k] = value.ToAny(v)
		}
		result.Elements = append(result.Elements, ElementState{
			ID:         int64(rid),
			Kind:       string(e.Kind()),
			Label:      e.Label(),
			Out:        int64(e.OutID()),
			In:         int64(e.InID()),
			Properties: props,
		})
	}

	entries, err := h.graph.IndexEntries(ctx)
	if err != nil {
		return err
	}
	type keyed struct {
		canon string
		state IndexState
	}
	rows := make([]keyed, 0, len(entries))
	for _, entry := range entries {
		canon, err := value.MarshalCanonical(entry.Value)
		if err != nil {
			return err
		}
		rows = append(rows, keyed{
			canon: string(canon),
			state: IndexState{Key: entry.Key, Value: value.ToAny(entry.Value), ElementID: int64(entry.ElementID)},
		})
	}
	slices.SortFunc(rows, func(a, b keyed) int {
		if c := strings.Compare(a.state.Key, b.state.Key); c != 0 {
			return c
		}
		if c := strings.Compare(a.canon, b.canon); c != 0 {
			return c
		}
		return int(a.state.ElementID - b.state.ElementID)
	})
	for _, r := range rows {
		result.Index = append(result.Index, r.state)
	}
	return nil
}

// stepArgs returns the arguments recorded in the trace.
func stepArgs(step Step) map[string]any {
	args := make(map[string]any)
	if step.As != "" {
		args["as"] = step.As
	}
	if step.Key != "" {
		args["key"] = step.Key
	}
	if step.Value != nil {
		args["value"] = step.Value
	}
	if step.Out != "" {
		args["out"] = step.Out
	}
	if step.In != "" {
		args["in"] = step.In
	}
	if step.Label != "" {
		args["label"] = step.Label
	}
	if step.Rollback {
		args["rollback"] = true
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// outcome maps an operation error to its trace outcome.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, errRollbackRequested) {
		return "rolled_back"
	}
	var gerr *graph.Error
	if errors.As(err, &gerr) {
		return string(gerr.Code)
	}
	return "error"
}

// identityString renders an element's identity for the trace. Transient
// tokens are process-global, so they are not recorded.
func identityString(e *graph.Element) string {
	id := e.Identity()
	if id.IsTransient() {
		return "transient"
	}
	return id.String()
}

func foundResult(v value.Value, found bool) map[string]any {
	res := map[string]any{"found": found}
	if found {
		res["value"] = value.ToAny(v)
	}
	return res
}

func elementIDs(elems []*graph.Element) []any {
	ids := make([]any, 0, len(elems))
	for _, e := range elems {
		rid, _ := e.Identity().RecordID()
		ids = append(ids, int64(rid))
	}
	return ids
}
