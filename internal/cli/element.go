package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/txgraph/internal/graph"
	"github.com/roach88/txgraph/internal/value"
)

// elementView is the output form of an element.
type elementView struct {
	ID         int64          `json:"id"`
	Kind       string         `json:"kind"`
	Label      string         `json:"label,omitempty"`
	Out        int64          `json:"out,omitempty"`
	In         int64          `json:"in,omitempty"`
	Properties map[string]any `json:"properties"`
}

func viewOf(e *graph.Element) elementView {
	rid, _ := e.Identity().RecordID()
	props := make(map[string]any)
	for k, v := range e.Properties() {
		props[k] = value.ToAny(v)
	}
	return elementView{
		ID:         int64(rid),
		Kind:       string(e.Kind()),
		Label:      e.Label(),
		Out:        int64(e.OutID()),
		In:         int64(e.InID()),
		Properties: props,
	}
}

// String renders `#1 vertex name="Alice"` or
// `#3 edge knows #1->#2 since=2020`.
func (v elementView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s", v.ID, v.Kind)
	if v.Kind == string(graph.KindEdge) {
		fmt.Fprintf(&b, " %s #%d->#%d", v.Label, v.Out, v.In)
	}
	obj, err := value.FromAny(v.Properties)
	if err != nil {
		return b.String()
	}
	props := obj.(value.Object)
	for _, k := range props.SortedKeys() {
		fmt.Fprintf(&b, " %s=%s", k, formatValue(props[k]))
	}
	return b.String()
}

type elementList []elementView

func (l elementList) String() string {
	if len(l) == 0 {
		return "(none)"
	}
	lines := make([]string, len(l))
	for i, v := range l {
		lines[i] = v.String()
	}
	return strings.Join(lines, "\n")
}

func viewsOf(elems []*graph.Element) elementList {
	out := make(elementList, len(elems))
	for i, e := range elems {
		out[i] = viewOf(e)
	}
	return out
}

// propertyView is the output of get and rm.
type propertyView struct {
	ID    int64  `json:"id"`
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
	Found bool   `json:"found"`
}

func (p propertyView) String() string {
	if !p.Found {
		return fmt.Sprintf("#%d %s (not set)", p.ID, p.Key)
	}
	v, err := value.FromAny(p.Value)
	if err != nil {
		return fmt.Sprintf("#%d %s=%v", p.ID, p.Key, p.Value)
	}
	return fmt.Sprintf("#%d %s=%s", p.ID, p.Key, formatValue(v))
}

type keysView struct {
	ID   int64    `json:"id"`
	Keys []string `json:"keys"`
}

func (k keysView) String() string {
	return strings.Join(k.Keys, "\n")
}

type messageView struct {
	Message string `json:"message"`
}

func (m messageView) String() string {
	return m.Message
}

func formatValue(v value.Value) string {
	data, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprint(value.ToAny(v))
	}
	return string(data)
}

// parseProps turns repeated key=value flags into an ordered list. Values
// are parsed as JSON when possible and taken as strings otherwise.
func parseProps(raw []string) ([]string, []value.Value, error) {
	keys := make([]string, 0, len(raw))
	vals := make([]value.Value, 0, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --prop %q: want key=value", kv))
		}
		keys = append(keys, k)
		vals = append(vals, value.Parse(v))
	}
	return keys, vals, nil
}

func setAll(ctx context.Context, e *graph.Element, keys []string, vals []value.Value) error {
	for i, k := range keys {
		if err := e.SetProperty(ctx, k, vals[i]); err != nil {
			return err
		}
	}
	return nil
}

// NewVertexCommand creates the vertex command group.
func NewVertexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vertex",
		Short: "Vertex operations",
	}

	var props []string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a vertex",
		Long: `Create and save a vertex, optionally with properties.

All properties are written in one transaction.

Example:
  txgraph vertex add --prop name=Alice --prop age=30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, vals, err := parseProps(props)
			if err != nil {
				return reportExit(newFormatter(cmd, rootOpts), err)
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				var v *graph.Element
				err := s.graph.Update(ctx, func(ctx context.Context) error {
					var err error
					if v, err = s.graph.AddVertex(ctx); err != nil {
						return err
					}
					if err := setAll(ctx, v, keys, vals); err != nil {
						return err
					}
					_, err = v.ID(ctx)
					return err
				})
				if err != nil {
					return err
				}
				return out.Success(viewOf(v))
			})
		},
	}
	add.Flags().StringArrayVarP(&props, "prop", "p", nil, "property as key=value (repeatable)")

	cmd.AddCommand(add)
	return cmd
}

// NewEdgeCommand creates the edge command group.
func NewEdgeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Edge operations",
	}

	var props []string
	add := &cobra.Command{
		Use:   "add <out-id> <in-id> <label>",
		Short: "Create an edge between two vertices",
		Long: `Create and save an edge from <out-id> to <in-id>.

Example:
  txgraph edge add 1 2 knows --prop since=2020`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, vals, err := parseProps(props)
			if err != nil {
				return reportExit(newFormatter(cmd, rootOpts), err)
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				var e *graph.Element
				err := s.graph.Update(ctx, func(ctx context.Context) error {
					from, err := s.element(ctx, args[0])
					if err != nil {
						return err
					}
					to, err := s.element(ctx, args[1])
					if err != nil {
						return err
					}
					if e, err = s.graph.AddEdge(ctx, from, to, args[2]); err != nil {
						return err
					}
					return setAll(ctx, e, keys, vals)
				})
				if err != nil {
					return err
				}
				return out.Success(viewOf(e))
			})
		},
	}
	add.Flags().StringArrayVarP(&props, "prop", "p", nil, "property as key=value (repeatable)")

	cmd.AddCommand(add)
	return cmd
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <id> <key> <value>",
		Short: "Set a property",
		Long: `Set a property, saving the element and updating the index.

The value is parsed as JSON when possible (numbers, booleans, arrays,
objects) and taken as a string otherwise.

Examples:
  txgraph set 1 name Alice
  txgraph set 1 age 30
  txgraph set 1 tags '["a","b"]'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				e, err := s.element(ctx, args[0])
				if err != nil {
					return err
				}
				if err := e.SetProperty(ctx, args[1], value.Parse(args[2])); err != nil {
					return err
				}
				return out.Success(viewOf(e))
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id> <key>",
		Short: "Print a property value",
		Long: `Print a property value. Exits 1 if the property is not set.

Example:
  txgraph get 1 name`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				e, err := s.element(ctx, args[0])
				if err != nil {
					return err
				}
				v, ok := e.Property(args[1])
				if !ok {
					return &graph.Error{
						Code:     graph.ErrCodeNotFound,
						Op:       "get_property",
						Identity: e.Identity(),
						Err:      fmt.Errorf("property %q is not set", args[1]),
					}
				}
				rid, _ := e.Identity().RecordID()
				return out.Success(propertyView{ID: int64(rid), Key: args[1], Value: value.ToAny(v), Found: true})
			})
		},
	}
}

// NewKeysCommand creates the keys command.
func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keys <id>",
		Short: "List property keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				e, err := s.element(ctx, args[0])
				if err != nil {
					return err
				}
				rid, _ := e.Identity().RecordID()
				return out.Success(keysView{ID: int64(rid), Keys: e.PropertyKeys()})
			})
		},
	}
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id> <key>",
		Short: "Remove a property",
		Long: `Remove a property and its index entry, printing the old value.
Removing a property that is not set changes nothing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				e, err := s.element(ctx, args[0])
				if err != nil {
					return err
				}
				old, found, err := e.RemoveProperty(ctx, args[1])
				if err != nil {
					return err
				}
				rid, _ := e.Identity().RecordID()
				view := propertyView{ID: int64(rid), Key: args[1], Found: found}
				if found {
					view.Value = value.ToAny(old)
				}
				return out.Success(view)
			})
		},
	}
}

// NewIDCommand creates the id command.
func NewIDCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "id <id>",
		Short: "Print an element's persisted identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				e, err := s.element(ctx, args[0])
				if err != nil {
					return err
				}
				id, err := e.ID(ctx)
				if err != nil {
					return err
				}
				return out.Success(messageView{Message: id.String()})
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an element and its index entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				e, err := s.element(ctx, args[0])
				if err != nil {
					return err
				}
				ident := e.Identity()
				if err := e.Delete(ctx); err != nil {
					return err
				}
				return out.Success(messageView{Message: fmt.Sprintf("deleted %s", ident)})
			})
		},
	}
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <key> <value>",
		Short: "Find elements by property value",
		Long: `Find the elements whose property <key> equals <value>, using the
index. The value is parsed the same way as for set.

Examples:
  txgraph lookup name Alice
  txgraph lookup label knows`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				elems, err := s.graph.Lookup(ctx, args[0], value.Parse(args[1]))
				if err != nil {
					return err
				}
				return out.Success(viewsOf(elems))
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every element",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				elems, err := s.graph.Elements(ctx)
				if err != nil {
					return err
				}
				return out.Success(viewsOf(elems))
			})
		},
	}
}

// NewReindexCommand creates the reindex command.
func NewReindexCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from the stored elements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, out *OutputFormatter) error {
				if err := s.graph.Reindex(ctx); err != nil {
					return err
				}
				entries, err := s.graph.IndexEntries(ctx)
				if err != nil {
					return err
				}
				return out.Success(messageView{Message: fmt.Sprintf("reindexed %d entries", len(entries))})
			})
		},
	}
}
