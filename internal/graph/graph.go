package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/txgraph/internal/store"
	"github.com/roach88/txgraph/internal/value"
)

// Graph is a session over one store. It owns the transaction scope, the
// index and the identity cache that every Element it hands out shares.
type Graph struct {
	store   *store.Store
	tx      TxContext
	index   Index
	cache   *IdentityCache
	metrics *Metrics
	log     *slog.Logger
}

// Option configures a Graph.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	registerer  prometheus.Registerer
	memoryIndex bool
	txIDs       store.IDGenerator
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics registers operation and cache metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithMemoryIndex keeps the index in process memory instead of the
// index_entries table. The index is rebuilt from the records on open.
func WithMemoryIndex() Option {
	return func(o *options) {
		o.memoryIndex = true
	}
}

// WithTxIDs sets the generator naming transactions in logs. Only Open
// honors it; New uses whatever the store was opened with.
func WithTxIDs(gen store.IDGenerator) Option {
	return func(o *options) {
		o.txIDs = gen
	}
}

// Open opens the store at dsn and starts a session on it. The Graph owns
// the store; Close closes both.
func Open(ctx context.Context, driver store.Driver, dsn string, opts ...Option) (*Graph, error) {
	o := applyOptions(opts)

	var txOpts []store.TxOption
	if o.txIDs != nil {
		txOpts = append(txOpts, store.WithTxIDs(o.txIDs))
	}
	st, err := store.OpenDriver(ctx, driver, dsn, txOpts...)
	if err != nil {
		return nil, err
	}
	g, err := newGraph(ctx, st, o)
	if err != nil {
		st.Close()
		return nil, err
	}
	return g, nil
}

// New starts a session on an open store.
func New(ctx context.Context, st *store.Store, opts ...Option) (*Graph, error) {
	return newGraph(ctx, st, applyOptions(opts))
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newGraph(ctx context.Context, st *store.Store, o options) (*Graph, error) {
	var metrics *Metrics
	if o.registerer != nil {
		m, err := NewMetrics(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		metrics = m
	}

	g := &Graph{
		store:   st,
		tx:      st.Tx(),
		cache:   NewIdentityCache(metrics),
		metrics: metrics,
		log:     o.logger,
	}

	if o.memoryIndex {
		mem := NewMemoryIndex(st.Tx())
		if err := mem.Rebuild(ctx, g.scanRecords); err != nil {
			return nil, err
		}
		g.index = mem
		g.log.Debug("memory index rebuilt", "entries", mem.Len())
	} else {
		g.index = st.Index()
	}
	return g, nil
}

// Close closes the underlying store.
func (g *Graph) Close() error {
	return g.store.Close()
}

// Store returns the underlying store.
func (g *Graph) Store() *store.Store {
	return g.store
}

// Cache returns the session's identity cache.
func (g *Graph) Cache() *IdentityCache {
	return g.cache
}

// Index returns the session's index.
func (g *Graph) Index() Index {
	return g.index
}

// AddVertex returns a new transient vertex registered in the cache. It is
// saved by its first SetProperty, Save or ID call.
func (g *Graph) AddVertex(_ context.Context) (*Element, error) {
	return g.wrap(g.store.NewVertex())
}

// AddEdge creates and saves an edge from out to in. Transient endpoints are
// saved first, in the same transaction.
func (g *Graph) AddEdge(ctx context.Context, out, in *Element, label string) (*Element, error) {
	const op = "add_edge"
	if label == "" {
		return nil, newError(ErrCodeInvalid, op, Identity{}, errors.New("edge label must not be empty"))
	}
	if out.Kind() != KindVertex || in.Kind() != KindVertex {
		return nil, newError(ErrCodeInvalid, op, Identity{}, errors.New("edge endpoints must be vertices"))
	}
	for _, v := range []*Element{out, in} {
		if v.Deleted() {
			return nil, newError(ErrCodeNotFound, op, v.Identity(), ErrElementDeleted)
		}
	}

	var edge *Element
	err := g.withTx(ctx, op, Identity{}, func() error {
		for _, v := range []*Element{out, in} {
			if v.Identity().IsTransient() {
				if err := v.persist(ctx); err != nil {
					return err
				}
			}
		}
		outID, _ := out.rec.RecordID()
		inID, _ := in.rec.RecordID()

		rec := g.store.NewEdge(outID, inID)
		rec.Set(LabelKey, value.String(label))
		e, err := g.wrap(rec)
		if err != nil {
			return err
		}
		transient := e.Identity()
		g.tx.AfterRollback(func() { g.cache.Remove(transient) })

		if err := e.persist(ctx); err != nil {
			return err
		}
		rid, _ := rec.RecordID()
		if err := g.index.Put(ctx, LabelKey, value.String(label), rid); err != nil {
			return err
		}
		edge = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// Element returns the live wrapper for id, loading the record on a cache
// miss.
func (g *Graph) Element(ctx context.Context, id RecordID) (*Element, error) {
	ident := Persisted(id)
	if e, ok := g.cache.Get(ident); ok {
		return e, nil
	}
	rec, err := g.store.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrCodeNotFound, "element", ident, err)
	}
	if err != nil {
		return nil, newError(ErrCodePersistence, "element", ident, err)
	}
	return g.adopt(rec)
}

// Lookup returns the elements whose property key currently equals v, in
// ascending id order.
func (g *Graph) Lookup(ctx context.Context, key string, v value.Value) ([]*Element, error) {
	ids, err := g.index.Lookup(ctx, key, v)
	if err != nil {
		return nil, newError(ErrCodePersistence, "lookup", Identity{}, err)
	}
	out := make([]*Element, 0, len(ids))
	for _, id := range ids {
		e, err := g.Element(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Elements returns every persisted element in id order.
func (g *Graph) Elements(ctx context.Context) ([]*Element, error) {
	var out []*Element
	err := g.store.Scan(ctx, func(r *store.Record) error {
		id, _ := r.RecordID()
		if e, ok := g.cache.Get(Persisted(id)); ok {
			out = append(out, e)
			return nil
		}
		e, err := g.adopt(r)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, newError(ErrCodePersistence, "elements", Identity{}, err)
	}
	return out, nil
}

// Update runs fn in one transaction. Element operations inside fn join it,
// so they commit together or not at all. Returning an error from fn rolls
// everything back.
func (g *Graph) Update(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.withTx(ctx, "update", Identity{}, func() error {
		return fn(ctx)
	})
}

// Reindex rebuilds the index from the stored records.
func (g *Graph) Reindex(ctx context.Context) error {
	return g.withTx(ctx, "reindex", Identity{}, func() error {
		if mem, ok := g.index.(*MemoryIndex); ok {
			return mem.Rebuild(ctx, g.scanRecords)
		}
		ix := g.store.Index()
		if err := ix.Clear(ctx); err != nil {
			return err
		}
		return g.scanRecords(ctx, func(r Record) error {
			id, _ := r.RecordID()
			for _, name := range r.PropertyNames() {
				v, _ := r.Get(name)
				if err := ix.Put(ctx, name, v, id); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// IndexEntries lists every association in the session's index.
func (g *Graph) IndexEntries(ctx context.Context) ([]store.IndexEntry, error) {
	var (
		entries []store.IndexEntry
		err     error
	)
	switch ix := g.index.(type) {
	case *MemoryIndex:
		entries, err = ix.Entries(ctx)
	case *store.Index:
		entries, err = ix.Entries(ctx)
	default:
		return nil, newError(ErrCodeInvalid, "index_entries", Identity{}, fmt.Errorf("index %T cannot list entries", g.index))
	}
	if err != nil {
		return nil, newError(ErrCodePersistence, "index_entries", Identity{}, err)
	}
	return entries, nil
}

func (g *Graph) scanRecords(ctx context.Context, fn func(Record) error) error {
	return g.store.Scan(ctx, func(r *store.Record) error {
		return fn(r)
	})
}

// wrap creates the Element for rec and registers it in the cache.
func (g *Graph) wrap(rec Record) (*Element, error) {
	e := &Element{g: g, rec: rec}
	if _, ok := rec.RecordID(); !ok {
		e.transient = NewTransient()
	}
	if err := g.cache.Put(e.Identity(), e); err != nil {
		return nil, newError(ErrCodeInvalid, "wrap", e.Identity(), err)
	}
	return e, nil
}

// adopt wraps a freshly loaded record, deferring to a wrapper registered
// in the meantime.
func (g *Graph) adopt(rec Record) (*Element, error) {
	e, err := g.wrap(rec)
	if err == nil {
		return e, nil
	}
	id, _ := rec.RecordID()
	if existing, ok := g.cache.Get(Persisted(id)); ok {
		return existing, nil
	}
	return nil, err
}
