package graph

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for element operations and the
// identity cache. A nil *Metrics records nothing.
type Metrics struct {
	ops *prometheus.CounterVec

	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	cacheSets    prometheus.Counter
	cacheDeletes prometheus.Counter
	cacheSize    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txgraph",
			Subsystem: "element",
			Name:      "operations_total",
			Help:      "Element operations by name and outcome (commit or rollback)",
		}, []string{"op", "outcome"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txgraph",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of identity cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txgraph",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of identity cache misses",
		}),
		cacheSets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txgraph",
			Subsystem: "cache",
			Name:      "sets_total",
			Help:      "Total number of elements registered in the identity cache",
		}),
		cacheDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txgraph",
			Subsystem: "cache",
			Name:      "deletes_total",
			Help:      "Total number of elements removed from the identity cache",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txgraph",
			Subsystem: "cache",
			Name:      "size",
			Help:      "Current number of live elements in the identity cache",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.ops, m.cacheHits, m.cacheMisses, m.cacheSets, m.cacheDeletes, m.cacheSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordOp(op, outcome string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) recordHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) recordMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) recordSet(size int) {
	if m == nil {
		return
	}
	m.cacheSets.Inc()
	m.cacheSize.Set(float64(size))
}

func (m *Metrics) recordDelete(size int) {
	if m == nil {
		return
	}
	m.cacheDeletes.Inc()
	m.cacheSize.Set(float64(size))
}
