// Package metrics provides a plugin that exports session, flush and
// transaction counters to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/datastore/id"
	"github.com/xraph/datastore/pending"
	"github.com/xraph/datastore/plugin"
)

// Compile-time hook checks.
var (
	_ plugin.Plugin               = (*Plugin)(nil)
	_ plugin.SessionOpened        = (*Plugin)(nil)
	_ plugin.SessionClosed        = (*Plugin)(nil)
	_ plugin.AfterFlush           = (*Plugin)(nil)
	_ plugin.FlushFailed          = (*Plugin)(nil)
	_ plugin.EntityPersisted      = (*Plugin)(nil)
	_ plugin.EntityDeleted        = (*Plugin)(nil)
	_ plugin.TransactionCompleted = (*Plugin)(nil)
)

// Plugin records datastore activity as Prometheus metrics.
type Plugin struct {
	sessionsOpen  prometheus.Gauge
	sessionsTotal *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	flushDuration prometheus.Histogram
	operations    *prometheus.CounterVec
	entityWrites  *prometheus.CounterVec
	transactions  *prometheus.CounterVec
	namespace     string
	registerer    prometheus.Registerer
	flushBuckets  []float64
}

// Option configures the metrics plugin.
type Option func(*Plugin)

// WithNamespace sets the metric namespace. Defaults to "datastore".
func WithNamespace(ns string) Option { return func(p *Plugin) { p.namespace = ns } }

// WithRegisterer sets the registry metrics are registered with. Defaults to
// prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option { return func(p *Plugin) { p.registerer = r } }

// WithFlushBuckets sets the flush duration histogram buckets in seconds.
func WithFlushBuckets(b []float64) Option { return func(p *Plugin) { p.flushBuckets = b } }

// New creates the plugin and registers its collectors.
func New(opts ...Option) (*Plugin, error) {
	p := &Plugin{
		namespace:    "datastore",
		registerer:   prometheus.DefaultRegisterer,
		flushBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.sessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      "sessions_open",
		Help:      "Number of connected sessions.",
	})
	p.sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      "sessions_total",
		Help:      "Sessions opened, by kind.",
	}, []string{"kind"})
	p.flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      "flushes_total",
		Help:      "Session flushes, by result.",
	}, []string{"result"})
	p.flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      "flush_duration_seconds",
		Help:      "Duration of successful flushes.",
		Buckets:   p.flushBuckets,
	})
	p.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      "flushed_operations_total",
		Help:      "Pending operations executed by flushes, by kind.",
	}, []string{"kind"})
	p.entityWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      "entity_writes_total",
		Help:      "Entity writes reaching the backend, by entity and kind.",
	}, []string{"entity", "kind"})
	p.transactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      "transactions_total",
		Help:      "Completed transactions, by outcome.",
	}, []string{"outcome"})

	for _, c := range p.collectors() {
		if err := p.registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Plugin) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		p.sessionsOpen,
		p.sessionsTotal,
		p.flushes,
		p.flushDuration,
		p.operations,
		p.entityWrites,
		p.transactions,
	}
}

// Collector returns the collector registered under name, without the
// namespace prefix, or nil.
func (p *Plugin) Collector(name string) prometheus.Collector {
	switch name {
	case "sessions_open":
		return p.sessionsOpen
	case "sessions_total":
		return p.sessionsTotal
	case "flushes_total":
		return p.flushes
	case "flush_duration_seconds":
		return p.flushDuration
	case "flushed_operations_total":
		return p.operations
	case "entity_writes_total":
		return p.entityWrites
	case "transactions_total":
		return p.transactions
	}
	return nil
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return "metrics" }

func (p *Plugin) OnSessionOpened(_ context.Context, _ id.SessionID, stateless bool) error {
	kind := "stateful"
	if stateless {
		kind = "stateless"
	}
	p.sessionsOpen.Inc()
	p.sessionsTotal.WithLabelValues(kind).Inc()
	return nil
}

func (p *Plugin) OnSessionClosed(_ context.Context, _ id.SessionID) error {
	p.sessionsOpen.Dec()
	return nil
}

func (p *Plugin) OnAfterFlush(_ context.Context, _ id.SessionID, stats pending.Stats, elapsed time.Duration) error {
	p.flushes.WithLabelValues("success").Inc()
	p.flushDuration.Observe(elapsed.Seconds())
	p.operations.WithLabelValues("insert").Add(float64(stats.Inserts))
	p.operations.WithLabelValues("update").Add(float64(stats.Updates))
	p.operations.WithLabelValues("delete").Add(float64(stats.Deletes))
	return nil
}

func (p *Plugin) OnFlushFailed(_ context.Context, _ id.SessionID, _ error) error {
	p.flushes.WithLabelValues("failure").Inc()
	return nil
}

func (p *Plugin) OnEntityPersisted(_ context.Context, entity string, _ any) error {
	p.entityWrites.WithLabelValues(entity, "persist").Inc()
	return nil
}

func (p *Plugin) OnEntityDeleted(_ context.Context, entity string, _ any) error {
	p.entityWrites.WithLabelValues(entity, "delete").Inc()
	return nil
}

func (p *Plugin) OnTransactionCompleted(_ context.Context, _ id.TransactionID, committed bool) error {
	outcome := "rollback"
	if committed {
		outcome = "commit"
	}
	p.transactions.WithLabelValues(outcome).Inc()
	return nil
}
