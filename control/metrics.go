// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for connections, probes and batches, held in a
// private registry so several servers (and tests) can coexist in one process.

package control

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/hioload-probe/fanout"
	"github.com/momentics/hioload-probe/probe"
)

const namespace = "hioload_probe"

// Metrics records service telemetry. It implements fanout.Observer.
type Metrics struct {
	registry *prometheus.Registry

	connsAccepted    prometheus.Counter
	connsActive      prometheus.Gauge
	connsClosed      *prometheus.CounterVec
	responsesDropped prometheus.Counter
	probes           *prometheus.CounterVec
	probeDuration    prometheus.Histogram
	batches          prometheus.Counter
	batchFailed      prometheus.Histogram

	mu        sync.RWMutex
	lastBatch fanout.Summary
	updated   time.Time
}

var _ fanout.Observer = (*Metrics)(nil)

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted client connections",
		}),
		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Current number of open client connections",
		}),
		connsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Closed client connections by reason",
		}, []string{"reason"}),
		responsesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_dropped_total",
			Help:      "Aggregate results discarded because their connection was already closed",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Outbound probes by outcome",
		}, []string{"outcome"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Elapsed time of successful probes",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 13),
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Completed fan-out batches",
		}),
		batchFailed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_failed_slots",
			Help:      "Failed slots per completed batch",
			Buckets:   prometheus.LinearBuckets(0, 1, 8),
		}),
	}
	m.registry.MustRegister(
		m.connsAccepted,
		m.connsActive,
		m.connsClosed,
		m.responsesDropped,
		m.probes,
		m.probeDuration,
		m.batches,
		m.batchFailed,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConnAccepted records a new connection.
func (m *Metrics) ConnAccepted() {
	m.connsAccepted.Inc()
	m.connsActive.Inc()
}

// ConnClosed records a closed connection and why.
func (m *Metrics) ConnClosed(reason string) {
	m.connsActive.Dec()
	m.connsClosed.WithLabelValues(reason).Inc()
}

// ResponseDropped records a result that arrived for a closed connection.
func (m *Metrics) ResponseDropped() {
	m.responsesDropped.Inc()
}

// ObserveProbe implements fanout.Observer.
func (m *Metrics) ObserveProbe(res probe.Result) {
	if !res.OK() {
		m.probes.WithLabelValues("failed").Inc()
		return
	}
	m.probes.WithLabelValues("ok").Inc()
	m.probeDuration.Observe(res.Elapsed.Seconds())
}

// ObserveBatch implements fanout.Observer.
func (m *Metrics) ObserveBatch(agg fanout.AggregateResult) {
	s := agg.Summary()
	m.batches.Inc()
	m.batchFailed.Observe(float64(s.Failed))

	m.mu.Lock()
	m.lastBatch = s
	m.updated = time.Now()
	m.mu.Unlock()
}

// LastBatch returns the summary of the most recent batch and when it completed.
func (m *Metrics) LastBatch() (fanout.Summary, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBatch, m.updated
}
