// Package metrics exposes Prometheus collectors for the users register:
// statement timings, inserts, and live observers.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "users"

// Collector owns a private registry so several instances (tests, embedded
// use) never collide on the global one.
type Collector struct {
	Registry *prometheus.Registry

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	inserts       *prometheus.CounterVec
	insertLatency prometheus.Histogram
	subscriptions prometheus.Gauge
	snapshots     prometheus.Counter
}

// New builds a Collector with the Go and process collectors registered.
func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "statements_total",
				Help:      "Total number of SQL statements executed.",
			},
			[]string{"kind", "success"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "statement_duration_seconds",
				Help:      "Duration of SQL statements.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
			},
			[]string{"kind"},
		),
		inserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "inserts_total",
				Help:      "Total number of record inserts by result.",
			},
			[]string{"result"},
		),
		insertLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "insert_duration_seconds",
				Help:      "Duration of record inserts including commit.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "active_subscriptions",
				Help:      "Current number of record-list observers.",
			},
		),
		snapshots: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "snapshots_delivered_total",
				Help:      "Total number of snapshots pushed to observers.",
			},
		),
	}
	c.Registry.MustRegister(
		c.queries,
		c.queryDuration,
		c.inserts,
		c.insertLatency,
		c.subscriptions,
		c.snapshots,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Handler returns an HTTP handler exposing the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

// RecordQuery implements db.MetricsCollector.
func (c *Collector) RecordQuery(query string, d time.Duration, success bool) {
	kind := statementKind(query)
	result := "false"
	if success {
		result = "true"
	}
	c.queries.WithLabelValues(kind, result).Inc()
	c.queryDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// InsertDone implements store.Recorder.
func (c *Collector) InsertDone(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.inserts.WithLabelValues(result).Inc()
	c.insertLatency.Observe(d.Seconds())
}

// SubscriptionOpened implements store.Recorder.
func (c *Collector) SubscriptionOpened() { c.subscriptions.Inc() }

// SubscriptionClosed implements store.Recorder.
func (c *Collector) SubscriptionClosed() { c.subscriptions.Dec() }

// SnapshotsDelivered implements store.Recorder.
func (c *Collector) SnapshotsDelivered(n int) { c.snapshots.Add(float64(n)) }

// Statements, Inserts, Subscriptions and Snapshots expose the underlying
// collectors for inspection.
func (c *Collector) Statements() *prometheus.CounterVec { return c.queries }
func (c *Collector) Inserts() *prometheus.CounterVec    { return c.inserts }
func (c *Collector) Subscriptions() prometheus.Gauge    { return c.subscriptions }
func (c *Collector) Snapshots() prometheus.Counter      { return c.snapshots }

// statementKind keeps label cardinality bounded: the leading SQL keyword.
func statementKind(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "other"
	}
	switch kw := strings.ToLower(fields[0]); kw {
	case "select", "insert", "update", "delete", "create", "drop", "begin", "commit", "rollback":
		return kw
	}
	return "other"
}
