// Package metrics exposes Prometheus instrumentation for the monitor:
// cycle counts and durations, parser drop counters, alert counters, and
// session byte totals.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all SentryBar collectors on a private registry so tests
// can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal       prometheus.Counter
	CycleDuration     prometheus.Histogram
	MeasurementsTotal prometheus.Counter

	Connections           prometheus.Gauge
	SuspiciousConnections prometheus.Gauge
	BlockedConnections    prometheus.Gauge

	DroppedLinesTotal  *prometheus.CounterVec
	EmptyCapturesTotal *prometheus.CounterVec

	AlertsTotal *prometheus.CounterVec

	SessionBytesTotal *prometheus.CounterVec

	Rules *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentrybar_cycles_total",
			Help: "Completed sampling cycles.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentrybar_cycle_duration_seconds",
			Help:    "Wall-clock duration of one sampling cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		MeasurementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentrybar_bandwidth_measurements_total",
			Help: "Completed bandwidth measurement windows.",
		}),

		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentrybar_connections",
			Help: "Connections observed in the most recent cycle.",
		}),
		SuspiciousConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentrybar_suspicious_connections",
			Help: "Effectively suspicious connections in the most recent cycle.",
		}),
		BlockedConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentrybar_blocked_connections",
			Help: "Blocked-classified connections in the most recent cycle.",
		}),

		DroppedLinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentrybar_parser_dropped_lines_total",
			Help: "Tool-output lines or rows dropped as unparseable.",
		}, []string{"parser"}),
		EmptyCapturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentrybar_tool_empty_captures_total",
			Help: "Tool invocations that produced no output (failure, timeout, or genuinely empty).",
		}, []string{"tool"}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentrybar_alerts_total",
			Help: "Alerts raised, by type.",
		}, []string{"type"}),

		SessionBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentrybar_session_bytes_total",
			Help: "Cumulative observed traffic since monitor start, by direction.",
		}, []string{"direction"}),

		Rules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentrybar_rules",
			Help: "Configured rules, by type.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.MeasurementsTotal,
		m.Connections,
		m.SuspiciousConnections,
		m.BlockedConnections,
		m.DroppedLinesTotal,
		m.EmptyCapturesTotal,
		m.AlertsTotal,
		m.SessionBytesTotal,
		m.Rules,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
