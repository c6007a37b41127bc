// Package metrics provides Prometheus metrics for the proxy server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dualproxy"

// Metrics contains all Prometheus metrics for the proxy.
type Metrics struct {
	ConnectionsActive *prometheus.GaugeVec
	ConnectionsTotal  *prometheus.CounterVec
	ConnectErrors     *prometheus.CounterVec
	UnknownPreambles  prometheus.Counter

	TunnelBytes    *prometheus.CounterVec
	TunnelDuration *prometheus.HistogramVec

	DialLatency prometheus.Histogram
	DialReplies *prometheus.CounterVec

	AcceptBackoffs prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance, registered against
// the default Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the
// default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry, used by tests that want an isolated registry per case.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of connections currently being served, by protocol label",
		}, []string{"label"}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total connections accepted, by protocol label",
		}, []string{"label"}),
		ConnectErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_errors_total",
			Help:      "Total errors handling a connection, by protocol label and reason",
		}, []string{"label", "reason"}),
		UnknownPreambles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_preambles_total",
			Help:      "Total connections whose first byte matched neither SOCKS5 nor HTTP",
		}),

		TunnelBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnel_bytes_total",
			Help:      "Total bytes relayed through tunnels, by direction",
		}, []string{"direction"}),
		TunnelDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tunnel_duration_seconds",
			Help:      "Histogram of tunnel lifetime, by protocol label",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"label"}),

		DialLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dial_latency_seconds",
			Help:      "Histogram of outbound dial latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DialReplies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_replies_total",
			Help:      "Total outbound dial outcomes, by SOCKS5 reply code",
		}, []string{"reply"}),

		AcceptBackoffs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_backoffs_total",
			Help:      "Total times the accept loop paused after a non-transient accept error",
		}),
	}
}

// RecordAccepted increments the active and total connection counters for
// a newly accepted connection.
func (m *Metrics) RecordAccepted(label string) {
	m.ConnectionsActive.WithLabelValues(label).Inc()
	m.ConnectionsTotal.WithLabelValues(label).Inc()
}

// RecordClosed decrements the active connection gauge once a connection's
// handler returns.
func (m *Metrics) RecordClosed(label string) {
	m.ConnectionsActive.WithLabelValues(label).Dec()
}

// RecordError records a named failure reason for a protocol label.
func (m *Metrics) RecordError(label, reason string) {
	m.ConnectErrors.WithLabelValues(label, reason).Inc()
}

// RecordTunnelBytes records bytes relayed in one direction of a tunnel.
func (m *Metrics) RecordTunnelBytes(direction string, n int64) {
	if n <= 0 {
		return
	}
	m.TunnelBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordTunnelDuration records how long a tunnel stayed open.
func (m *Metrics) RecordTunnelDuration(label string, seconds float64) {
	m.TunnelDuration.WithLabelValues(label).Observe(seconds)
}

// RecordDial records the latency and reply outcome of an outbound dial.
func (m *Metrics) RecordDial(latencySeconds float64, reply string) {
	m.DialLatency.Observe(latencySeconds)
	m.DialReplies.WithLabelValues(reply).Inc()
}

// RecordAcceptBackoff records the accept loop pausing after a
// non-transient error.
func (m *Metrics) RecordAcceptBackoff() {
	m.AcceptBackoffs.Inc()
}
