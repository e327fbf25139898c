// Package metrics provides Prometheus metrics for the udptun agent and relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "udptun"
)

// Directions used as label values.
const (
	DirectionOutbound = "outbound" // local application -> destination
	DirectionInbound  = "inbound"  // destination -> local application
)

// Drop reasons used as label values.
const (
	DropDecode        = "decode"
	DropEncode        = "encode"
	DropLookupMiss    = "lookup_miss"
	DropUnknownSource = "unknown_source"
	DropRateLimited   = "rate_limited"
	DropSessionLimit  = "session_limit"
	DropSendError     = "send_error"
	DropResolve       = "resolve"
	DropInject        = "inject"
	DropNotUDP        = "not_udp"
	DropPortDenied    = "port_denied"
	DropOversize      = "oversize"
)

// Session close reasons used as label values.
const (
	CloseReceiveError = "receive_error"
	CloseIdle         = "idle"
	CloseShutdown     = "shutdown"
)

// Metrics contains all Prometheus metrics for a tunnel endpoint.
//
// All Record* helpers are safe to call on a nil *Metrics, which lets components
// run without metrics in tests.
type Metrics struct {
	// Tunnel link traffic
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	BytesSent      *prometheus.CounterVec
	BytesReceived  *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec

	// Relay sessions
	SessionsActive  prometheus.Gauge
	SessionsOpened  prometheus.Counter
	SessionsClosed  *prometheus.CounterVec
	SessionLifetime prometheus.Histogram

	// Agent translation table
	TranslationEntries prometheus.Gauge
	TranslationExpired prometheus.Counter

	// Supervision
	LoopRestarts *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total datagrams sent by direction",
		}, []string{"direction"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total datagrams received by direction",
		}, []string{"direction"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes sent by direction",
		}, []string{"direction"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received by direction",
		}, []string{"direction"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total datagrams dropped by reason",
		}, []string{"reason"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active relay sessions",
		}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total relay sessions created",
		}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total relay sessions closed by reason",
		}, []string{"reason"}),
		SessionLifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_lifetime_seconds",
			Help:      "Histogram of relay session lifetimes",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 14400},
		}),

		TranslationEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "translation_entries",
			Help:      "Number of entries in the agent translation table",
		}),
		TranslationExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_expired_total",
			Help:      "Total translation entries removed by expiry",
		}),

		LoopRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_restarts_total",
			Help:      "Total supervised loop restarts by loop name",
		}, []string{"loop"}),
	}

	return m
}

// RecordSent records one datagram of n payload bytes sent in direction.
func (m *Metrics) RecordSent(direction string, n int) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(direction).Inc()
	m.BytesSent.WithLabelValues(direction).Add(float64(n))
}

// RecordReceived records one datagram of n payload bytes received in direction.
func (m *Metrics) RecordReceived(direction string, n int) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(direction).Inc()
	m.BytesReceived.WithLabelValues(direction).Add(float64(n))
}

// RecordDrop records a dropped datagram.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordSessionOpen records a new relay session.
func (m *Metrics) RecordSessionOpen() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsOpened.Inc()
}

// RecordSessionClose records a relay session ending after lifetimeSeconds.
func (m *Metrics) RecordSessionClose(reason string, lifetimeSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionLifetime.Observe(lifetimeSeconds)
}

// SetTranslationEntries sets the translation table size.
func (m *Metrics) SetTranslationEntries(count int) {
	if m == nil {
		return
	}
	m.TranslationEntries.Set(float64(count))
}

// RecordTranslationExpired records entries removed by expiry.
func (m *Metrics) RecordTranslationExpired(count int) {
	if m == nil {
		return
	}
	m.TranslationExpired.Add(float64(count))
}

// RecordLoopRestart records a supervised restart of the named loop.
func (m *Metrics) RecordLoopRestart(loop string) {
	if m == nil {
		return
	}
	m.LoopRestarts.WithLabelValues(loop).Inc()
}
