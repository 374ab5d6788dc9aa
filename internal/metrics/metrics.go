// Package metrics exposes Prometheus collectors for the chat server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	activeConnections prometheus.Gauge
	connectionsOpened *prometheus.CounterVec // by transport
	connectionsClosed prometheus.Counter
	activeUsers       prometheus.Gauge

	// Request metrics
	framesReceived *prometheus.CounterVec // by command
	responses      *prometheus.CounterVec // by status code

	// Routing metrics
	deliveries      *prometheus.CounterVec // by kind and result
	broadcastFanout prometheus.Histogram
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "linechat_active_connections",
			Help: "Current number of open connections",
		}),
		connectionsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_connections_opened_total",
			Help: "Total number of accepted connections by transport",
		}, []string{"transport"}),
		connectionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "linechat_connections_closed_total",
			Help: "Total number of closed connections",
		}),
		activeUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "linechat_active_users",
			Help: "Current number of joined users",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_frames_received_total",
			Help: "Total number of request frames received by command",
		}, []string{"command"}),
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_responses_total",
			Help: "Total number of responses sent by status code",
		}, []string{"code"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_deliveries_total",
			Help: "Total number of pushed message frames by kind and result",
		}, []string{"kind", "result"}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "linechat_broadcast_fanout",
			Help:    "Number of connections that received each broadcast",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened(transport string) {
	if m == nil {
		return
	}
	m.connectionsOpened.WithLabelValues(transport).Inc()
	m.activeConnections.Inc()
}

// ConnectionClosed records a finished connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
	m.activeConnections.Dec()
}

// UserJoined records a successful JOIN.
func (m *Metrics) UserJoined() {
	if m == nil {
		return
	}
	m.activeUsers.Inc()
}

// UserLeft records the removal of a joined user.
func (m *Metrics) UserLeft() {
	if m == nil {
		return
	}
	m.activeUsers.Dec()
}

// FrameReceived counts a request frame.
func (m *Metrics) FrameReceived(command string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(command).Inc()
}

// ResponseSent counts a response by its status code.
func (m *Metrics) ResponseSent(code string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(code).Inc()
}

// Delivery counts one pushed frame. kind is "broadcast" or "direct".
func (m *Metrics) Delivery(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.deliveries.WithLabelValues(kind, result).Inc()
}

// BroadcastFanout records how many connections received a broadcast.
func (m *Metrics) BroadcastFanout(recipients int) {
	if m == nil {
		return
	}
	m.broadcastFanout.Observe(float64(recipients))
}
