package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docrelay"

// RelayMetrics instruments the relay server and channel registry.
type RelayMetrics struct {
	peers          prometheus.Gauge
	channels       prometheus.Gauge
	joins          prometheus.Counter
	routed         *prometheus.CounterVec
	delivered      prometheus.Counter
	dropped        *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
}

// NewRelayMetrics creates and registers relay metrics.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return nil
	}

	m := &RelayMetrics{
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "peers_connected",
			Help:      "Number of currently connected sockets.",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "channels_active",
			Help:      "Number of channels with at least one member.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "joins_total",
			Help:      "Total successful channel joins.",
		}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "envelopes_routed_total",
			Help:      "Envelopes accepted for routing, by envelope type.",
		}, []string{"type"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "envelopes_delivered_total",
			Help:      "Envelope copies queued to channel peers.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes or copies that were not delivered, by reason.",
		}, []string{"reason"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "protocol_errors_total",
			Help:      "Malformed or rejected inbound envelopes, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.peers, m.channels, m.joins, m.routed, m.delivered, m.dropped, m.protocolErrors)
	return m
}

func (m *RelayMetrics) PeerConnected() {
	if m != nil {
		m.peers.Inc()
	}
}

func (m *RelayMetrics) PeerDisconnected() {
	if m != nil {
		m.peers.Dec()
	}
}

func (m *RelayMetrics) SetChannels(n int) {
	if m != nil {
		m.channels.Set(float64(n))
	}
}

func (m *RelayMetrics) Joined() {
	if m != nil {
		m.joins.Inc()
	}
}

// Routed records one routed envelope and the number of peers it reached.
func (m *RelayMetrics) Routed(envType string, delivered int) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(envType).Inc()
	m.delivered.Add(float64(delivered))
	if delivered == 0 {
		m.dropped.WithLabelValues("no_peers").Inc()
	}
}

func (m *RelayMetrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *RelayMetrics) ProtocolError(reason string) {
	if m != nil {
		m.protocolErrors.WithLabelValues(reason).Inc()
	}
}

// ConnectionMetrics instruments resilient client connections. Series are
// labelled by connection name so several connections can share a registry.
type ConnectionMetrics struct {
	connected         *prometheus.GaugeVec
	stateChanges      *prometheus.CounterVec
	reconnectAttempts *prometheus.CounterVec
	heartbeatTimeouts *prometheus.CounterVec
	healthProbes      *prometheus.CounterVec
}

// NewConnectionMetrics creates and registers connection metrics.
func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	if reg == nil {
		return nil
	}

	m := &ConnectionMetrics{
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "connected",
			Help:      "1 while the connection is in the Connected state.",
		}, []string{"conn"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state_changes_total",
			Help:      "State transitions, by target state.",
		}, []string{"conn", "state"}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts.",
		}, []string{"conn"}),
		heartbeatTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections torn down for missing liveness acks.",
		}, []string{"conn"}),
		healthProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "health_probes_total",
			Help:      "Out-of-band reachability probes, by result.",
		}, []string{"conn", "result"}),
	}

	reg.MustRegister(m.connected, m.stateChanges, m.reconnectAttempts, m.heartbeatTimeouts, m.healthProbes)
	return m
}

func (m *ConnectionMetrics) StateChanged(conn, state string, connected bool) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(conn, state).Inc()
	v := 0.0
	if connected {
		v = 1
	}
	m.connected.WithLabelValues(conn).Set(v)
}

func (m *ConnectionMetrics) ReconnectScheduled(conn string) {
	if m != nil {
		m.reconnectAttempts.WithLabelValues(conn).Inc()
	}
}

func (m *ConnectionMetrics) HeartbeatTimeout(conn string) {
	if m != nil {
		m.heartbeatTimeouts.WithLabelValues(conn).Inc()
	}
}

func (m *ConnectionMetrics) HealthProbe(conn string, healthy bool) {
	if m == nil {
		return
	}
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	m.healthProbes.WithLabelValues(conn, result).Inc()
}

// Outcome labels for completed requests.
const (
	OutcomeSuccess      = "success"
	OutcomeCommandError = "command_error"
	OutcomeTimeout      = "timeout"
	OutcomeClosed       = "connection_closed"
	OutcomeCanceled     = "canceled"
)

// RPCMetrics instruments the request correlator and progress stream.
type RPCMetrics struct {
	pending         prometheus.Gauge
	completed       *prometheus.CounterVec
	latency         prometheus.Histogram
	progress        prometheus.Counter
	progressDropped prometheus.Counter
	duplicates      prometheus.Counter
}

// NewRPCMetrics creates and registers correlator metrics.
func NewRPCMetrics(reg prometheus.Registerer) *RPCMetrics {
	if reg == nil {
		return nil
	}

	m := &RPCMetrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "pending_requests",
			Help:      "Requests awaiting a terminal response.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_completed_total",
			Help:      "Finished requests, by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Time from send to terminal outcome.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		progress: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "progress_events_total",
			Help:      "Progress notifications received.",
		}),
		progressDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "progress_events_dropped_total",
			Help:      "Progress notifications dropped because a subscriber was full.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "unmatched_responses_total",
			Help:      "Terminal responses with no pending request (late or duplicate).",
		}),
	}

	reg.MustRegister(m.pending, m.completed, m.latency, m.progress, m.progressDropped, m.duplicates)
	return m
}

func (m *RPCMetrics) SetPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *RPCMetrics) Completed(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(outcome).Inc()
	m.latency.Observe(elapsed.Seconds())
}

func (m *RPCMetrics) Progress() {
	if m != nil {
		m.progress.Inc()
	}
}

func (m *RPCMetrics) ProgressDropped() {
	if m != nil {
		m.progressDropped.Inc()
	}
}

func (m *RPCMetrics) Unmatched() {
	if m != nil {
		m.duplicates.Inc()
	}
}
