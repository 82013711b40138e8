// Package metrics exposes broadcaster activity as Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"socketstream-server/domain"
)

const namespace = "socketstream"

type Metrics struct {
	connections   *prometheus.GaugeVec
	connects      *prometheus.CounterVec
	framesTotal   prometheus.Counter
	bytesTotal    prometheus.Counter
	writeErrors   *prometheus.CounterVec
	framesDropped prometheus.Counter
	commands      *prometheus.CounterVec
	listening     prometheus.Gauge
}

// New registers the collectors with reg. Use prometheus.NewRegistry() in
// tests to avoid clashing with the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live client connections by role",
		}, []string{"role"}),

		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Accepted client connections by transport kind",
		}, []string{"kind"}),

		framesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_broadcast_total",
			Help:      "Frames handed to data connections",
		}),

		bytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_broadcast_total",
			Help:      "Bytes queued to data connections",
		}),

		writeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Failed writes to client connections",
		}, []string{"kind"}),

		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped before reaching the broadcaster worker",
		}),

		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_commands_total",
			Help:      "Remote command lines received from clients",
		}, []string{"kind"}),

		listening: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listening",
			Help:      "1 while the broadcaster is listening",
		}),
	}
}

func (m *Metrics) SetConnections(data, commandOnly int) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(domain.RoleData.String()).Set(float64(data))
	m.connections.WithLabelValues(domain.RoleCommandOnly.String()).Set(float64(commandOnly))
}

func (m *Metrics) Connected(kind domain.Kind) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(string(kind)).Inc()
}

// FrameSent records one frame queued to n connections.
func (m *Metrics) FrameSent(size, n int) {
	if m == nil {
		return
	}
	m.framesTotal.Inc()
	m.bytesTotal.Add(float64(size * n))
}

func (m *Metrics) WriteError(kind domain.Kind) {
	if m == nil {
		return
	}
	m.writeErrors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *Metrics) RemoteCommand(kind domain.Kind) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SetListening(on bool) {
	if m == nil {
		return
	}
	if on {
		m.listening.Set(1)
	} else {
		m.listening.Set(0)
	}
}
