package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"socketstream-server/domain"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetConnections(3, 1)
	m.Connected(domain.KindTCP)
	m.Connected(domain.KindTCP)
	m.FrameSent(100, 3)
	m.FrameSent(100, 2)
	m.WriteError(domain.KindWebSocket)
	m.FrameDropped()
	m.RemoteCommand(domain.KindIPC)
	m.SetListening(true)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.connections.WithLabelValues("data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("command_only")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connects.WithLabelValues("tcp")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesTotal))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.bytesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writeErrors.WithLabelValues("websocket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("ipc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listening))

	m.SetListening(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.listening))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetConnections(1, 1)
		m.Connected(domain.KindTCP)
		m.FrameSent(1, 1)
		m.WriteError(domain.KindTCP)
		m.FrameDropped()
		m.RemoteCommand(domain.KindTCP)
		m.SetListening(true)
	})
}
