package transport

import (
	"bufio"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socketstream-server/domain"
)

const waitFor = 2 * time.Second

type recordingHandler struct {
	connected    chan domain.Connection
	received     chan string
	disconnected chan domain.Connection

	mu     sync.Mutex
	failed []error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected:    make(chan domain.Connection, 16),
		received:     make(chan string, 16),
		disconnected: make(chan domain.Connection, 16),
	}
}

func (r *recordingHandler) Connected(conn domain.Connection)             { r.connected <- conn }
func (r *recordingHandler) Received(conn domain.Connection, data []byte) { r.received <- string(data) }
func (r *recordingHandler) Disconnected(conn domain.Connection)          { r.disconnected <- conn }

func (r *recordingHandler) Failed(conn domain.Connection, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recordingHandler) ListenerFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func waitConn(t *testing.T, ch <-chan domain.Connection) domain.Connection {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for connection event")
		return nil
	}
}

func waitString(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for data")
		return ""
	}
}

func TestNew_SelectsTransport(t *testing.T) {
	tests := []struct {
		name     string
		cfg      domain.Config
		wantKind domain.Kind
		wantErr  error
	}{
		{name: "tcp", cfg: domain.Config{Mode: domain.ModeTCPIP, IP: "127.0.0.1", Port: 1234}, wantKind: domain.KindTCP},
		{name: "ipc", cfg: domain.Config{Mode: domain.ModeIPC, PipeName: "octstream"}, wantKind: domain.KindIPC},
		{name: "websocket", cfg: domain.Config{Mode: domain.ModeWebSocket, Port: 8080}, wantKind: domain.KindWebSocket},
		{name: "unknown falls back to tcp", cfg: domain.Config{Mode: domain.Mode(42)}, wantKind: domain.KindTCP, wantErr: ErrUnknownMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			require.NotNil(t, tr)
			assert.Equal(t, tt.wantKind, tr.Kind())
		})
	}
}

func TestSocketPath(t *testing.T) {
	assert.Equal(t, "/run/octstream.sock", SocketPath("/run/octstream.sock"))
	assert.Equal(t, "octstream", filepath.Base(SocketPath("octstream")))
	assert.True(t, filepath.IsAbs(SocketPath("octstream")))
}

func TestStream_TCPRoundTrip(t *testing.T) {
	tr := NewTCP("127.0.0.1:0")
	h := newRecordingHandler()
	require.NoError(t, tr.Listen(h))
	defer tr.Stop()

	client, err := net.Dial("tcp", tr.Addr())
	require.NoError(t, err)
	defer client.Close()

	conn := waitConn(t, h.connected)
	assert.Equal(t, domain.KindTCP, conn.Kind())
	assert.NotEmpty(t, conn.ID())

	_, err = client.Write([]byte("ping\n"))
	require.NoError(t, err)
	assert.Equal(t, "ping\n", waitString(t, h.received))

	require.NoError(t, conn.SendText("pong\n"))
	require.NoError(t, conn.Send([]byte{0x01, 0x02}))

	client.SetReadDeadline(time.Now().Add(waitFor))
	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "pong\n", line)

	buf := make([]byte, 2)
	_, err = reader.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, buf)
}

func TestStream_ListenConflict(t *testing.T) {
	first := NewTCP("127.0.0.1:0")
	require.NoError(t, first.Listen(newRecordingHandler()))
	defer first.Stop()

	second := NewTCP(first.Addr())
	assert.Error(t, second.Listen(newRecordingHandler()))
}

func TestStream_StopClosesConnections(t *testing.T) {
	tr := NewTCP("127.0.0.1:0")
	h := newRecordingHandler()
	require.NoError(t, tr.Listen(h))

	client, err := net.Dial("tcp", tr.Addr())
	require.NoError(t, err)
	defer client.Close()

	conn := waitConn(t, h.connected)

	tr.Stop()
	tr.Stop()

	assert.Equal(t, conn.ID(), waitConn(t, h.disconnected).ID())
	assert.ErrorIs(t, conn.Send([]byte{1}), ErrClosed)

	_, err = net.DialTimeout("tcp", tr.Addr(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestStream_ClientDisconnect(t *testing.T) {
	tr := NewTCP("127.0.0.1:0")
	h := newRecordingHandler()
	require.NoError(t, tr.Listen(h))
	defer tr.Stop()

	client, err := net.Dial("tcp", tr.Addr())
	require.NoError(t, err)

	conn := waitConn(t, h.connected)
	client.Close()

	assert.Equal(t, conn.ID(), waitConn(t, h.disconnected).ID())
}

func TestStream_IPC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.sock")
	tr := NewIPC(path)
	h := newRecordingHandler()
	require.NoError(t, tr.Listen(h))
	defer tr.Stop()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer client.Close()

	conn := waitConn(t, h.connected)
	assert.Equal(t, domain.KindIPC, conn.Kind())

	_, err = client.Write([]byte("remote_start\n"))
	require.NoError(t, err)
	assert.Equal(t, "remote_start\n", waitString(t, h.received))
}

func TestStream_ReassemblesLines(t *testing.T) {
	tr := NewTCP("127.0.0.1:0")
	h := newRecordingHandler()
	require.NoError(t, tr.Listen(h))
	defer tr.Stop()

	client, err := net.Dial("tcp", tr.Addr())
	require.NoError(t, err)
	waitConn(t, h.connected)

	_, err = client.Write([]byte("pi"))
	require.NoError(t, err)
	select {
	case got := <-h.received:
		t.Fatalf("partial line delivered: %q", got)
	case <-time.After(100 * time.Millisecond):
	}

	_, err = client.Write([]byte("ng\nremote_start\n"))
	require.NoError(t, err)
	assert.Equal(t, "ping\nremote_start\n", waitString(t, h.received))

	// An unterminated tail is delivered when the client goes away.
	_, err = client.Write([]byte("remote_stop"))
	require.NoError(t, err)
	client.Close()
	assert.Equal(t, "remote_stop", waitString(t, h.received))
	waitConn(t, h.disconnected)
}

func TestLineBuffer(t *testing.T) {
	tests := []struct {
		name      string
		chunks    []string
		want      []string
		wantFlush string
	}{
		{name: "whole line", chunks: []string{"ping\n"}, want: []string{"ping\n"}},
		{name: "split line", chunks: []string{"pi", "ng\n"}, want: []string{"", "ping\n"}},
		{name: "keeps tail", chunks: []string{"ping\nremo", "te_start\n"}, want: []string{"ping\n", "remote_start\n"}},
		{name: "tail flushed", chunks: []string{"ping\nremote_stop"}, want: []string{"ping\n"}, wantFlush: "remote_stop"},
		{name: "oversized tail passed on", chunks: []string{strings.Repeat("x", readBufferSize)}, want: []string{strings.Repeat("x", readBufferSize)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b lineBuffer
			for i, chunk := range tt.chunks {
				assert.Equal(t, tt.want[i], string(b.feed([]byte(chunk))))
			}
			assert.Equal(t, tt.wantFlush, string(b.flush()))
		})
	}
}

func TestStream_IPCStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	// Leave the socket file behind, as a crashed process would.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()

	tr := NewIPC(path)
	require.NoError(t, tr.Listen(newRecordingHandler()))
	tr.Stop()
}

func TestStream_SendQueueFull(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := newStreamConn("c1", domain.KindTCP, server)
	defer c.Close()

	// No write pump is running, so the queue only fills.
	for i := 0; i < sendQueueSize; i++ {
		require.NoError(t, c.Send([]byte{byte(i)}))
	}
	assert.True(t, errors.Is(c.Send([]byte{0}), ErrSendQueueFull))
}

func TestWebSocket_RoundTrip(t *testing.T) {
	tr := NewWebSocket("127.0.0.1:0")
	h := newRecordingHandler()
	require.NoError(t, tr.Listen(h))
	defer tr.Stop()

	client, _, err := websocket.DefaultDialer.Dial("ws://"+tr.Addr()+"/", nil)
	require.NoError(t, err)
	defer client.Close()

	conn := waitConn(t, h.connected)
	assert.Equal(t, domain.KindWebSocket, conn.Kind())

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "ping", waitString(t, h.received))

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte("enable_command_only_mode")))
	assert.Equal(t, "enable_command_only_mode", waitString(t, h.received))

	require.NoError(t, conn.SendText("pong\n"))
	require.NoError(t, conn.Send([]byte{0xAA}))

	client.SetReadDeadline(time.Now().Add(waitFor))
	mt, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "pong\n", string(data))

	mt, data, err = client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{0xAA}, data)

	tr.Stop()
	assert.Equal(t, conn.ID(), waitConn(t, h.disconnected).ID())
}
