package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"socketstream-server/domain"
)

const (
	writeWait      = 10 * time.Second
	readBufferSize = 4096
	acceptBackoff  = 50 * time.Millisecond
)

// streamListener serves byte-stream clients over TCP or a unix socket.
type streamListener struct {
	kind    domain.Kind
	network string
	address string

	mu      sync.Mutex
	ln      net.Listener
	conns   map[string]*streamConn
	stopped bool
}

func NewTCP(address string) Transport {
	return &streamListener{kind: domain.KindTCP, network: "tcp", address: address}
}

// NewIPC listens on a unix domain socket. A bare name is placed in the
// system temp directory.
func NewIPC(name string) Transport {
	return &streamListener{kind: domain.KindIPC, network: "unix", address: SocketPath(name)}
}

func SocketPath(name string) string {
	if filepath.IsAbs(name) || strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	return filepath.Join(os.TempDir(), name)
}

func (l *streamListener) Kind() domain.Kind { return l.kind }

func (l *streamListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.address
}

func (l *streamListener) Listen(h Handler) error {
	var (
		ln  net.Listener
		err error
	)
	if l.network == "unix" {
		ln, err = listenUnix(l.address)
	} else {
		ln, err = net.Listen(l.network, l.address)
	}
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.ln = ln
	l.conns = make(map[string]*streamConn)
	l.stopped = false
	l.mu.Unlock()

	slog.Info("listening", "kind", l.kind, "addr", ln.Addr().String())
	go l.acceptLoop(ln, h)
	return nil
}

// listenUnix removes a socket file left behind by a process that is no
// longer serving it, then retries once.
func listenUnix(path string) (net.Listener, error) {
	ln, err := net.Listen("unix", path)
	if err == nil || !errors.Is(err, syscall.EADDRINUSE) {
		return ln, err
	}
	if c, dialErr := net.DialTimeout("unix", path, time.Second); dialErr == nil {
		c.Close()
		return nil, err
	}
	if rmErr := os.Remove(path); rmErr != nil {
		return nil, err
	}
	slog.Warn("removed stale socket", "path", path)
	return net.Listen("unix", path)
}

func (l *streamListener) acceptLoop(ln net.Listener, h Handler) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.isStopped() {
				return
			}
			slog.Warn("accept error", "kind", l.kind, "error", err)
			h.ListenerFailed(fmt.Errorf("accept: %w", err))
			time.Sleep(acceptBackoff)
			continue
		}

		c := newStreamConn(uuid.NewString(), l.kind, nc)
		if !l.track(c) {
			c.Close()
			return
		}

		h.Connected(c)
		go c.writePump(h)
		go c.readPump(l, h)
	}
}

func (l *streamListener) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *streamListener) track(c *streamConn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.conns[c.id] = c
	return true
}

func (l *streamListener) untrack(c *streamConn) {
	l.mu.Lock()
	delete(l.conns, c.id)
	l.mu.Unlock()
}

func (l *streamListener) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	ln := l.ln
	conns := l.conns
	l.conns = make(map[string]*streamConn)
	l.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
}

type streamConn struct {
	id   string
	kind domain.Kind
	conn net.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newStreamConn(id string, kind domain.Kind, conn net.Conn) *streamConn {
	return &streamConn{
		id:   id,
		kind: kind,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *streamConn) ID() string        { return c.id }
func (c *streamConn) Kind() domain.Kind { return c.kind }

// Send queues data for the write pump. The slice must not be modified
// afterwards.
func (c *streamConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *streamConn) SendText(text string) error {
	return c.Send([]byte(text))
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *streamConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *streamConn) writePump(h Handler) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if _, err := c.conn.Write(data); err != nil {
				if !c.closed() {
					h.Failed(c, err)
				}
				c.Close()
				return
			}
		}
	}
}

func (c *streamConn) readPump(l *streamListener, h Handler) {
	defer func() {
		c.Close()
		l.untrack(c)
		h.Disconnected(c)
	}()

	var lines lineBuffer
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if complete := lines.feed(buf[:n]); complete != nil {
				h.Received(c, complete)
			}
		}
		if err != nil {
			if err != io.EOF && !c.closed() {
				slog.Debug("read error", "clientId", c.id, "error", err)
			}
			if rest := lines.flush(); rest != nil && !c.closed() {
				h.Received(c, rest)
			}
			return
		}
	}
}

// lineBuffer reassembles newline-terminated lines from a byte stream. An
// unterminated tail longer than readBufferSize is passed on as is.
type lineBuffer struct {
	pending []byte
}

// feed returns every complete line received so far, newlines included, or
// nil if none is complete yet.
func (b *lineBuffer) feed(chunk []byte) []byte {
	b.pending = append(b.pending, chunk...)
	end := bytes.LastIndexByte(b.pending, '\n') + 1
	if end == 0 {
		if len(b.pending) < readBufferSize {
			return nil
		}
		end = len(b.pending)
	}
	out := bytes.Clone(b.pending[:end])
	b.pending = append(b.pending[:0], b.pending[end:]...)
	return out
}

// flush returns the unterminated tail, if any.
func (b *lineBuffer) flush() []byte {
	if len(b.pending) == 0 {
		return nil
	}
	out := b.pending
	b.pending = nil
	return out
}
