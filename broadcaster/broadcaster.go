// Package broadcaster runs the frame fan-out server. A single worker
// goroutine owns the transport, the connection registry and the command
// protocol; every public call and every transport callback is queued to
// that worker, so none of those components needs locking.
package broadcaster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"socketstream-server/domain"
	"socketstream-server/frame"
	"socketstream-server/hub"
	"socketstream-server/metrics"
	"socketstream-server/protocol"
	"socketstream-server/transport"
)

var (
	ErrClosed    = errors.New("broadcaster: closed")
	ErrQueueFull = errors.New("broadcaster: queue full, frame dropped")
)

const defaultQueueSize = 64

type State int

const (
	StateStopped State = iota
	StateListening
)

func (s State) String() string {
	if s == StateListening {
		return "listening"
	}
	return "stopped"
}

type TransportFactory func(cfg domain.Config) (transport.Transport, error)

type Option func(*Broadcaster)

func WithTransportFactory(f TransportFactory) Option {
	return func(b *Broadcaster) { b.newTransport = f }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithQueueSize bounds how many operations may wait for the worker.
// Broadcast calls beyond that are dropped.
func WithQueueSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(b *Broadcaster) { b.log = log }
}

type Stats struct {
	State          string `json:"state"`
	Mode           string `json:"mode"`
	Kind           string `json:"kind,omitempty"`
	Addr           string `json:"addr,omitempty"`
	SendHeader     bool   `json:"sendHeader"`
	DataClients    int    `json:"dataClients"`
	CommandClients int    `json:"commandClients"`
}

type Broadcaster struct {
	sink         domain.EventSink
	newTransport TransportFactory
	metrics      *metrics.Metrics
	log          *slog.Logger
	queueSize    int

	ops       chan func()
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64

	// Owned by the worker goroutine.
	config    domain.Config
	state     State
	transport transport.Transport
	hub       *hub.Hub
	protocol  *protocol.Handler
}

// New starts the worker. Call Close to stop it.
func New(sink domain.EventSink, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		sink:         sink,
		newTransport: transport.New,
		log:          slog.Default(),
		queueSize:    defaultQueueSize,
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
		hub:          hub.New(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ops = make(chan func(), b.queueSize)
	b.protocol = protocol.NewHandler(b.hub, b.remoteCommand, b.failed)

	go b.run()
	return b
}

func (b *Broadcaster) run() {
	defer close(b.exited)
	for {
		select {
		case op := <-b.ops:
			op()
			b.reportDropped()
		case <-b.done:
			b.stop()
			if b.transport != nil {
				b.transport.Stop()
				b.transport = nil
			}
			return
		}
	}
}

// enqueue waits for queue space; control operations are never dropped.
func (b *Broadcaster) enqueue(op func()) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.ops <- op:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

func (b *Broadcaster) tryEnqueue(op func()) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.ops <- op:
		return nil
	default:
		return ErrQueueFull
	}
}

// Configure tears down the current transport and builds the one cfg
// selects. It does not start listening.
func (b *Broadcaster) Configure(cfg domain.Config) error {
	return b.enqueue(func() { b.configure(cfg) })
}

// Start reconfigures with the current config and listens. Failures are
// reported through the sink's Error.
func (b *Broadcaster) Start() error {
	return b.enqueue(b.start)
}

func (b *Broadcaster) Stop() error {
	return b.enqueue(b.stop)
}

// Broadcast copies payload and queues one frame for every data client.
// The caller may reuse payload as soon as Broadcast returns. If the worker
// is backed up the frame is dropped and ErrQueueFull returned; the worker
// reports the drops through the sink once it catches up.
func (b *Broadcaster) Broadcast(payload []byte, width, height uint16, bitDepth uint8) error {
	owned := bytes.Clone(payload)
	if owned == nil {
		owned = []byte{}
	}

	err := b.tryEnqueue(func() { b.broadcast(owned, width, height, bitDepth) })
	if errors.Is(err, ErrQueueFull) {
		b.dropped.Add(1)
		b.metrics.FrameDropped()
	}
	return err
}

func (b *Broadcaster) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := b.enqueue(func() { reply <- b.stats() }); err != nil {
		return Stats{}, err
	}

	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-b.exited:
		return Stats{}, ErrClosed
	}
}

// Close stops broadcasting and waits for the worker to exit.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	<-b.exited
}

func (b *Broadcaster) configure(cfg domain.Config) {
	b.stop()
	if b.transport != nil {
		b.transport.Stop()
		b.transport = nil
	}

	b.config = cfg
	t, err := b.newTransport(cfg)
	if err != nil {
		b.sink.Error(fmt.Sprintf("configure %s: %v", cfg.Mode, err))
	}
	b.transport = t
}

func (b *Broadcaster) start() {
	b.configure(b.config)
	if b.transport == nil {
		b.sink.Error(fmt.Sprintf("no transport available for mode %s", b.config.Mode))
		return
	}

	t := b.transport
	if err := t.Listen(&binding{b: b, t: t}); err != nil {
		b.sink.Error(fmt.Sprintf("listen on %s %s failed: %v", t.Kind(), t.Addr(), err))
		return
	}

	b.state = StateListening
	b.metrics.SetListening(true)
	b.log.Info("broadcasting started", "kind", t.Kind(), "addr", t.Addr(), "sendHeader", b.config.SendHeader)
	b.sink.Info(fmt.Sprintf("Broadcasting on %s %s", t.Kind(), t.Addr()))
	b.sink.ListeningEnabled(true)
}

func (b *Broadcaster) stop() {
	if b.state != StateListening {
		return
	}

	n := b.hub.Clear()
	if b.transport != nil {
		b.transport.Stop()
	}
	b.state = StateStopped

	b.metrics.SetConnections(0, 0)
	b.metrics.SetListening(false)
	b.log.Info("broadcasting stopped", "closedClients", n)
	b.sink.Info("Broadcasting stopped!")
	b.sink.ListeningEnabled(false)
}

func (b *Broadcaster) broadcast(payload []byte, width, height uint16, bitDepth uint8) {
	data := frame.Encode(payload, b.config.SendHeader, width, height, bitDepth)

	sent := 0
	for _, c := range b.hub.DataConnections() {
		if err := c.Send(data); err != nil {
			b.metrics.WriteError(c.Kind())
			b.sink.Error(fmt.Sprintf("Failed to write to client %s: %v", c.ID(), err))
			continue
		}
		sent++
	}
	b.metrics.FrameSent(len(data), sent)
}

func (b *Broadcaster) reportDropped() {
	if n := b.dropped.Swap(0); n > 0 {
		b.log.Warn("frames dropped", "count", n)
		b.sink.Error(fmt.Sprintf("%d frame(s) dropped: queue full", n))
	}
}

func (b *Broadcaster) stats() Stats {
	data, cmd := b.hub.Stats()
	s := Stats{
		State:          b.state.String(),
		Mode:           b.config.Mode.String(),
		SendHeader:     b.config.SendHeader,
		DataClients:    data,
		CommandClients: cmd,
	}
	if b.transport != nil {
		s.Kind = string(b.transport.Kind())
		s.Addr = b.transport.Addr()
	}
	return s
}

func (b *Broadcaster) current(t transport.Transport) bool {
	return t == b.transport && b.state == StateListening
}

func (b *Broadcaster) connected(t transport.Transport, c domain.Connection) {
	if !b.current(t) {
		c.Close()
		return
	}
	if !b.hub.Register(c) {
		return
	}

	b.metrics.Connected(c.Kind())
	b.updateConnectionMetrics()
	b.log.Info("client connected", "clientId", c.ID(), "kind", c.Kind())
	if c.Kind() == domain.KindWebSocket {
		b.sink.Info("WebSocket client connected!")
	} else {
		b.sink.Info("Client connected!")
	}
}

func (b *Broadcaster) received(c domain.Connection, data []byte) {
	if !b.hub.Contains(c) {
		return
	}
	b.protocol.Handle(c, data)
	b.updateConnectionMetrics()
}

func (b *Broadcaster) disconnected(c domain.Connection) {
	if !b.hub.Remove(c) {
		return
	}

	b.updateConnectionMetrics()
	b.log.Info("client disconnected", "clientId", c.ID(), "kind", c.Kind())
	if c.Kind() == domain.KindWebSocket {
		b.sink.Info("WebSocket client disconnected.")
	} else {
		b.sink.Info("Client disconnected.")
	}
}

func (b *Broadcaster) failed(c domain.Connection, err error) {
	b.metrics.WriteError(c.Kind())
	b.sink.Error(fmt.Sprintf("Failed to write to client %s: %v", c.ID(), err))
}

func (b *Broadcaster) listenerFailed(t transport.Transport, err error) {
	if !b.current(t) {
		return
	}
	b.sink.Error(fmt.Sprintf("%s listener error on %s: %v", t.Kind(), t.Addr(), err))
}

func (b *Broadcaster) remoteCommand(c domain.Connection, command string) {
	b.metrics.RemoteCommand(c.Kind())
	b.sink.RemoteCommandReceived(command)
}

func (b *Broadcaster) updateConnectionMetrics() {
	b.metrics.SetConnections(b.hub.Stats())
}

// binding forwards callbacks from one transport onto the worker. Callbacks
// from a transport that has since been replaced are discarded there.
type binding struct {
	b *Broadcaster
	t transport.Transport
}

func (h *binding) Connected(c domain.Connection) {
	if err := h.b.enqueue(func() { h.b.connected(h.t, c) }); err != nil {
		c.Close()
	}
}

func (h *binding) Received(c domain.Connection, data []byte) {
	h.b.enqueue(func() { h.b.received(c, data) })
}

func (h *binding) Disconnected(c domain.Connection) {
	h.b.enqueue(func() { h.b.disconnected(c) })
}

func (h *binding) Failed(c domain.Connection, err error) {
	h.b.enqueue(func() { h.b.failed(c, err) })
}

func (h *binding) ListenerFailed(err error) {
	h.b.enqueue(func() { h.b.listenerFailed(h.t, err) })
}
