// Package transport provides the three listeners a broadcaster can run on:
// TCP, a local unix domain socket and WebSocket. Each one hands its
// connections to a Handler and never blocks the caller on a client.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"socketstream-server/domain"
)

var (
	ErrClosed        = errors.New("transport: connection closed")
	ErrSendQueueFull = errors.New("transport: send queue full")
	ErrUnknownMode   = errors.New("transport: unknown mode")
)

// sendQueueSize bounds the per-connection outbound queue. When a slow client
// lets it fill up, further frames for that client are dropped.
const sendQueueSize = 256

// Handler receives connection events. Calls arrive from transport goroutines.
type Handler interface {
	Connected(conn domain.Connection)
	Received(conn domain.Connection, data []byte)
	Disconnected(conn domain.Connection)
	Failed(conn domain.Connection, err error)
	// ListenerFailed reports errors that belong to no single connection,
	// such as a failed accept.
	ListenerFailed(err error)
}

type Transport interface {
	Kind() domain.Kind
	// Listen binds the underlying resource and starts accepting. It does
	// not retry.
	Listen(h Handler) error
	Addr() string
	// Stop closes the listener and every connection it produced. Safe to
	// call more than once.
	Stop()
}

// New builds the transport selected by cfg.Mode. For an unknown mode it
// returns the TCP transport together with an error wrapping ErrUnknownMode.
func New(cfg domain.Config) (Transport, error) {
	switch cfg.Mode {
	case domain.ModeTCPIP:
		return NewTCP(hostPort(cfg)), nil
	case domain.ModeIPC:
		return NewIPC(cfg.PipeName), nil
	case domain.ModeWebSocket:
		return NewWebSocket(hostPort(cfg)), nil
	default:
		return NewTCP(hostPort(cfg)), fmt.Errorf("%w: %s, falling back to tcp", ErrUnknownMode, cfg.Mode)
	}
}

func hostPort(cfg domain.Config) string {
	return net.JoinHostPort(cfg.IP, strconv.Itoa(int(cfg.Port)))
}
