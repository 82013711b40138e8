package domain

import (
	"fmt"
	"strings"
)

// Mode selects the transport a broadcaster listens on.
type Mode int

const (
	ModeIPC Mode = iota
	ModeTCPIP
	ModeWebSocket
)

func (m Mode) String() string {
	switch m {
	case ModeIPC:
		return "ipc"
	case ModeTCPIP:
		return "tcpip"
	case ModeWebSocket:
		return "websocket"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the names used in env files and on the command line.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ipc", "local", "pipe":
		return ModeIPC, nil
	case "tcp", "tcpip", "tcp/ip":
		return ModeTCPIP, nil
	case "ws", "websocket":
		return ModeWebSocket, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

type Kind string

const (
	KindTCP       Kind = "tcp"
	KindIPC       Kind = "ipc"
	KindWebSocket Kind = "websocket"
)

type Role int

const (
	RoleData Role = iota
	RoleCommandOnly
)

func (r Role) String() string {
	if r == RoleCommandOnly {
		return "command_only"
	}
	return "data"
}

// Config is the snapshot handed to Configure. It fully determines which
// transport is built and where it listens.
type Config struct {
	Mode        Mode   `json:"mode"`
	IP          string `json:"ip"`
	Port        uint16 `json:"port"`
	PipeName    string `json:"pipeName"`
	SendHeader  bool   `json:"sendHeader"`
	AutoConnect bool   `json:"autoConnect"`
}

type Connection interface {
	ID() string
	Kind() Kind
	Send(data []byte) error
	SendText(text string) error
	Close() error
}

// EventSink receives everything the broadcaster reports to its host.
type EventSink interface {
	Info(text string)
	Error(text string)
	ListeningEnabled(enabled bool)
	RemoteCommandReceived(command string)
}
