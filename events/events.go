// Package events contains the sinks a host can plug into the broadcaster
// to observe info/error messages, listening state and remote commands.
package events

import (
	"log/slog"

	"socketstream-server/domain"
)

type Type string

const (
	TypeInfo          Type = "info"
	TypeError         Type = "error"
	TypeListening     Type = "listening"
	TypeRemoteCommand Type = "remote_command"
)

type Event struct {
	Type    Type   `json:"type"`
	Text    string `json:"text,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}

// Channel delivers events on a buffered channel. When the reader falls
// behind, new events are dropped and logged rather than stalling the
// broadcaster.
type Channel struct {
	C chan Event
}

func NewChannel(size int) *Channel {
	return &Channel{C: make(chan Event, size)}
}

func (c *Channel) Info(text string)  { c.push(Event{Type: TypeInfo, Text: text}) }
func (c *Channel) Error(text string) { c.push(Event{Type: TypeError, Text: text}) }

func (c *Channel) ListeningEnabled(enabled bool) {
	c.push(Event{Type: TypeListening, Enabled: enabled})
}

func (c *Channel) RemoteCommandReceived(command string) {
	c.push(Event{Type: TypeRemoteCommand, Text: command})
}

func (c *Channel) push(e Event) {
	select {
	case c.C <- e:
	default:
		slog.Warn("event dropped", "type", e.Type, "text", e.Text)
	}
}

// Logger writes every event to slog.
type Logger struct {
	log *slog.Logger
}

func NewLogger(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{log: log}
}

func (l *Logger) Info(text string)  { l.log.Info(text) }
func (l *Logger) Error(text string) { l.log.Error(text) }

func (l *Logger) ListeningEnabled(enabled bool) {
	l.log.Info("listening state changed", "enabled", enabled)
}

func (l *Logger) RemoteCommandReceived(command string) {
	l.log.Info("remote command received", "command", command)
}

// Multi fans every event out to all sinks in order.
type Multi []domain.EventSink

func (m Multi) Info(text string) {
	for _, s := range m {
		s.Info(text)
	}
}

func (m Multi) Error(text string) {
	for _, s := range m {
		s.Error(text)
	}
}

func (m Multi) ListeningEnabled(enabled bool) {
	for _, s := range m {
		s.ListeningEnabled(enabled)
	}
}

func (m Multi) RemoteCommandReceived(command string) {
	for _, s := range m {
		s.RemoteCommandReceived(command)
	}
}
