package events

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Publisher is the part of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type natsMessage struct {
	Type      Type   `json:"type"`
	Text      string `json:"text,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NATS forwards remote commands and listening state changes to
// "<prefix>.command" and "<prefix>.state" so another process can act on
// them. Info and error text stays local.
type NATS struct {
	pub    Publisher
	prefix string
	now    func() time.Time
}

func NewNATS(pub Publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = "socketstream"
	}
	return &NATS{pub: pub, prefix: prefix, now: time.Now}
}

func (n *NATS) Info(text string)  {}
func (n *NATS) Error(text string) {}

func (n *NATS) ListeningEnabled(enabled bool) {
	n.publish(n.prefix+".state", natsMessage{Type: TypeListening, Enabled: &enabled})
}

func (n *NATS) RemoteCommandReceived(command string) {
	n.publish(n.prefix+".command", natsMessage{Type: TypeRemoteCommand, Text: command})
}

func (n *NATS) publish(subject string, msg natsMessage) {
	msg.Timestamp = n.now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal error", "subject", subject, "error", err)
		return
	}
	if err := n.pub.Publish(subject, data); err != nil {
		slog.Error("nats publish failed", "subject", subject, "error", err)
	}
}
