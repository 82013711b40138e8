package protocol

import (
	"log/slog"
	"strings"

	"socketstream-server/domain"
)

type Command int

const (
	CommandRemote Command = iota
	CommandPing
	CommandEnterCommandOnly
	CommandExitCommandOnly
)

const (
	linePing         = "ping"
	lineEnterCmdOnly = "enable_command_only_mode"
	lineExitCmdOnly  = "disable_command_only_mode"

	ReplyPong            = "pong\n"
	ReplyCommandEnabled  = "Command mode enabled.\n"
	ReplyCommandDisabled = "Command mode disabled.\n"
)

// Classify matches a trimmed line against the control vocabulary. The
// match is case-sensitive; everything else is a remote command.
func Classify(line string) Command {
	switch line {
	case linePing:
		return CommandPing
	case lineEnterCmdOnly:
		return CommandEnterCommandOnly
	case lineExitCmdOnly:
		return CommandExitCommandOnly
	default:
		return CommandRemote
	}
}

// Lines splits an inbound chunk into trimmed, non-empty lines. A chunk with
// no newline at all is a single line.
func Lines(chunk []byte) []string {
	parts := strings.Split(strings.ToValidUTF8(string(chunk), "�"), "\n")
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		if line := strings.TrimSpace(p); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Roles moves connections between the data and command-only roles.
type Roles interface {
	Promote(conn domain.Connection) bool
	Demote(conn domain.Connection) bool
}

type Handler struct {
	roles    Roles
	onRemote func(conn domain.Connection, command string)
	onFailed func(conn domain.Connection, err error)
}

// NewHandler answers control lines itself and passes every other line to
// onRemote. Replies that cannot be written are passed to onFailed.
func NewHandler(roles Roles, onRemote func(conn domain.Connection, command string), onFailed func(conn domain.Connection, err error)) *Handler {
	return &Handler{roles: roles, onRemote: onRemote, onFailed: onFailed}
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	for _, line := range Lines(data) {
		h.handleLine(conn, line)
	}
}

func (h *Handler) handleLine(conn domain.Connection, line string) {
	switch Classify(line) {
	case CommandPing:
		h.reply(conn, ReplyPong)
	case CommandEnterCommandOnly:
		if h.roles.Promote(conn) {
			h.reply(conn, ReplyCommandEnabled)
		}
	case CommandExitCommandOnly:
		if h.roles.Demote(conn) {
			h.reply(conn, ReplyCommandDisabled)
		}
	default:
		slog.Debug("remote command", "clientId", conn.ID(), "command", line)
		if h.onRemote != nil {
			h.onRemote(conn, line)
		}
	}
}

func (h *Handler) reply(conn domain.Connection, text string) {
	if err := conn.SendText(text); err != nil {
		slog.Warn("reply failed", "clientId", conn.ID(), "error", err)
		if h.onFailed != nil {
			h.onFailed(conn, err)
		}
	}
}
