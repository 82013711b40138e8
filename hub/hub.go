package hub

import (
	"log/slog"

	"socketstream-server/domain"
)

type entry struct {
	conn domain.Connection
	role domain.Role
}

// Hub is the connection registry. Every live connection sits in exactly one
// role. A Hub has a single owner and does no locking of its own.
type Hub struct {
	entries map[string]*entry
	order   []*entry
}

func New() *Hub {
	return &Hub{
		entries: make(map[string]*entry),
	}
}

// Register adds conn in the data role. It reports false if conn is
// already registered.
func (h *Hub) Register(conn domain.Connection) bool {
	if _, exists := h.entries[conn.ID()]; exists {
		return false
	}

	e := &entry{conn: conn, role: domain.RoleData}
	h.entries[conn.ID()] = e
	h.order = append(h.order, e)

	slog.Debug("client registered", "clientId", conn.ID(), "kind", conn.Kind(), "clients", len(h.order))
	return true
}

func (h *Hub) Promote(conn domain.Connection) bool {
	return h.move(conn, domain.RoleData, domain.RoleCommandOnly)
}

func (h *Hub) Demote(conn domain.Connection) bool {
	return h.move(conn, domain.RoleCommandOnly, domain.RoleData)
}

func (h *Hub) move(conn domain.Connection, from, to domain.Role) bool {
	e, exists := h.entries[conn.ID()]
	if !exists || e.role != from {
		return false
	}
	e.role = to
	slog.Debug("client role changed", "clientId", conn.ID(), "role", to.String())
	return true
}

func (h *Hub) Role(conn domain.Connection) (domain.Role, bool) {
	e, exists := h.entries[conn.ID()]
	if !exists {
		return 0, false
	}
	return e.role, true
}

func (h *Hub) Contains(conn domain.Connection) bool {
	_, exists := h.entries[conn.ID()]
	return exists
}

// Remove drops conn from whichever role holds it and closes it. Unknown
// connections are left untouched.
func (h *Hub) Remove(conn domain.Connection) bool {
	e, exists := h.entries[conn.ID()]
	if !exists {
		return false
	}
	delete(h.entries, conn.ID())
	for i, o := range h.order {
		if o == e {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}

	if err := e.conn.Close(); err != nil {
		slog.Debug("close error", "clientId", conn.ID(), "error", err)
	}
	slog.Debug("client removed", "clientId", conn.ID(), "clients", len(h.order))
	return true
}

// DataConnections returns the data-role connections in registration order.
func (h *Hub) DataConnections() []domain.Connection {
	out := make([]domain.Connection, 0, len(h.order))
	for _, e := range h.order {
		if e.role == domain.RoleData {
			out = append(out, e.conn)
		}
	}
	return out
}

// Clear closes and forgets every connection in both roles.
func (h *Hub) Clear() int {
	n := len(h.order)
	for _, e := range h.order {
		if err := e.conn.Close(); err != nil {
			slog.Debug("close error", "clientId", e.conn.ID(), "error", err)
		}
	}
	h.entries = make(map[string]*entry)
	h.order = nil
	return n
}

func (h *Hub) Stats() (data, commandOnly int) {
	for _, e := range h.order {
		if e.role == domain.RoleCommandOnly {
			commandOnly++
		} else {
			data++
		}
	}
	return data, commandOnly
}
