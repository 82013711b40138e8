package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"socketstream-server/domain"
)

const (
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

type wsListener struct {
	address  string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	ln      net.Listener
	server  *http.Server
	conns   map[string]*wsConn
	stopped bool
}

func NewWebSocket(address string) Transport {
	return &wsListener{
		address: address,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (l *wsListener) Kind() domain.Kind { return domain.KindWebSocket }

func (l *wsListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.address
}

func (l *wsListener) Listen(h Handler) error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.upgradeHandler(h))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	l.mu.Lock()
	l.ln = ln
	l.server = server
	l.conns = make(map[string]*wsConn)
	l.stopped = false
	l.mu.Unlock()

	slog.Info("listening", "kind", domain.KindWebSocket, "addr", ln.Addr().String())
	go func() {
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("websocket server error", "error", err)
			h.ListenerFailed(fmt.Errorf("websocket server: %w", err))
		}
	}()
	return nil
}

func (l *wsListener) upgradeHandler(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		c := newWSConn(uuid.NewString(), ws)
		if !l.track(c) {
			c.Close()
			return
		}

		h.Connected(c)
		go c.writePump(h)
		go c.readPump(l, h)
	}
}

func (l *wsListener) track(c *wsConn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.conns[c.id] = c
	return true
}

func (l *wsListener) untrack(c *wsConn) {
	l.mu.Lock()
	delete(l.conns, c.id)
	l.mu.Unlock()
}

func (l *wsListener) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	server := l.server
	conns := l.conns
	l.conns = make(map[string]*wsConn)
	l.mu.Unlock()

	// Hijacked connections are not closed by the server.
	if server != nil {
		server.Close()
	}
	for _, c := range conns {
		c.Close()
	}
}

type outbound struct {
	messageType int
	data        []byte
}

type wsConn struct {
	id string
	ws *websocket.Conn

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(id string, ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:   id,
		ws:   ws,
		send: make(chan outbound, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string        { return c.id }
func (c *wsConn) Kind() domain.Kind { return domain.KindWebSocket }

func (c *wsConn) Send(data []byte) error {
	return c.enqueue(outbound{messageType: websocket.BinaryMessage, data: data})
}

func (c *wsConn) SendText(text string) error {
	return c.enqueue(outbound{messageType: websocket.TextMessage, data: []byte(text)})
}

func (c *wsConn) enqueue(msg outbound) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) readPump(l *wsListener, h Handler) {
	defer func() {
		c.Close()
		l.untrack(c)
		h.Disconnected(c)
	}()

	c.ws.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) && !c.closed() {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}

		h.Received(c, data)
	}
}

func (c *wsConn) writePump(h Handler) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(msg.messageType, msg.data); err != nil {
				if !c.closed() {
					h.Failed(c, err)
				}
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !c.closed() {
					h.Failed(c, fmt.Errorf("ping: %w", err))
				}
				c.Close()
				return
			}
		}
	}
}
