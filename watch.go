package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"socketstream-server/domain"
	"socketstream-server/frame"
	"socketstream-server/transport"
)

type watchFlags struct {
	mode       string
	addr       string
	header     bool
	commands   []string
	count      int
	maxPayload uint32
}

func watchCmd() *cobra.Command {
	var f watchFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to a running server and log received frames",
		Example: `  socketstream watch --addr 127.0.0.1:1234
  socketstream watch --mode ipc --addr octproz
  socketstream watch --mode websocket --addr 127.0.0.1:1234 --command ping`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := domain.ParseMode(f.mode)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, mode, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.mode, "mode", "tcpip", "transport: tcpip, ipc or websocket")
	flags.StringVar(&f.addr, "addr", "127.0.0.1:1234", "host:port, or socket name for ipc")
	flags.BoolVar(&f.header, "header", true, "expect framed data with headers")
	flags.StringArrayVar(&f.commands, "command", nil, "command to send after connecting, repeatable")
	flags.IntVar(&f.count, "count", 0, "exit after this many frames, 0 means run until interrupted")
	flags.Uint32Var(&f.maxPayload, "max-payload", frame.DefaultMaxPayload, "largest payload in bytes accepted from a header")

	return cmd
}

func watch(ctx context.Context, mode domain.Mode, f watchFlags) error {
	if mode == domain.ModeWebSocket {
		return watchWebSocket(ctx, f)
	}

	network, address := "tcp", f.addr
	if mode == domain.ModeIPC {
		network, address = "unix", transport.SocketPath(f.addr)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	slog.Info("connected", "network", network, "addr", address)

	for _, command := range f.commands {
		if _, err := io.WriteString(conn, command+"\n"); err != nil {
			return fmt.Errorf("send %q: %w", command, err)
		}
	}

	if !f.header {
		return watchRaw(ctx, conn)
	}

	fr := frame.NewReader(conn)
	fr.SetMaxPayload(f.maxPayload)
	for n := 1; f.count == 0 || n <= f.count; n++ {
		h, payload, err := fr.Next()
		if err != nil {
			return endOfWatch(ctx, err)
		}
		slog.Info("frame",
			"n", n,
			"width", h.Width,
			"height", h.Height,
			"bit_depth", h.BitDepth,
			"bytes", len(payload),
			"skipped", fr.Skipped(),
		)
	}
	return nil
}

func watchRaw(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 64*1024)
	var total int
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += n
			slog.Info("data", "bytes", n, "total", total)
		}
		if err != nil {
			return endOfWatch(ctx, err)
		}
	}
}

func watchWebSocket(ctx context.Context, f watchFlags) error {
	u := url.URL{Scheme: "ws", Host: f.addr, Path: "/"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	slog.Info("connected", "url", u.String())

	for _, command := range f.commands {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(command)); err != nil {
			return fmt.Errorf("send %q: %w", command, err)
		}
	}

	for n := 1; f.count == 0 || n <= f.count; {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return endOfWatch(ctx, err)
		}
		if messageType == websocket.TextMessage {
			slog.Info("reply", "text", string(data))
			continue
		}
		if !f.header {
			slog.Info("data", "n", n, "bytes", len(data))
			n++
			continue
		}
		h, payload, err := frame.Decode(data)
		if err != nil {
			slog.Warn("bad frame", "n", n, "bytes", len(data), "error", err)
			continue
		}
		slog.Info("frame",
			"n", n,
			"width", h.Width,
			"height", h.Height,
			"bit_depth", h.BitDepth,
			"bytes", len(payload),
		)
		n++
	}
	return nil
}

func endOfWatch(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, io.EOF) {
		slog.Info("connection closed")
		return nil
	}
	return err
}
