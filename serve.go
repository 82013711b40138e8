package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"socketstream-server/admin"
	"socketstream-server/broadcaster"
	"socketstream-server/config"
	"socketstream-server/domain"
	"socketstream-server/events"
	"socketstream-server/metrics"
	"socketstream-server/source"
)

type serveFlags struct {
	mode        string
	ip          string
	port        uint16
	pipe        string
	header      bool
	autoConnect bool
	adminAddr   string
	natsURL     string
	pattern     bool
	patternFPS  int
}

func serveCmd() *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broadcast server",
		Long: `Run the broadcast server with an admin HTTP endpoint.

Settings come from the environment (and .env), flags override them.
Broadcasting starts right away with --auto-connect, otherwise on
POST /broadcast/start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}
			setupLogger(cfg.LogLevel)
			return serve(cmd.Context(), cfg)
		},
	}

	f.register(cmd.Flags())
	return cmd
}

func (f *serveFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.mode, "mode", "", "transport: tcpip, ipc or websocket")
	flags.StringVar(&f.ip, "ip", "", "listen address for tcpip and websocket")
	flags.Uint16Var(&f.port, "port", 0, "listen port for tcpip and websocket")
	flags.StringVar(&f.pipe, "pipe", "", "socket name or path for ipc")
	flags.BoolVar(&f.header, "header", true, "prepend the frame header")
	flags.BoolVar(&f.autoConnect, "auto-connect", false, "start broadcasting on launch")
	flags.StringVar(&f.adminAddr, "admin-addr", "", "admin HTTP listen address, empty string disables")
	flags.StringVar(&f.natsURL, "nats-url", "", "forward remote commands to this NATS server")
	flags.BoolVar(&f.pattern, "pattern", false, "broadcast a synthetic test pattern")
	flags.IntVar(&f.patternFPS, "pattern-fps", 0, "test pattern frame rate")
}

func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		mode, err := domain.ParseMode(f.mode)
		if err != nil {
			return err
		}
		cfg.Stream.Mode = mode
	}
	if flags.Changed("ip") {
		cfg.Stream.IP = f.ip
	}
	if flags.Changed("port") {
		cfg.Stream.Port = f.port
	}
	if flags.Changed("pipe") {
		cfg.Stream.PipeName = f.pipe
	}
	if flags.Changed("header") {
		cfg.Stream.SendHeader = f.header
	}
	if flags.Changed("auto-connect") {
		cfg.Stream.AutoConnect = f.autoConnect
	}
	if flags.Changed("admin-addr") {
		cfg.AdminAddr = f.adminAddr
	}
	if flags.Changed("nats-url") {
		cfg.NATSURL = f.natsURL
	}
	if flags.Changed("pattern") {
		cfg.Pattern.Enabled = f.pattern
	}
	if flags.Changed("pattern-fps") {
		cfg.Pattern.FPS = f.patternFPS
	}
	return nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinks := events.Multi{events.NewLogger(slog.Default())}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Close()
		slog.Info("forwarding remote commands to NATS", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
		sinks = append(sinks, events.NewNATS(nc, cfg.NATSSubject))
	}

	reg := prometheus.NewRegistry()
	b := broadcaster.New(sinks, broadcaster.WithMetrics(metrics.New(reg)))
	defer b.Close()

	if err := b.Configure(cfg.Stream); err != nil {
		return err
	}
	if cfg.Stream.AutoConnect {
		slog.Info("auto connecting on startup", "mode", cfg.Stream.Mode)
		if err := b.Start(); err != nil {
			return err
		}
	}

	var server *http.Server
	if cfg.AdminAddr != "" {
		server = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           admin.NewRouter(b, reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("admin server starting", "addr", cfg.AdminAddr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin server error", "error", err)
			}
		}()
	}

	if cfg.Pattern.Enabled {
		p, err := source.NewPattern(b, cfg.Pattern)
		if err != nil {
			return err
		}
		go p.Run(ctx)
	}

	<-ctx.Done()
	slog.Info("server shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}
	return nil
}
