package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbocsi/especial/config"
	"github.com/mbocsi/especial/server"
)

const version = "0.1.0"

func setupLogger(w io.Writer, level slog.Level, format string) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg := config.DefaultServerConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadServerConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	// stdout carries the MCP protocol when it is enabled.
	logOut := io.Writer(os.Stdout)
	if cfg.MCP {
		logOut = os.Stderr
	}
	setupLogger(logOut, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		slog.Error("Error running server", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig) error {
	metrics := server.NewMetrics(cfg.MetricsNamespace)
	s := server.New(
		server.WithMetrics(metrics),
		server.WithConcurrentDispatch(cfg.ConcurrentDispatch),
	)
	registerRoutes(s)

	var transports []server.Transport
	if cfg.Addr != "" {
		ws := server.NewWSTransport(cfg.Addr)
		ws.SetName(cfg.Name)
		ws.SetDescription("WebSocket request/response endpoint")
		ws.SetMaxClients(cfg.MaxClients)
		ws.SetShutdownTimeout(cfg.ShutdownTimeout)
		ws.Mount("/metrics", metrics.Handler())
		if err := ws.Listen(); err != nil {
			return err
		}
		s.RegisterTransport(ws)
		transports = append(transports, ws)
	}
	if cfg.TCPAddr != "" {
		tcp := server.NewTCPTransport(cfg.TCPAddr)
		tcp.SetName(cfg.Name)
		tcp.SetDescription("Newline-delimited JSON endpoint")
		tcp.SetMaxClients(cfg.MaxClients)
		tcp.SetShutdownTimeout(cfg.ShutdownTimeout)
		if err := tcp.Listen(); err != nil {
			return err
		}
		s.RegisterTransport(tcp)
		transports = append(transports, tcp)
	}

	if cfg.Advertise {
		for _, t := range transports {
			adv, err := server.Advertise(cfg.Name, t)
			if err != nil {
				slog.Warn("Failed to advertise transport", "transport", t.Meta().ID, "error", err)
				continue
			}
			defer adv.Shutdown()
		}
	}

	if cfg.MCP {
		s.EnableMCP(cfg.Name, version)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.BroadcastInterval > 0 {
		go tick(ctx, s, cfg.BroadcastInterval)
	}
	return s.Start(ctx)
}

// tick broadcasts the server time to every connection on each interval.
func tick(ctx context.Context, s *server.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Broadcast("tick", map[string]any{
				"time":        now.UTC(),
				"connections": s.Registry().Len(),
			})
		}
	}
}
