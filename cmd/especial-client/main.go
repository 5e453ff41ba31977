package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbocsi/especial/client"
	"github.com/mbocsi/especial/config"
	"github.com/mbocsi/especial/proto"
)

func setupLogger(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	route := flag.String("route", "ping", "route to request")
	data := flag.String("data", "", "request data as JSON")
	watch := flag.Bool("watch", false, "keep running and print broadcasts")
	flag.Parse()

	cfg := config.DefaultClientConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadClientConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	setupLogger(cfg.LogLevel)

	if err := run(cfg, *route, *data, *watch); err != nil {
		slog.Error("Client failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.ClientConfig, route, data string, watch bool) error {
	url, factory := cfg.URL, cfg.Factory()
	if cfg.Discover {
		discover := client.DiscoverWebSocketService
		if cfg.Transport == "tcp" {
			discover = client.DiscoverTCPService
		}
		service, err := discover(5 * time.Second)
		if err != nil {
			return err
		}
		url, factory = service.URL(), service.Factory()
	}

	var payload any
	if data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return fmt.Errorf("invalid -data: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(url, factory)
	c.AddConnectedHandler(func(connected bool) error {
		slog.Info("Connection changed", "url", url, "connected", connected)
		return nil
	})
	c.Listen(client.UnhandledMessage, printResponse)

	if err := c.Connect(ctx, cfg.ConnectOptions()); err != nil {
		return err
	}
	defer c.Disconnect()

	resp, err := c.Send(ctx, route, payload)
	if resp.ID != "" {
		printResponse(resp)
	}
	if err != nil && !watch {
		return err
	}

	if watch {
		<-ctx.Done()
	}
	return nil
}

func printResponse(resp proto.Response) {
	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		slog.Warn("Failed to format response", "error", err)
		return
	}
	fmt.Println(string(b))
}
