package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mbocsi/especial/client"
)

type ServerConfig struct {
	Addr               string        // WebSocket listen address
	TCPAddr            string        // optional newline-delimited JSON listener
	Name               string        // transport name, also the mDNS instance
	MaxClients         int           // per transport, 0 for unlimited
	ConcurrentDispatch bool          // dispatch each request on its own goroutine
	MCP                bool          // serve MCP tools over stdio
	Advertise          bool          // announce transports over mDNS
	BroadcastInterval  time.Duration // 0 disables the periodic "tick" broadcast
	ShutdownTimeout    time.Duration // 0 waits for every connection to finish
	MetricsNamespace   string
	LogLevel           slog.Level
	LogFormat          string // "json" or "text"
}

type ClientConfig struct {
	URL       string
	Transport string // "websocket" or "tcp"
	Discover  bool   // find the server over mDNS instead of URL
	Retries   int    // -1 retries forever
	Reconnect bool
	RetryWait time.Duration
	LogLevel  slog.Level
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             ":8080",
		Name:             "especial",
		MaxClients:       1024,
		ShutdownTimeout:  5 * time.Second,
		MetricsNamespace: "especial",
		LogLevel:         slog.LevelDebug,
		LogFormat:        "json",
	}
}

func DefaultClientConfig() ClientConfig {
	opts := client.DefaultConnectOptions()
	return ClientConfig{
		URL:       "ws://localhost:8080/",
		Transport: "websocket",
		Retries:   opts.Retries,
		Reconnect: opts.Reconnect,
		RetryWait: opts.RetryWait,
		LogLevel:  slog.LevelDebug,
	}
}

type serverFile struct {
	Addr               string `toml:"addr"`
	TCPAddr            string `toml:"tcp_addr"`
	Name               string `toml:"name"`
	MaxClients         int    `toml:"max_clients"`
	ConcurrentDispatch bool   `toml:"concurrent_dispatch"`
	MCP                bool   `toml:"mcp"`
	Advertise          bool   `toml:"advertise"`
	BroadcastInterval  string `toml:"broadcast_interval"`
	ShutdownTimeout    string `toml:"shutdown_timeout"`
	MetricsNamespace   string `toml:"metrics_namespace"`
	LogLevel           string `toml:"log_level"`
	LogFormat          string `toml:"log_format"`
}

type clientFile struct {
	URL       string `toml:"url"`
	Transport string `toml:"transport"`
	Discover  bool   `toml:"discover"`
	Retries   int    `toml:"retries"`
	Reconnect bool   `toml:"reconnect"`
	RetryWait string `toml:"retry_wait"`
	LogLevel  string `toml:"log_level"`
}

// LoadServerConfig reads path over the defaults. Keys missing from the file
// keep their default value.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("tcp_addr") {
		cfg.TCPAddr = strings.TrimSpace(raw.TCPAddr)
	}
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("max_clients") {
		cfg.MaxClients = raw.MaxClients
	}
	if meta.IsDefined("concurrent_dispatch") {
		cfg.ConcurrentDispatch = raw.ConcurrentDispatch
	}
	if meta.IsDefined("mcp") {
		cfg.MCP = raw.MCP
	}
	if meta.IsDefined("advertise") {
		cfg.Advertise = raw.Advertise
	}
	if meta.IsDefined("broadcast_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BroadcastInterval))
		if err != nil {
			return ServerConfig{}, fmt.Errorf("parse broadcast_interval: %w", err)
		}
		cfg.BroadcastInterval = d
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return ServerConfig{}, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if meta.IsDefined("metrics_namespace") {
		cfg.MetricsNamespace = strings.TrimSpace(raw.MetricsNamespace)
	}
	if meta.IsDefined("log_level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(raw.LogLevel))); err != nil {
			return ServerConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(raw.LogFormat))
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) Validate() error {
	if c.Addr == "" && c.TCPAddr == "" {
		return fmt.Errorf("invalid server config: addr or tcp_addr is required")
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("invalid server config: max_clients must not be negative, got %d", c.MaxClients)
	}
	if c.BroadcastInterval < 0 {
		return fmt.Errorf("invalid server config: broadcast_interval must not be negative, got %s", c.BroadcastInterval)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid server config: shutdown_timeout must not be negative, got %s", c.ShutdownTimeout)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid server config: log_format must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// LoadClientConfig reads path over the defaults.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("discover") {
		cfg.Discover = raw.Discover
	}
	if meta.IsDefined("retries") {
		cfg.Retries = raw.Retries
	}
	if meta.IsDefined("reconnect") {
		cfg.Reconnect = raw.Reconnect
	}
	if meta.IsDefined("retry_wait") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetryWait))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse retry_wait: %w", err)
		}
		cfg.RetryWait = d
	}
	if meta.IsDefined("log_level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(raw.LogLevel))); err != nil {
			return ClientConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) Validate() error {
	if c.URL == "" && !c.Discover {
		return fmt.Errorf("invalid client config: url is required unless discover is set")
	}
	if c.Transport != "websocket" && c.Transport != "tcp" {
		return fmt.Errorf("invalid client config: transport must be websocket or tcp, got %q", c.Transport)
	}
	return c.ConnectOptions().Validate()
}

func (c ClientConfig) ConnectOptions() client.ConnectOptions {
	return client.ConnectOptions{Retries: c.Retries, Reconnect: c.Reconnect, RetryWait: c.RetryWait}
}

// Factory returns the transport factory named by Transport.
func (c ClientConfig) Factory() client.TransportFactory {
	if c.Transport == "tcp" {
		return client.TCPFactory
	}
	return client.WebSocketFactory
}
