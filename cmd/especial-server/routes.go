package main

import (
	"log/slog"
	"net"
	"regexp"
	"time"

	"github.com/mbocsi/especial/proto"
	"github.com/mbocsi/especial/server"
)

func registerRoutes(s *server.Server) {
	s.Use(logRequests)
	s.UseFor(server.Pattern(regexp.MustCompile(`^admin\.`)), requireLocal)

	s.Handle("ping", func(c *server.Context) error {
		return c.Send("pong")
	})

	s.Handle("echo", echo)

	s.Handle("time", func(c *server.Context) error {
		return c.Send(map[string]any{"time": time.Now().UTC()})
	})

	s.Handle("admin.broadcast", func(c *server.Context) error {
		var req struct {
			Event string `json:"event"`
			Data  any    `json:"data"`
		}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if req.Event == "" {
			return c.Send("event is required", 1)
		}
		sent := s.Broadcast(req.Event, req.Data)
		return c.Send(map[string]int{"sent": sent})
	})

	s.Handle("admin.routes", func(c *server.Context) error {
		return c.Send(s.Routes())
	})
}

// echo returns the request data unchanged. The data goes out as data even
// when it is a number or a string.
func echo(c *server.Context) error {
	var v any
	if err := c.Bind(&v); err != nil {
		return err
	}
	return c.Reply(proto.NewReply().WithData(v))
}

func logRequests(c *server.Context) error {
	slog.Info("Request", "route", c.Route(), "rid", c.ID(), "conn", c.Conn().Meta().Id)
	c.Next()
	return nil
}

// requireLocal rejects admin routes from non-loopback peers.
func requireLocal(c *server.Context) error {
	if !isLoopback(c.Conn().Meta().RemoteAddr) {
		return c.Send("Forbidden", 1)
	}
	c.Next()
	return nil
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
