package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mbocsi/especial/proto"
	"golang.org/x/sync/errgroup"
)

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConcurrentDispatch runs every request on its own goroutine. By default
// requests from one connection are dispatched one at a time in the order
// they arrive.
func WithConcurrentDispatch(concurrent bool) Option {
	return func(s *Server) {
		s.concurrent = concurrent
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server routes requests from all of its transports through one route
// table and answers them on the connection they arrived on.
type Server struct {
	logger     *slog.Logger
	metrics    *Metrics
	concurrent bool

	rmu        sync.RWMutex
	routes     map[string][]HandlerFunc
	middleware []middleware
	errHandler ErrorHandlerFunc

	registry *ConnRegistry
	broker   *Broker

	tmu        sync.Mutex
	transports []Transport
	serving    map[Transport]bool // started by Listen
	mcp        *MCPServer
}

func New(opts ...Option) *Server {
	s := &Server{
		logger:   slog.Default(),
		routes:   make(map[string][]HandlerFunc),
		registry: NewConnRegistry(),
		serving:  make(map[Transport]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.broker = NewBroker(s.registry, s.metrics, s.logger)
	return s
}

func (s *Server) Registry() *ConnRegistry {
	return s.registry
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// RegisterTransport wires t's callbacks into the server. The transport is
// started by Start, or by the caller.
func (s *Server) RegisterTransport(t Transport) {
	t.OnMessage(s.handleMessage)
	t.OnConnect(s.registerConn)
	t.OnDisconnect(s.unregisterConn)

	s.tmu.Lock()
	s.transports = append(s.transports, t)
	s.tmu.Unlock()
}

func (s *Server) Transports() []Transport {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return append([]Transport(nil), s.transports...)
}

func (s *Server) registerConn(conn Conn) error {
	s.registry.Store(conn)
	s.metrics.connOpened()
	s.logger.Info("Registered connection", "id", conn.Meta().Id, "addr", conn.Meta().RemoteAddr)
	return nil
}

func (s *Server) unregisterConn(conn Conn) {
	s.registry.Delete(conn.Meta().Id)
	s.metrics.connClosed()
	s.logger.Info("Unregistered connection", "id", conn.Meta().Id)
}

// Listen starts a WebSocket transport on addr. The socket is bound before
// Listen returns and served in the background until Close. The metrics
// endpoint is mounted at /metrics when metrics are enabled.
func (s *Server) Listen(addr string) (*WSTransport, error) {
	t := NewWSTransport(addr)
	if s.metrics != nil {
		t.Mount("/metrics", s.metrics.Handler())
	}
	if err := t.Listen(); err != nil {
		return nil, err
	}
	s.RegisterTransport(t)
	s.tmu.Lock()
	s.serving[t] = true
	s.tmu.Unlock()

	go func() {
		if err := t.Start(); err != nil {
			s.logger.Error("WebSocket transport stopped", "addr", t.Addr, "error", err)
		}
	}()
	return t, nil
}

// Start runs every registered transport not started yet, plus the MCP server
// if enabled, until ctx is canceled or one of them fails. Everything is shut
// down before Start returns.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	s.tmu.Lock()
	for _, t := range s.transports {
		if !s.serving[t] {
			s.serving[t] = true
			g.Go(t.Start)
		}
	}
	s.tmu.Unlock()
	if s.mcp != nil {
		g.Go(s.mcp.Start)
	}
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("Shutting down transports and server")
		return s.Close()
	})

	return g.Wait()
}

// Close shuts down every transport. Each transport closes its connections,
// so the connection registry is empty once Close returns.
func (s *Server) Close() error {
	var errs []error
	for _, t := range s.Transports() {
		if err := t.Shutdown(); err != nil {
			s.logger.Error("There was an error when shutting down transport server", "error", err.Error())
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcast sends an unsolicited status 0 message named event to every open
// connection and returns the number of connections it reached.
func (s *Server) Broadcast(event string, data any) int {
	return s.broker.Publish(s.event(event, data))
}

// BroadcastTo sends an unsolicited message named event to one connection.
func (s *Server) BroadcastTo(conn Conn, event string, data any) error {
	return s.broker.PublishTo(conn, s.event(event, data))
}

func (s *Server) event(name string, data any) proto.Response {
	resp, err := proto.NewReply().WithMessage(name).WithData(data).Response("", "")
	if err != nil {
		s.logger.Error("Failed to serialize broadcast", "event", name, "error", err)
		return proto.SerializationFailure("", err)
	}
	return resp
}
