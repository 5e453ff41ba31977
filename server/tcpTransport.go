package server

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// TCPTransport speaks newline-delimited JSON over plain TCP.
type TCPTransport struct {
	Addr         string
	listener     net.Listener
	onMessage    func(Conn, []byte)
	onConnect    func(Conn) error
	onDisconnect func(Conn)

	name        string
	description string
	clients     map[string]*TCPConn
	cmu         sync.RWMutex
	wg          sync.WaitGroup

	maxClients      int
	shutdownTimeout time.Duration
	connected       bool
}

func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{
		Addr:            addr,
		maxClients:      1024,
		shutdownTimeout: DefaultShutdownTimeout,
		clients:         make(map[string]*TCPConn),
	}
}

// Listen binds the listening socket. After Listen, Addr holds the bound
// address.
func (t *TCPTransport) Listen() error {
	t.cmu.Lock()
	defer t.cmu.Unlock()
	if t.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return err
	}
	t.listener = l
	t.Addr = l.Addr().String()
	t.connected = true
	return nil
}

func (t *TCPTransport) Start() error {
	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return fmt.Errorf("The OnConnect, OnDisconnect, or OnMessage function is not defined. This transport is likely being called outside of the server.")
	}
	if err := t.Listen(); err != nil {
		return err
	}
	slog.Info("Starting tcp server", "addr", t.Addr)

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.cmu.Lock()
			running := t.connected
			t.connected = false
			t.cmu.Unlock()
			if !running || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		t.cmu.Lock()
		if !t.connected {
			t.cmu.Unlock()
			conn.Close()
			return nil
		}
		if t.maxClients > 0 && len(t.clients) >= t.maxClients {
			t.cmu.Unlock()
			slog.Warn("Max clients reached, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close()
			continue
		}
		client := NewTCPConn(conn, t)
		t.clients[client.Id] = client
		t.wg.Add(1)
		t.cmu.Unlock()

		go t.handleConnection(client)
	}
}

func (t *TCPTransport) handleConnection(client *TCPConn) {
	defer t.wg.Done()
	slog.Info("TCP client connected", "addr", client.RemoteAddr, "id", client.Id)

	defer func() {
		t.cmu.Lock()
		delete(t.clients, client.Id)
		t.cmu.Unlock()

		t.onDisconnect(client)

		client.Close(0)
		slog.Info("TCP client disconnected", "addr", client.RemoteAddr, "id", client.Id)
	}()

	if err := t.onConnect(client); err != nil {
		slog.Error("Failed to register TCP client", "addr", client.RemoteAddr, "error", err.Error())
		return
	}

	reader := bufio.NewScanner(client.conn)
	reader.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	for reader.Scan() {
		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)
		slog.Debug("Message received", "from", client.Id, "size", len(data))
		t.onMessage(client, data)
	}

	if err := reader.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("Connection error", "addr", client.RemoteAddr, "error", err)
	}
}

// Shutdown closes the listener and every open connection, then waits up to
// the shutdown timeout for their handlers to return.
func (t *TCPTransport) Shutdown() error {
	slog.Info("Shutting down tcp server", "addr", t.Addr)

	t.cmu.Lock()
	t.connected = false
	timeout := t.shutdownTimeout
	listener := t.listener
	clients := make([]*TCPConn, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.cmu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, c := range clients {
		c.Close(0)
	}
	if !waitTimeout(&t.wg, timeout) {
		slog.Warn("Connections still open after shutdown timeout", "addr", t.Addr, "timeout", timeout)
		err = errors.Join(err, ErrShutdownTimeout)
	}
	return err
}

// SetShutdownTimeout bounds how long Shutdown waits for open connections.
// Zero waits indefinitely.
func (t *TCPTransport) SetShutdownTimeout(d time.Duration) {
	t.cmu.Lock()
	t.shutdownTimeout = d
	t.cmu.Unlock()
}

func (t *TCPTransport) OnMessage(fn func(Conn, []byte)) {
	t.onMessage = fn
}

func (t *TCPTransport) OnConnect(fn func(Conn) error) {
	t.onConnect = fn
}

func (t *TCPTransport) OnDisconnect(fn func(Conn)) {
	t.onDisconnect = fn
}

func (t *TCPTransport) Meta() TransportMetadata {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	return TransportMetadata{
		ID:          "tcp-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "tcp",
		Address:     t.Addr,
		Clients:     len(t.clients),
		MaxClients:  t.maxClients,
		Connected:   t.connected,
	}
}

func (t *TCPTransport) SetName(name string) {
	t.cmu.Lock()
	defer t.cmu.Unlock()
	t.name = name
}

func (t *TCPTransport) SetMaxClients(n int) {
	t.cmu.Lock()
	defer t.cmu.Unlock()
	t.maxClients = n
}

func (t *TCPTransport) SetDescription(description string) {
	t.cmu.Lock()
	defer t.cmu.Unlock()
	t.description = description
}
