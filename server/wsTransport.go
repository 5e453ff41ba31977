package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/especial/proto"
)

const maxMessageSize = 1 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

type WSTransport struct {
	Addr         string
	server       *http.Server
	listener     net.Listener
	router       chi.Router
	onMessage    func(Conn, []byte)
	onConnect    func(Conn) error
	onDisconnect func(Conn)

	name        string
	description string
	clients     map[string]*WSConn
	cmu         sync.RWMutex
	wg          sync.WaitGroup // one per open connection

	maxClients      int
	shutdownTimeout time.Duration
	connected       bool
	closed          bool // Shutdown was called
}

func NewWSTransport(addr string) *WSTransport {
	t := &WSTransport{
		Addr:            addr,
		maxClients:      1024,
		shutdownTimeout: DefaultShutdownTimeout,
		clients:         make(map[string]*WSConn),
	}

	r := chi.NewRouter()
	r.Get("/", t.handleWebSocket)
	r.Get("/ws", t.handleWebSocket)
	r.Get("/healthz", t.handleHealth)
	t.router = r
	return t
}

// Mount attaches an extra HTTP handler, e.g. the metrics endpoint, next to
// the WebSocket endpoint. It must be called before Start.
func (t *WSTransport) Mount(pattern string, h http.Handler) {
	t.router.Handle(pattern, h)
}

func (t *WSTransport) Handler() http.Handler {
	return t.router
}

// Listen binds the listening socket without serving it yet. After Listen,
// Addr holds the bound address, which resolves a ":0" port.
func (t *WSTransport) Listen() error {
	if t.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return err
	}
	t.listener = l
	t.Addr = l.Addr().String()
	return nil
}

func (t *WSTransport) Start() error {
	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return fmt.Errorf("The OnConnect, OnDisconnect, or OnMessage function is not defined. This transport is likely being called outside of the server.")
	}
	if err := t.Listen(); err != nil {
		return err
	}
	slog.Info("Starting WebSocket server", "addr", t.Addr)

	t.cmu.Lock()
	if t.closed {
		t.cmu.Unlock()
		return nil
	}
	t.server = &http.Server{
		Handler:           t.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.connected = true
	srv := t.server
	t.cmu.Unlock()

	err := srv.Serve(t.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.cmu.Lock()
		t.connected = false
		t.cmu.Unlock()
		return err
	}
	return nil
}

func (t *WSTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	t.cmu.RLock()
	full := t.maxClients > 0 && len(t.clients) >= t.maxClients
	t.cmu.RUnlock()

	if full {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewWSConn(conn, r.RemoteAddr, t)
	t.cmu.Lock()
	if !t.connected {
		t.cmu.Unlock()
		client.Close(websocket.CloseGoingAway)
		return
	}
	t.clients[client.Id] = client
	t.wg.Add(1)
	t.cmu.Unlock()

	go t.handleConnection(client)
}

func (t *WSTransport) handleConnection(client *WSConn) {
	defer t.wg.Done()
	slog.Info("WebSocket client connected", "addr", client.RemoteAddr, "id", client.Id)

	defer func() {
		t.cmu.Lock()
		delete(t.clients, client.Id)
		t.cmu.Unlock()

		t.onDisconnect(client)

		client.Close(proto.CloseAbnormalClosure)
		slog.Info("WebSocket client disconnected", "addr", client.RemoteAddr, "id", client.Id)
	}()

	if err := t.onConnect(client); err != nil {
		slog.Error("Failed to register WebSocket client", "addr", client.RemoteAddr, "error", err.Error())
		return
	}

	client.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket connection error", "addr", client.RemoteAddr, "error", err)
			}
			break
		}
		slog.Debug("WebSocket message received", "from", client.Id, "size", len(data))
		t.onMessage(client, data)
	}
}

func (t *WSTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	meta := t.Meta()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": meta.Clients,
		"running":     meta.Connected,
	})
}

// Shutdown stops accepting connections, closes every open connection with
// a going-away close frame and waits for their teardown to finish. A
// connection whose handler is still running stays open until the handler
// returns; Shutdown stops waiting after the shutdown timeout and reports
// ErrShutdownTimeout.
func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down WebSocket server", "addr", t.Addr)

	t.cmu.Lock()
	t.connected = false
	t.closed = true
	timeout := t.shutdownTimeout
	srv := t.server
	listener := t.listener
	clients := make([]*WSConn, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.cmu.Unlock()

	var err error
	if srv != nil {
		err = srv.Close()
	} else if listener != nil {
		err = listener.Close()
	}

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway)
	}
	if !waitTimeout(&t.wg, timeout) {
		slog.Warn("Connections still open after shutdown timeout", "addr", t.Addr, "timeout", timeout)
		err = errors.Join(err, ErrShutdownTimeout)
	}
	return err
}

// SetShutdownTimeout bounds how long Shutdown waits for open connections.
// Zero waits indefinitely.
func (t *WSTransport) SetShutdownTimeout(d time.Duration) {
	t.cmu.Lock()
	t.shutdownTimeout = d
	t.cmu.Unlock()
}

func (t *WSTransport) OnMessage(fn func(Conn, []byte)) {
	t.onMessage = fn
}

func (t *WSTransport) OnConnect(fn func(Conn) error) {
	t.onConnect = fn
}

func (t *WSTransport) OnDisconnect(fn func(Conn)) {
	t.onDisconnect = fn
}

func (t *WSTransport) Meta() TransportMetadata {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	return TransportMetadata{
		ID:          "ws-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "websocket",
		Address:     t.Addr,
		Clients:     len(t.clients),
		MaxClients:  t.maxClients,
		Connected:   t.connected,
	}
}

func (t *WSTransport) SetName(name string) {
	t.cmu.Lock()
	defer t.cmu.Unlock()
	t.name = name
}

// SetMaxClients limits concurrent connections; 0 means unlimited.
func (t *WSTransport) SetMaxClients(n int) {
	t.cmu.Lock()
	defer t.cmu.Unlock()
	t.maxClients = n
}

func (t *WSTransport) SetDescription(description string) {
	t.cmu.Lock()
	defer t.cmu.Unlock()
	t.description = description
}
