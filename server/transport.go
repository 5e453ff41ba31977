package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport accepts connections and reports their lifecycle and messages to
// the Server through the registered callbacks.
type Transport interface {
	Start() error
	OnMessage(func(Conn, []byte))
	OnConnect(func(Conn) error)
	OnDisconnect(func(Conn))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	ID          string
	Name        string // Human-friendly name, e.g., "WebSocket Gateway"
	Protocol    string // Protocol name, e.g., "tcp", "websocket"
	Address     string // Bind address, e.g., "0.0.0.0:8080"
	Description string // Optional, short purpose/use case

	Clients    int  // Current open connections
	MaxClients int  // Max allowed connections (0 for unlimited)
	Connected  bool // Whether the transport is currently running/bound
}

type ConnMetadata struct {
	Id          string
	RemoteAddr  string
	ConnectedAt time.Time
	Transport   Transport
}

// Conn is one accepted connection. Send is safe for concurrent use.
type Conn interface {
	Send(data []byte) error
	Close(code int) error
	Meta() *ConnMetadata
	// Context is canceled once the connection is closed.
	Context() context.Context
}

// DefaultShutdownTimeout bounds how long Shutdown waits for open connections
// to finish. A handler that ignores Conn.Context keeps its connection open
// until it returns.
const DefaultShutdownTimeout = 5 * time.Second

// waitTimeout waits for wg and reports whether it finished within d. A d of
// zero or less waits indefinitely.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	if d <= 0 {
		wg.Wait()
		return true
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func generateConnId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
