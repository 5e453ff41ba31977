package client

import (
	"context"
	"fmt"
)

// Transport is a single message-oriented connection to a server. A Transport
// is used for exactly one connection: every connect attempt gets a fresh one
// from the client's TransportFactory.
type Transport interface {
	Connect(ctx context.Context, addr string) error
	Send(data []byte) error
	Read() ([]byte, error) // blocks until one whole message arrives
	Close(code int) error
}

// TransportFactory creates a fresh, unconnected Transport.
type TransportFactory func() Transport

// CloseError is returned by Transport.Read when the peer closed the connection
// with a close code.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("connection closed (code %d)", e.Code)
	}
	return fmt.Sprintf("connection closed (code %d): %s", e.Code, e.Text)
}
