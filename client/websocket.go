package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/especial/proto"
)

const closeWriteWait = time.Second

type WebSocketTransport struct {
	dialer *websocket.Dialer
	conn   *websocket.Conn
	wmu    sync.Mutex // gorilla allows a single concurrent writer
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{dialer: websocket.DefaultDialer}
}

// WebSocketFactory is the TransportFactory for WebSocketTransport.
func WebSocketFactory() Transport {
	return NewWebSocketTransport()
}

func (t *WebSocketTransport) Connect(ctx context.Context, addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	// If no scheme is provided, assume ws://
	if u.Scheme == "" {
		u.Scheme = "ws"
	}

	// Convert tcp addresses to WebSocket URLs
	if u.Scheme == "tcp" {
		u.Scheme = "ws"
		u.Path = "/"
	}

	conn, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}

	t.conn = conn
	return nil
}

func (t *WebSocketTransport) Send(data []byte) error {
	if t.conn == nil {
		return fmt.Errorf("transport is not connected")
	}

	t.wmu.Lock()
	err := t.conn.WriteMessage(websocket.TextMessage, data)
	t.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send WebSocket message: %w", err)
	}

	slog.Debug("Sent WebSocket Message", "size", len(data))
	return nil
}

func (t *WebSocketTransport) Read() ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("transport is not connected")
	}

	_, data, err := t.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Text: ce.Text}
		}
		return nil, fmt.Errorf("WebSocket connection error: %w", err)
	}
	return data, nil
}

func (t *WebSocketTransport) Close(code int) error {
	if t.conn == nil {
		return nil
	}

	// 1006 is reserved for "no close frame"; only send a frame for real codes.
	if code != proto.CloseAbnormalClosure {
		msg := websocket.FormatCloseMessage(code, "")
		err := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			// Log error but don't return it - we still want to close the connection
			slog.Warn("Failed to send close message", "error", err)
		}
	}

	return t.conn.Close()
}
