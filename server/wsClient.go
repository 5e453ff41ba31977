package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/especial/proto"
)

const writeWait = 10 * time.Second

type WSConn struct {
	ConnMetadata
	conn *websocket.Conn
	wmu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWSConn(conn *websocket.Conn, remoteAddr string, t Transport) *WSConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSConn{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		ConnMetadata: ConnMetadata{
			Id:          generateConnId("ws"),
			RemoteAddr:  remoteAddr,
			ConnectedAt: time.Now(),
			Transport:   t,
		},
	}
}

func (c *WSConn) Send(data []byte) error {
	if c.conn == nil {
		return fmt.Errorf("connection is not open")
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	slog.Debug("Sent WebSocket Message", "to", c.Id, "size", len(data))
	return nil
}

// Close sends a close frame with code, unless code is the reserved abnormal
// closure code, and closes the connection.
func (c *WSConn) Close(code int) error {
	c.cancel()
	if c.conn == nil {
		return nil
	}
	if code != proto.CloseAbnormalClosure {
		msg := websocket.FormatCloseMessage(code, "")
		err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			slog.Debug("Failed to send close message", "to", c.Id, "error", err)
		}
	}
	return c.conn.Close()
}

func (c *WSConn) Meta() *ConnMetadata {
	return &c.ConnMetadata
}

func (c *WSConn) Context() context.Context {
	return c.ctx
}
