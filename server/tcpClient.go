package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// TCPConn writes each message as one line of JSON.
type TCPConn struct {
	ConnMetadata
	conn net.Conn
	wmu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTCPConn(conn net.Conn, t Transport) *TCPConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &TCPConn{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		ConnMetadata: ConnMetadata{
			Id:          generateConnId("tcp"),
			ConnectedAt: time.Now(),
			Transport:   t,
		},
	}
	if conn != nil {
		c.RemoteAddr = conn.RemoteAddr().String()
	}
	return c
}

func (c *TCPConn) Send(data []byte) error {
	if c.conn == nil {
		return fmt.Errorf("connection is not open")
	}
	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, data...)
	frame = append(frame, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err := c.conn.Write(frame)
	slog.Debug("Sent Message", "to", c.Id, "size", len(data))
	return err
}

// Close closes the socket; plain TCP has no way to carry the close code.
func (c *TCPConn) Close(code int) error {
	c.cancel()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *TCPConn) Meta() *ConnMetadata {
	return &c.ConnMetadata
}

func (c *TCPConn) Context() context.Context {
	return c.ctx
}
