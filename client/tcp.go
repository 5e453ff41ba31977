package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/mbocsi/especial/proto"
)

const maxFrameSize = 1 << 20

// TCPTransport frames each message as one line of JSON.
type TCPTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// TCPFactory is the TransportFactory for TCPTransport.
func TCPFactory() Transport {
	return NewTCPTransport()
}

func (t *TCPTransport) Connect(ctx context.Context, addr string) error {
	addr = strings.TrimPrefix(addr, "tcp://")
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	t.conn = conn
	t.scanner = bufio.NewScanner(conn)
	t.scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return nil
}

func (t *TCPTransport) Send(data []byte) error {
	if t.conn == nil {
		return fmt.Errorf("transport is not connected")
	}
	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, data...)
	frame = append(frame, '\n')

	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, err := t.conn.Write(frame)
	return err
}

func (t *TCPTransport) Read() ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("transport is not connected")
	}
	if t.scanner.Scan() {
		line := t.scanner.Bytes()
		data := make([]byte, len(line))
		copy(data, line)
		return data, nil
	}

	if err := t.scanner.Err(); err != nil {
		return nil, err
	}

	// Plain TCP has no close handshake, so EOF is always abnormal.
	return nil, &CloseError{Code: proto.CloseAbnormalClosure, Text: "connection closed"}
}

func (t *TCPTransport) Close(code int) error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
