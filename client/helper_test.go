package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/especial/proto"
)

// mockServer hands out mockTransports and plays the remote peer.
type mockServer struct {
	mu     sync.Mutex
	accept bool
	dials  []time.Time
	conns  []*mockTransport
	gate   chan struct{} // when set, Connect blocks until it is closed

	onRequest func(t *mockTransport, req proto.Request)
}

func newMockServer(accept bool) *mockServer {
	return &mockServer{accept: accept}
}

func (s *mockServer) factory() Transport {
	return &mockTransport{server: s, in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (s *mockServer) setAccept(accept bool) {
	s.mu.Lock()
	s.accept = accept
	s.mu.Unlock()
}

func (s *mockServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dials)
}

func (s *mockServer) dialTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.dials...)
}

func (s *mockServer) last() *mockTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

type mockTransport struct {
	server *mockServer
	in     chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	closeCode int
}

func (t *mockTransport) Connect(ctx context.Context, addr string) error {
	s := t.server
	s.mu.Lock()
	s.dials = append(s.dials, time.Now())
	accept := s.accept
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if !accept {
		return errors.New("connection refused")
	}

	s.mu.Lock()
	s.conns = append(s.conns, t)
	s.mu.Unlock()
	return nil
}

func (t *mockTransport) Send(data []byte) error {
	select {
	case <-t.closed:
		return errors.New("use of closed connection")
	default:
	}

	t.server.mu.Lock()
	onRequest := t.server.onRequest
	t.server.mu.Unlock()

	if onRequest != nil {
		var req proto.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		go onRequest(t, req)
	}
	return nil
}

func (t *mockTransport) Read() ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, &CloseError{Code: t.closeCode}
	}
}

func (t *mockTransport) Close(code int) error {
	t.closeOnce.Do(func() {
		t.closeCode = code
		close(t.closed)
	})
	return nil
}

// push delivers a message from the peer.
func (t *mockTransport) push(resp proto.Response) {
	b, _ := json.Marshal(resp)
	t.in <- b
}

func (t *mockTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func newTestClient(s *mockServer) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("ws://mock", s.factory, WithLogger(logger))
}

func fastOptions(retries int, reconnect bool) ConnectOptions {
	return ConnectOptions{Retries: retries, Reconnect: reconnect, RetryWait: 20 * time.Millisecond}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func echoPong(t *mockTransport, req proto.Request) {
	t.push(proto.Response{ID: req.ID, Route: req.Route, Status: 0, Message: "pong"})
}
