package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/especial/client"
	"github.com/mbocsi/especial/proto"
)

func TestNewWSTransport(t *testing.T) {
	transport := NewWSTransport("localhost:0")

	if transport.Addr != "localhost:0" {
		t.Errorf("Expected addr localhost:0, got %s", transport.Addr)
	}
	if transport.maxClients != 1024 {
		t.Errorf("Expected maxClients 1024, got %d", transport.maxClients)
	}
	if transport.clients == nil {
		t.Error("Expected clients map to be initialized")
	}
}

func TestWSTransport_SetMethods(t *testing.T) {
	transport := NewWSTransport("localhost:0")

	transport.SetName("test-ws-transport")
	transport.SetMaxClients(10)
	transport.SetDescription("Test WebSocket transport")

	meta := transport.Meta()
	if meta.Name != "test-ws-transport" {
		t.Errorf("Expected name 'test-ws-transport', got %s", meta.Name)
	}
	if meta.MaxClients != 10 {
		t.Errorf("Expected maxClients 10, got %d", meta.MaxClients)
	}
	if meta.Description != "Test WebSocket transport" {
		t.Errorf("Expected description 'Test WebSocket transport', got %s", meta.Description)
	}
	if meta.Protocol != "websocket" {
		t.Errorf("Expected protocol websocket, got %s", meta.Protocol)
	}
}

func TestWSTransport_StartWithoutCallbacks(t *testing.T) {
	transport := NewWSTransport("127.0.0.1:0")
	if err := transport.Start(); err == nil {
		t.Error("Expected error when starting without callbacks")
	}
}

// startWS runs a server with the routes used by the end-to-end tests.
func startWS(t *testing.T) (*Server, *WSTransport) {
	t.Helper()
	s := newTestServer(WithMetrics(NewMetrics("test")))
	s.Handle("ping", func(c *Context) error { return c.Send("pong") })
	s.Handle("fail", func(c *Context) error { return errors.New("boom") })
	s.UseFor(Exact("guarded"), func(c *Context) error { return nil })
	s.Handle("guarded", func(c *Context) error { return c.Send("unreachable") })

	tr, err := s.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, tr
}

func dialClient(t *testing.T, tr *WSTransport, opts client.ConnectOptions) *client.Client {
	t.Helper()
	c := client.New("ws://"+tr.Addr+"/", client.WebSocketFactory, client.WithLogger(discardLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, opts); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func noReconnect() client.ConnectOptions {
	return client.ConnectOptions{Retries: 0, Reconnect: false, RetryWait: 50 * time.Millisecond}
}

func TestEndToEnd_PingPong(t *testing.T) {
	_, tr := startWS(t)
	c := dialClient(t, tr, noReconnect())

	resp, err := c.Send(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Message != "pong" || resp.Status != 0 {
		t.Errorf("Expected status 0 'pong', got %d %q", resp.Status, resp.Message)
	}
}

func TestEndToEnd_MissingRoute(t *testing.T) {
	_, tr := startWS(t)
	c := dialClient(t, tr, noReconnect())

	resp, err := c.Send(context.Background(), "missing", nil)
	var reqErr *client.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Expected RequestError, got %v", err)
	}
	if resp.Status != proto.StatusFailure || resp.Message != `No handler for route "missing"` {
		t.Errorf("Unexpected response %d %q", resp.Status, resp.Message)
	}
}

func TestEndToEnd_HandlerFault(t *testing.T) {
	_, tr := startWS(t)
	c := dialClient(t, tr, noReconnect())

	resp, err := c.Send(context.Background(), "fail", nil)
	if err == nil {
		t.Fatal("Expected an error for a status 2 response")
	}
	if resp.Status != proto.StatusUncaught || !strings.HasPrefix(resp.Message, "An uncaught error occurred") {
		t.Errorf("Unexpected response %d %q", resp.Status, resp.Message)
	}
}

func TestEndToEnd_MiddlewareAbortLeavesRequestPending(t *testing.T) {
	_, tr := startWS(t)
	c := dialClient(t, tr, noReconnect())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := c.Send(ctx, "guarded", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected no response before the deadline, got %v", err)
	}
}

func TestEndToEnd_ConcurrentRequests(t *testing.T) {
	_, tr := startWS(t)
	c := dialClient(t, tr, noReconnect())

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := c.Send(context.Background(), "ping", nil)
			errs <- err
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Send failed: %v", err)
		}
	}
}

func TestEndToEnd_BroadcastOnceThenUnhandled(t *testing.T) {
	s, tr := startWS(t)
	c := dialClient(t, tr, noReconnect())
	eventually(t, time.Second, func() bool { return s.Registry().Len() == 1 }, "connection was never registered")

	var once, unhandled atomic.Int32
	var payload atomic.Value
	c.Once("newMessage", func(resp proto.Response) {
		var data string
		resp.Bind(&data)
		payload.Store(data)
		once.Add(1)
	})
	c.Listen(client.UnhandledMessage, func(proto.Response) { unhandled.Add(1) })

	for i := 0; i < 3; i++ {
		if sent := s.Broadcast("newMessage", "pong"); sent != 1 {
			t.Fatalf("Expected 1 delivery, got %d", sent)
		}
	}

	eventually(t, time.Second, func() bool { return once.Load()+unhandled.Load() == 3 }, "broadcasts were not received")
	if once.Load() != 1 || unhandled.Load() != 2 {
		t.Errorf("Expected 1 once and 2 unhandled, got %d and %d", once.Load(), unhandled.Load())
	}
	if payload.Load() != "pong" {
		t.Errorf("Expected data 'pong', got %v", payload.Load())
	}
}

func TestEndToEnd_RequestFromBroadcastListener(t *testing.T) {
	s, tr := startWS(t)
	c := dialClient(t, tr, noReconnect())
	eventually(t, time.Second, func() bool { return s.Registry().Len() == 1 }, "connection was never registered")

	result := make(chan error, 1)
	c.Once("refresh", func(proto.Response) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_, err := c.Send(ctx, "ping", nil)
		result <- err
	})
	if sent := s.Broadcast("refresh", nil); sent != 1 {
		t.Fatalf("Expected 1 delivery, got %d", sent)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("Expected request from listener to succeed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listener never ran")
	}
}

func TestEndToEnd_CloseReleasesConnectionsAndClientReconnects(t *testing.T) {
	s, tr := startWS(t)
	opts := client.ConnectOptions{Retries: client.RetryForever, Reconnect: true, RetryWait: 20 * time.Millisecond}
	c := dialClient(t, tr, opts)
	eventually(t, time.Second, func() bool { return s.Registry().Len() == 1 }, "connection was never registered")

	disconnected := make(chan struct{}, 1)
	c.AddConnectedHandler(func(connected bool) error {
		if !connected {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		}
		return nil
	})

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := s.Registry().Len(); n != 0 {
		t.Errorf("Expected no tracked connections after Close, got %d", n)
	}
	if n := tr.Meta().Clients; n != 0 {
		t.Errorf("Expected transport to track no clients, got %d", n)
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Client never observed the disconnect")
	}
	eventually(t, 2*time.Second, func() bool { return c.Attempts() > 2 }, "client did not attempt to reconnect")
}

func TestWSTransport_MaxClients(t *testing.T) {
	s, tr := startWS(t)
	tr.SetMaxClients(1)
	dialClient(t, tr, noReconnect())
	eventually(t, time.Second, func() bool { return s.Registry().Len() == 1 }, "connection was never registered")

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+tr.Addr+"/", nil)
	if err == nil {
		t.Fatal("Expected second connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %v", resp)
	}
}

func TestWSTransport_HealthAndMetrics(t *testing.T) {
	_, tr := startWS(t)
	c := dialClient(t, tr, noReconnect())
	if _, err := c.Send(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	res, err := http.Get("http://" + tr.Addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer res.Body.Close()
	var health struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		t.Fatalf("Invalid health response: %v", err)
	}
	if health.Status != "ok" || health.Connections != 1 {
		t.Errorf("Unexpected health %+v", health)
	}

	res, err = http.Get("http://" + tr.Addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), `test_dispatch_requests_total{route="ping",status="0"} 1`) {
		t.Errorf("Expected ping request in metrics, got:\n%s", body)
	}
}

func TestWSTransport_ShutdownTimesOutOnBusyHandler(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()

	s := newTestServer()
	s.Handle("block", func(c *Context) error {
		close(started)
		<-release
		return nil
	})
	tr, err := s.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	tr.SetShutdownTimeout(100 * time.Millisecond)

	c := dialClient(t, tr, noReconnect())
	go c.Send(context.Background(), "block", nil)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Handler never started")
	}

	start := time.Now()
	err = tr.Shutdown()
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Expected ErrShutdownTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected Shutdown to give up after its timeout, took %s", elapsed)
	}

	unblock()
	eventually(t, 2*time.Second, func() bool { return s.Registry().Len() == 0 }, "connection was not released after the handler returned")
}
