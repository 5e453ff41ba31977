package server

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

// MockConn records everything sent to it.
type MockConn struct {
	meta    ConnMetadata
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewMockConn(id string) *MockConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &MockConn{
		meta:   ConnMetadata{Id: id, RemoteAddr: "mock", ConnectedAt: time.Now()},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (mc *MockConn) Send(data []byte) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.sendErr != nil {
		return mc.sendErr
	}
	mc.sent = append(mc.sent, append([]byte(nil), data...))
	return nil
}

func (mc *MockConn) Close(code int) error {
	mc.mu.Lock()
	mc.closed = true
	mc.mu.Unlock()
	mc.cancel()
	return nil
}

func (mc *MockConn) Meta() *ConnMetadata {
	return &mc.meta
}

func (mc *MockConn) Context() context.Context {
	return mc.ctx
}

func (mc *MockConn) SetSendError(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.sendErr = err
}

// Responses decodes every message sent so far.
func (mc *MockConn) Responses(t *testing.T) []proto.Response {
	t.Helper()
	mc.mu.Lock()
	defer mc.mu.Unlock()

	res := make([]proto.Response, 0, len(mc.sent))
	for _, data := range mc.sent {
		var resp proto.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("Sent invalid JSON %s: %v", data, err)
		}
		res = append(res, resp)
	}
	return res
}

// only returns the single response sent on mc.
func (mc *MockConn) only(t *testing.T) proto.Response {
	t.Helper()
	res := mc.Responses(t)
	if len(res) != 1 {
		t.Fatalf("Expected exactly 1 response, got %d", len(res))
	}
	return res[0]
}

var errMockSend = errors.New("mock send failure")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(opts ...Option) *Server {
	return New(append([]Option{WithLogger(discardLogger())}, opts...)...)
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

// counterValue reads a counter from m's registry; missing series read as 0.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}
