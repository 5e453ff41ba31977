package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mbocsi/especial/proto"
)

// ConnectionHandler is called on every transition into or out of the
// connected state. Transitions are delivered one at a time in the order
// they happened.
type ConnectionHandler func(connected bool) error

// Client multiplexes requests and unsolicited messages over one connection
// and reconnects it when it drops.
type Client struct {
	url     string
	factory TransportFactory
	logger  *slog.Logger

	// Connection state, see connection.go
	mu        sync.Mutex
	state     State
	transport Transport
	retry     *retrySequence
	attempts  int // dial attempts made over the client's lifetime

	disconnects int // incremented by every Disconnect call

	pending   *pendingTable
	listeners *listenerRegistry

	handlerMu    sync.RWMutex
	connHandlers map[string]ConnectionHandler

	// User callbacks never run on the read loop. Each queue keeps the
	// order in which its events happened.
	listenerQueue serialQueue
	notifyQueue   serialQueue
}

// New creates a client for url. The factory supplies a fresh Transport for
// every connect attempt and is required.
func New(url string, factory TransportFactory, opts ...Option) *Client {
	if factory == nil {
		panic("client: nil TransportFactory")
	}
	c := &Client{
		url:          url,
		factory:      factory,
		logger:       slog.Default(),
		pending:      newPendingTable(),
		listeners:    newListenerRegistry(),
		connHandlers: make(map[string]ConnectionHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) URL() string {
	return c.url
}

// Send issues a request on route and waits for its correlated response. A
// response with a nonzero status is returned together with a *RequestError.
// No timeout is applied beyond ctx; a dropped connection fails the request
// with ErrDisconnected.
func (c *Client) Send(ctx context.Context, route string, data any) (proto.Response, error) {
	c.mu.Lock()
	t := c.transport
	if c.state != StateConnected || t == nil {
		c.mu.Unlock()
		return proto.Response{}, ErrNotConnected
	}
	// Registered under c.mu so a concurrent teardown either fails this
	// waiter or happens strictly before it exists.
	id, wait := c.pending.register()
	c.mu.Unlock()

	req, err := proto.NewRequest(id, route, data)
	if err != nil {
		c.pending.drop(id)
		return proto.Response{}, err
	}
	b, err := json.Marshal(req)
	if err != nil {
		c.pending.drop(id)
		return proto.Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := t.Send(b); err != nil {
		c.pending.drop(id)
		return proto.Response{}, fmt.Errorf("send %q: %w", route, err)
	}
	c.logger.Debug("Request sent", "route", route, "rid", id, "size", len(b))

	select {
	case res := <-wait:
		if res.err != nil {
			return proto.Response{}, res.err
		}
		if !res.resp.OK() {
			return res.resp, &RequestError{Response: res.resp}
		}
		return res.resp, nil
	case <-ctx.Done():
		c.pending.drop(id)
		return proto.Response{}, ctx.Err()
	}
}

// Listen registers a persistent listener for key, which is either a
// correlation id or an event name. The returned id removes it again.
func (c *Client) Listen(key string, fn Listener) string {
	return c.listeners.add(key, fn, false)
}

// Once registers a listener that removes itself after its first invocation.
func (c *Client) Once(key string, fn Listener) string {
	return c.listeners.add(key, fn, true)
}

func (c *Client) ClearListener(key, id string) {
	c.listeners.remove(key, id)
}

func (c *Client) AddConnectedHandler(fn ConnectionHandler) string {
	id := uuid.NewString()
	c.handlerMu.Lock()
	c.connHandlers[id] = fn
	c.handlerMu.Unlock()
	return id
}

func (c *Client) ClearConnectedHandler(id string) {
	c.handlerMu.Lock()
	delete(c.connHandlers, id)
	c.handlerMu.Unlock()
}

// notifyConnectionChange queues one transition for the handlers registered
// right now. Transitions reach handlers in the order they were queued, so
// callers queue them while holding c.mu. Handler failures are logged and
// never reach the caller or the other handlers.
func (c *Client) notifyConnectionChange(connected bool) {
	c.handlerMu.RLock()
	ids := make([]string, 0, len(c.connHandlers))
	for id := range c.connHandlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	handlers := make([]ConnectionHandler, len(ids))
	for i, id := range ids {
		handlers[i] = c.connHandlers[id]
	}
	c.handlerMu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	c.notifyQueue.push(func() {
		for i, fn := range handlers {
			c.runConnectionHandler(ids[i], fn, connected)
		}
	})
}

func (c *Client) runConnectionHandler(id string, fn ConnectionHandler, connected bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Connection handler panicked", "handler", id, "panic", r)
		}
	}()
	if err := fn(connected); err != nil {
		c.logger.Warn("Uncaught error in connection handler", "handler", id, "error", err.Error())
	}
}

// handleMessage routes one incoming message: a pending request claims it
// first, then listeners registered under its key, then the unhandled
// listeners. Pending requests resolve inline; listeners are queued so a
// listener may itself call Send.
func (c *Client) handleMessage(data []byte) {
	var resp proto.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("Invalid JSON message received", "error", err, "data", string(data))
		return
	}
	c.logger.Debug("Message received", "rid", resp.ID, "route", resp.Route, "status", resp.Status, "size", len(data))

	if resp.ID != "" && c.pending.resolve(resp) {
		if c.listeners.has(resp.ID) {
			c.logger.Warn("Correlation id collides with registered listeners, ignoring listeners", "rid", resp.ID)
		}
		return
	}

	key := resp.Key()
	fns := c.listeners.take(key)
	if len(fns) == 0 {
		fns = c.listeners.take(UnhandledMessage)
	}
	if len(fns) == 0 {
		c.logger.Warn("No handler for message", "key", key, "status", resp.Status, "message", resp.Message)
		return
	}
	c.listenerQueue.push(func() {
		for _, fn := range fns {
			c.invoke(fn, resp)
		}
	})
}

func (c *Client) invoke(fn Listener, resp proto.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Listener panicked", "key", resp.Key(), "panic", r)
		}
	}()
	fn(resp)
}
