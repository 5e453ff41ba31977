package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mbocsi/especial/proto"
)

// Context carries one request through its handler chain.
type Context struct {
	server *Server
	conn   Conn
	req    proto.Request

	next bool // set by Next during the current step

	mu        sync.Mutex
	responded bool
	status    int
}

func newContext(s *Server, conn Conn, req proto.Request) *Context {
	return &Context{server: s, conn: conn, req: req}
}

// ID returns the request's correlation id.
func (c *Context) ID() string {
	return c.req.ID
}

func (c *Context) Route() string {
	return c.req.Route
}

// Data returns the raw request payload.
func (c *Context) Data() json.RawMessage {
	return c.req.Data
}

// Bind decodes the request payload into v.
func (c *Context) Bind(v any) error {
	if len(c.req.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.req.Data, v); err != nil {
		return fmt.Errorf("invalid request data: %w", err)
	}
	return nil
}

func (c *Context) Conn() Conn {
	return c.conn
}

// Context is canceled when the connection that sent the request closes.
func (c *Context) Context() context.Context {
	return c.conn.Context()
}

// Next lets the chain continue with the following step once the current one
// returns.
func (c *Context) Next() {
	c.next = true
}

// Send answers the request. Its arguments are read by kind: a string is the
// message, a number the status and any other value the data. Missing parts
// default to status 0, "Success" or "Failure", and an empty object.
func (c *Context) Send(args ...any) error {
	return c.Reply(proto.ReplyFrom(args...))
}

// Reply answers the request with r. Only the first reply is written; later
// ones return ErrResponded.
func (c *Context) Reply(r proto.Reply) error {
	c.mu.Lock()
	if c.responded {
		c.mu.Unlock()
		return ErrResponded
	}
	c.responded = true
	c.status = r.Status()
	c.mu.Unlock()

	resp, err := r.Response(c.req.ID, c.req.Route)
	if err != nil {
		c.server.logger.Error("Failed to serialize response", "route", c.req.Route, "rid", c.req.ID, "error", err)
		resp = proto.SerializationFailure(c.req.ID, err)
		c.setStatus(resp.Status)
	}
	return c.server.write(c.conn, resp)
}

// Responded reports whether the request has been answered.
func (c *Context) Responded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}

func (c *Context) setStatus(status int) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// statusLabel is the metrics label for the request outcome.
func (c *Context) statusLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.responded {
		return "none"
	}
	return fmt.Sprint(c.status)
}
