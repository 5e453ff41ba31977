package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbocsi/especial/proto"
)

// handleMessage dispatches one raw message from conn, inline or on its own
// goroutine depending on the dispatch mode.
func (s *Server) handleMessage(conn Conn, data []byte) {
	if s.concurrent {
		go s.dispatch(conn, data)
		return
	}
	s.dispatch(conn, data)
}

func (s *Server) dispatch(conn Conn, data []byte) {
	var req proto.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn("Invalid JSON message received", "conn", conn.Meta().Id, "error", err, "data", string(data))
		s.metrics.requestDone(invalidRouteLabel, "1", 0)
		if werr := s.write(conn, proto.ParseFailure(err)); werr != nil {
			s.logger.Warn("Failed to send parse failure", "conn", conn.Meta().Id, "error", werr)
		}
		return
	}

	start := time.Now()
	c := newContext(s, conn, req)
	s.logger.Debug("Request received", "route", req.Route, "rid", req.ID, "conn", conn.Meta().Id)

	chain := s.chain(req.Route)
	if chain == nil {
		s.logger.Warn("No handler for route", "route", req.Route, "conn", conn.Meta().Id)
		if err := c.Send(fmt.Sprintf("No handler for route %q", req.Route), proto.StatusFailure); err != nil {
			s.logger.Warn("Failed to send response", "route", req.Route, "error", err)
		}
		s.metrics.requestDone(unknownRouteLabel, c.statusLabel(), 0)
		return
	}

	if err := s.run(c, chain); err != nil {
		s.handleFault(c, err)
	}
	s.metrics.requestDone(req.Route, c.statusLabel(), time.Since(start))
}

// run executes chain step by step until a step returns without calling Next,
// the chain is exhausted or a step fails.
func (s *Server) run(c *Context, chain []HandlerFunc) error {
	for _, h := range chain {
		c.next = false
		if err := call(c, h); err != nil {
			return err
		}
		if !c.next {
			return nil
		}
	}
	return nil
}

// call runs one step, turning a panic into an error.
func call(c *Context, h HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(c)
}

func (s *Server) handleFault(c *Context, err error) {
	s.logger.Error("Uncaught error in handler chain", "route", c.Route(), "rid", c.ID(), "error", err)
	s.metrics.fault(c.Route())

	if fn := s.errorHandler(); fn != nil {
		herr := call(c, func(c *Context) error { return fn(c, err) })
		if herr != nil {
			s.logger.Error("Error handler failed", "route", c.Route(), "rid", c.ID(), "error", herr)
		}
		return
	}

	if c.Responded() {
		return
	}
	if serr := c.Send(fmt.Sprintf("An uncaught error occurred %q", err.Error()), proto.StatusUncaught); serr != nil {
		s.logger.Warn("Failed to send response", "route", c.Route(), "error", serr)
	}
}

// write encodes resp and sends it on conn. An unencodable response is
// replaced by the serialization failure envelope.
func (s *Server) write(conn Conn, resp proto.Response) error {
	data, err := proto.Encode(resp)
	if err != nil {
		s.logger.Error("Failed to serialize response", "rid", resp.ID, "error", err)
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("send to %s: %w", conn.Meta().Id, err)
	}
	return nil
}
