package server

import (
	"errors"
	"fmt"
)

// ErrResponded is returned by Context.Send and Context.Reply once the request
// has already been answered.
var ErrResponded = errors.New("request already responded to")

// ErrShutdownTimeout is returned by a transport's Shutdown when connections
// were still being torn down once its shutdown timeout expired.
var ErrShutdownTimeout = errors.New("shutdown timed out waiting for connections")

// ConfigError reports invalid server setup, such as registering a route
// twice.
type ConfigError struct {
	Route  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s %q", e.Reason, e.Route)
}
