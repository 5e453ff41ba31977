package client

import (
	"errors"
	"fmt"

	"github.com/mbocsi/especial/proto"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrDisconnected     = errors.New("connection closed before a response arrived")
	ErrConnectCanceled  = errors.New("connect canceled")
	ErrRetriesExhausted = errors.New("connection retries exhausted")

	errStaleAttempt = errors.New("stale connection attempt")
)

// ConfigError reports invalid connect options.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid connect options: %s %s", e.Field, e.Reason)
}

// RequestError is returned by Send when the server answered with a nonzero
// status. The full response is kept for inspection.
type RequestError struct {
	Response proto.Response
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("received non-0 status response (status %d): %s", e.Response.Status, e.Response.Message)
}
