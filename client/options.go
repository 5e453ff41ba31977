package client

import (
	"log/slog"
	"time"
)

// RetryForever disables the retry budget.
const RetryForever = -1

// ConnectOptions controls the initial connection and every reconnect.
type ConnectOptions struct {
	Retries   int           // retries after the first attempt, or RetryForever
	Reconnect bool          // retry after failures and abnormal disconnects
	RetryWait time.Duration // delay between two attempts
}

func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		Retries:   3,
		Reconnect: true,
		RetryWait: 2 * time.Second,
	}
}

func (o ConnectOptions) Validate() error {
	if o.Retries < RetryForever {
		return &ConfigError{Field: "retries", Reason: "must be non-negative or RetryForever"}
	}
	if o.RetryWait < 0 {
		return &ConfigError{Field: "retry wait", Reason: "must not be negative"}
	}
	return nil
}

func (o ConnectOptions) exhausted(retries int) bool {
	return o.Retries != RetryForever && retries > o.Retries
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}
