package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbocsi/especial/proto"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// retrySequence is one run of connect attempts. It completes exactly once,
// with nil once a connection is established or with the reason it gave up.
type retrySequence struct {
	ctx        context.Context
	cancel     context.CancelFunc
	background bool

	once sync.Once
	done chan struct{}
	err  error
}

func newRetrySequence(background bool) *retrySequence {
	ctx, cancel := context.WithCancel(context.Background())
	return &retrySequence{ctx: ctx, cancel: cancel, background: background, done: make(chan struct{})}
}

func (s *retrySequence) finish(err error) {
	s.once.Do(func() {
		s.err = err
		s.cancel()
		close(s.done)
	})
}

func (s *retrySequence) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Attempts reports how many connection attempts the client has made.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect establishes the connection, retrying according to opts, and returns
// once connected or once the retry sequence gives up. It is idempotent: when
// already connected it returns nil without a new attempt, and while a retry
// sequence is running it waits for that sequence instead of starting another.
//
// Use AddConnectedHandler to observe later connection changes.
func (c *Client) Connect(ctx context.Context, opts ConnectOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	seq := c.retry
	if seq == nil {
		seq = c.startRetryLocked(opts, false)
	}
	c.mu.Unlock()

	return seq.wait(ctx)
}

// Disconnect cancels any running retry sequence and closes the connection
// with a normal closure. It is safe to call any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	seq := c.retry
	c.retry = nil
	t := c.transport
	c.transport = nil
	wasConnected := c.state == StateConnected
	if t != nil {
		c.state = StateDisconnecting
		c.pending.failAll(ErrDisconnected)
	} else if seq != nil {
		c.state = StateDisconnected
	}
	if wasConnected {
		c.notifyConnectionChange(false)
	}
	c.mu.Unlock()

	if seq != nil {
		seq.finish(ErrConnectCanceled)
		c.logger.Info("Connection retry canceled", "url", c.url)
	}
	if t == nil {
		return
	}

	if err := t.Close(proto.CloseNormalClosure); err != nil {
		c.logger.Warn("Failed to close connection", "url", c.url, "error", err)
	}

	c.mu.Lock()
	if c.state == StateDisconnecting {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	c.logger.Info("Disconnected", "url", c.url)
}

func (c *Client) startRetryLocked(opts ConnectOptions, background bool) *retrySequence {
	seq := newRetrySequence(background)
	c.retry = seq
	c.state = StateConnecting
	go c.runRetry(seq, opts)
	return seq
}

// runRetry makes the first attempt immediately and each further attempt
// opts.RetryWait after the previous one failed.
func (c *Client) runRetry(seq *retrySequence, opts ConnectOptions) {
	var lastErr error
	for retries := 0; ; retries++ {
		if retries > 0 {
			if opts.exhausted(retries) {
				c.endRetry(seq, fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, opts.Retries, lastErr))
				return
			}
			timer := time.NewTimer(opts.RetryWait)
			select {
			case <-timer.C:
			case <-seq.ctx.Done():
				timer.Stop()
				return
			}
		}
		if seq.ctx.Err() != nil {
			return
		}

		err := c.attempt(seq, opts)
		if err == nil || errors.Is(err, errStaleAttempt) || seq.ctx.Err() != nil {
			return
		}
		lastErr = err
		c.logger.Debug("Connection attempt failed", "url", c.url, "retry", retries, "error", err)

		if !opts.Reconnect {
			c.endRetry(seq, fmt.Errorf("connect %s: %w", c.url, err))
			return
		}
	}
}

func (c *Client) endRetry(seq *retrySequence, err error) {
	c.mu.Lock()
	if c.retry == seq {
		c.retry = nil
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
	}
	c.mu.Unlock()

	seq.finish(err)
	if seq.background {
		c.logger.Error("Reconnect failed, giving up", "url", c.url, "error", err)
	} else {
		c.logger.Warn("Connect failed", "url", c.url, "error", err)
	}
}

// attempt dials once. A dial that completes after its sequence was canceled
// or superseded is closed without touching client state.
func (c *Client) attempt(seq *retrySequence, opts ConnectOptions) error {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	t := c.factory()
	if err := t.Connect(seq.ctx, c.url); err != nil {
		return err
	}

	c.mu.Lock()
	if c.retry != seq || seq.ctx.Err() != nil {
		c.mu.Unlock()
		t.Close(proto.CloseNormalClosure)
		return errStaleAttempt
	}
	c.retry = nil
	c.transport = t
	c.state = StateConnected
	c.notifyConnectionChange(true)
	c.mu.Unlock()

	seq.finish(nil)
	c.logger.Info("Connected", "url", c.url)

	go c.readLoop(t, opts)
	return nil
}

// readLoop delivers messages from t until it fails, then tears the
// connection down and, for an abnormal close, starts reconnecting.
func (c *Client) readLoop(t Transport, opts ConnectOptions) {
	var err error
	for {
		var data []byte
		data, err = t.Read()
		if err != nil {
			break
		}
		c.handleMessage(data)
	}

	code := proto.CloseAbnormalClosure
	var ce *CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	c.mu.Lock()
	if c.transport != t {
		// Closed by Disconnect or already replaced.
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.state = StateDisconnected
	failed := c.pending.failAll(ErrDisconnected)
	disconnects := c.disconnects
	c.notifyConnectionChange(false)
	c.mu.Unlock()

	t.Close(proto.CloseAbnormalClosure)
	c.logger.Warn("Connection lost", "url", c.url, "code", code, "pending_failed", failed, "error", err)

	if code == proto.CloseNormalClosure || !opts.Reconnect {
		return
	}

	c.mu.Lock()
	// A Disconnect or Connect since the teardown takes precedence.
	if c.retry == nil && c.transport == nil && c.disconnects == disconnects {
		c.startRetryLocked(opts, true)
		c.logger.Info("Reconnecting", "url", c.url, "retries", opts.Retries, "retry_wait", opts.RetryWait)
	}
	c.mu.Unlock()
}
