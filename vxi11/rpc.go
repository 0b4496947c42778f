package vxi11

import (
	"context"
	"fmt"
	"sync"

	"github.com/vxikit/vxidash/logger"
)

// RPCClient speaks true VXI-11 over ONC RPC with the device-locking
// discipline: acquire the device lock before an operation, release it on
// every exit path when auto-unlock is enabled, and retry exactly once after
// re-acquiring the lock when the failure indicates a lock problem.
//
// The client lazily establishes one persistent device link on first use. Link
// I/O runs on a separate goroutine per operation so a slow or unresponsive
// instrument never blocks the caller's loop beyond its context.
type RPCClient struct {
	host   string
	device string
	cfg    *ClientConfig
	logger logger.Logger

	mu     sync.Mutex // serializes operations on the link
	link   Link
	locked bool
	closed bool
}

var _ Client = (*RPCClient)(nil)

func newRPCClient(host, device string, cfg *ClientConfig) (*RPCClient, error) {
	if host == "" {
		return nil, ErrEmptyHost
	}
	if cfg.linkDialer == nil {
		return nil, ErrNoLinkDialer
	}

	return &RPCClient{
		host:   host,
		device: device,
		cfg:    cfg,
		logger: cfg.logger.With("host", host, "device", device),
	}, nil
}

// Query sends a command and returns the instrument's response.
func (c *RPCClient) Query(ctx context.Context, command string) (string, error) {
	Metrics.incQueryCount()
	return c.do(ctx, command, true)
}

// Write sends a command without reading a reply.
func (c *RPCClient) Write(ctx context.Context, command string) error {
	Metrics.incWriteCount()
	_, err := c.do(ctx, command, false)

	return err
}

func (c *RPCClient) Transport() Transport { return RPCTransport }

func (c *RPCClient) Degraded() bool { return false }

// Close destroys the device link. The client cannot be reused afterward.
func (c *RPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.link == nil {
		return nil
	}

	err := c.link.Close()
	c.link = nil
	c.locked = false

	return err
}

type opResult struct {
	resp string
	err  error
}

// do runs the operation on a worker goroutine and waits for either its result
// or context cancellation, so the caller's scheduling turn is never held
// hostage by blocking network I/O.
func (c *RPCClient) do(ctx context.Context, command string, query bool) (string, error) {
	done := make(chan opResult, 1)

	go func() {
		resp, err := c.perform(ctx, command, query)
		done <- opResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			Metrics.incErrCount()
		}
		return res.resp, res.err
	case <-ctx.Done():
		Metrics.incErrCount()
		return "", ctx.Err()
	}
}

// perform holds the operation lock for the full lock/issue/unlock cycle.
func (c *RPCClient) perform(ctx context.Context, command string, query bool) (resp string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClientClosed
	}

	link, err := c.ensureLink(ctx)
	if err != nil {
		return "", err
	}

	// release the device lock on every exit path: success, recoverable
	// error, and fatal error alike
	defer func() {
		if c.cfg.autoUnlock && c.locked {
			if uerr := link.Unlock(ctx); uerr != nil {
				c.logger.Debug("unlock after operation ignored", "error", uerr)
			}
			c.locked = false
		}
	}()

	if !c.locked {
		if lerr := link.Lock(ctx); lerr != nil {
			return "", fmt.Errorf("lock device: %w", lerr)
		}
		c.locked = true
	}

	resp, err = c.issue(ctx, link, command, query)
	if err == nil {
		return resp, nil
	}

	// Some servers drop the lock between calls and report a lock error on the
	// operation itself; re-acquire and retry exactly once, then give up.
	if c.cfg.lockRetry && isLockError(err) {
		Metrics.incLockRetryCount()
		c.logger.Debug("lock error, re-acquiring and retrying once", "command", command, "error", err)

		if lerr := link.Lock(ctx); lerr != nil {
			c.logger.Debug("lock re-acquire failed", "error", lerr)
			return "", err
		}
		c.locked = true

		resp, rerr := c.issue(ctx, link, command, query)
		if rerr != nil {
			return "", rerr
		}

		return resp, nil
	}

	return "", err
}

func (c *RPCClient) issue(ctx context.Context, link Link, command string, query bool) (string, error) {
	if query {
		return link.Ask(ctx, command)
	}

	return "", link.Write(ctx, command)
}

// ensureLink lazily establishes the persistent device link.
func (c *RPCClient) ensureLink(ctx context.Context) (Link, error) {
	if c.link != nil {
		return c.link, nil
	}

	c.logger.Debug("establishing VXI-11 link")
	link, err := c.cfg.linkDialer(ctx, c.host, c.device, c.cfg.timeout)
	if err != nil {
		return nil, fmt.Errorf("establish link to %s/%s: %w", c.host, c.device, err)
	}
	c.link = link

	return link, nil
}
