package vxi11

import (
	"context"
	"fmt"
	"time"
)

// mockDelay simulates instrument latency on every mock operation.
const mockDelay = 50 * time.Millisecond

// MockClient is a deterministic client used for sandbox addresses and as a
// safe fallback when the real client cannot be constructed.
type MockClient struct {
	host  string
	cfg   *ClientConfig
	cause error
}

var _ Client = (*MockClient)(nil)

func newMockClient(host string, cfg *ClientConfig, cause error) *MockClient {
	return &MockClient{host: host, cfg: cfg, cause: cause}
}

// Query returns a synthetic response embedding the host and command.
func (c *MockClient) Query(ctx context.Context, command string) (string, error) {
	Metrics.incQueryCount()
	if err := c.sleep(ctx); err != nil {
		return "", err
	}

	return fmt.Sprintf("Mock response from %s to %q", c.host, command), nil
}

// Write is a no-op after the simulated delay.
func (c *MockClient) Write(ctx context.Context, command string) error {
	Metrics.incWriteCount()
	return c.sleep(ctx)
}

func (c *MockClient) Transport() Transport { return MockTransport }

// Degraded reports whether this mock stands in for a failed real client.
func (c *MockClient) Degraded() bool { return c.cause != nil }

// Cause returns the construction failure this mock stands in for, or nil.
func (c *MockClient) Cause() error { return c.cause }

func (c *MockClient) Close() error { return nil }

func (c *MockClient) sleep(ctx context.Context) error {
	select {
	case <-time.After(mockDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
