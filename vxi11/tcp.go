package vxi11

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// TCPClient speaks raw newline-terminated SCPI over a plain TCP port.
//
// It is a compatibility path for devices that do not expose VXI-11
// RPC/portmapper but accept SCPI on a fixed port. Each operation opens a fresh
// connection and always closes it afterward regardless of outcome.
type TCPClient struct {
	host string
	port int
	cfg  *ClientConfig
}

var _ Client = (*TCPClient)(nil)

func newTCPClient(host string, port int, cfg *ClientConfig) *TCPClient {
	return &TCPClient{host: host, port: port, cfg: cfg}
}

// Query sends the command and reads one newline-terminated line within the
// timeout. If no terminator arrives, whatever bytes were received are
// returned instead.
func (c *TCPClient) Query(ctx context.Context, command string) (string, error) {
	Metrics.incQueryCount()

	conn, err := c.open(ctx)
	if err != nil {
		Metrics.incErrCount()
		return "", err
	}
	defer conn.Close()

	if err := c.send(conn, command); err != nil {
		Metrics.incErrCount()
		return "", err
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		Metrics.incErrCount()
		return "", fmt.Errorf("read response from %s: %w", c.addr(), err)
	}

	// a partial read without the terminator still counts as the response
	return strings.TrimSpace(line), nil
}

// Write sends the command without reading a reply.
func (c *TCPClient) Write(ctx context.Context, command string) error {
	Metrics.incWriteCount()

	conn, err := c.open(ctx)
	if err != nil {
		Metrics.incErrCount()
		return err
	}
	defer conn.Close()

	if err := c.send(conn, command); err != nil {
		Metrics.incErrCount()
		return err
	}

	return nil
}

func (c *TCPClient) Transport() Transport { return TCPTransport }

func (c *TCPClient) Degraded() bool { return false }

func (c *TCPClient) Close() error { return nil }

func (c *TCPClient) addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

func (c *TCPClient) open(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.addr(), err)
	}

	deadline := time.Now().Add(c.cfg.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set deadline on %s: %w", c.addr(), err)
	}

	return conn, nil
}

func (c *TCPClient) send(conn net.Conn, command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}

	if _, err := conn.Write([]byte(command)); err != nil {
		return fmt.Errorf("send to %s: %w", c.addr(), err)
	}

	return nil
}
