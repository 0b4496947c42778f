package vxi11

import (
	"context"
)

// Transport identifies which client implementation serves an address.
type Transport uint32

const (
	// MockTransport is the deterministic mock client.
	MockTransport Transport = iota
	// TCPTransport is the raw newline-terminated SCPI-over-TCP client.
	TCPTransport
	// RPCTransport is the VXI-11 ONC RPC client with device locking.
	RPCTransport
)

// String returns the string representation of the transport.
func (t Transport) String() string {
	switch t {
	case MockTransport:
		return "mock"
	case TCPTransport:
		return "tcp"
	case RPCTransport:
		return "rpc"
	default:
		return "unknown"
	}
}

// Client is the capability against one instrument: issue a query and read its
// response, or write a command without reading a reply.
//
// Implementations are not safe for concurrent use by multiple sessions; each
// session owns its cached clients exclusively.
type Client interface {
	// Query sends a command and returns the instrument's response.
	Query(ctx context.Context, command string) (string, error)
	// Write sends a command without reading a reply.
	Write(ctx context.Context, command string) error
	// Transport reports which implementation serves this client.
	Transport() Transport
	// Degraded reports whether this client is a mock stand-in created because
	// the real client could not be constructed.
	Degraded() bool
	// Close releases the client's resources. It is safe to call multiple times.
	Close() error
}

// Dial returns a protocol client for the given instrument address.
//
// Selection order:
//
//  1. Mock mode enabled and the host is on the mock allow-list: MockClient.
//  2. TCP compatibility enabled and the address carries a port: TCPClient.
//  3. Otherwise: RPCClient on (host, device|"inst0"). A port in the address is
//     ignored for RPC; the RPC transport resolves its endpoint through the
//     portmapper.
//
// If the RPC client cannot be constructed, Dial returns a MockClient flagged
// as degraded instead of an error, so failures surface later as query/write
// errors and the caller's control flow stays simple.
func Dial(address string, opts ...Option) (Client, error) {
	cfg, err := NewClientConfig(opts...)
	if err != nil {
		return nil, err
	}

	Metrics.incDialCount()
	addr := ParseAddress(address)

	if cfg.mockEnabled && cfg.isMockHost(addr.Host) {
		cfg.logger.Info("using mock client", "address", address)
		return newMockClient(address, cfg, nil), nil
	}

	if cfg.tcpCompat && addr.HasPort() {
		cfg.logger.Info("using TCP SCPI client", "address", address, "host", addr.Host, "port", addr.Port)
		return newTCPClient(addr.Host, addr.Port, cfg), nil
	}

	device := addr.Device
	if device == "" {
		device = DefaultDevice
	}

	client, err := newRPCClient(addr.Host, device, cfg)
	if err != nil {
		Metrics.incFallbackCount()
		cfg.logger.Warn("RPC client unavailable, falling back to mock client",
			"address", address, "error", err)

		return newMockClient(address, cfg, err), nil
	}

	cfg.logger.Info("using VXI-11 RPC client",
		"address", address, "host", addr.Host, "device", device, "auto_unlock", cfg.autoUnlock)

	return client, nil
}
