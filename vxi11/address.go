package vxi11

import (
	"strconv"
	"strings"
)

// Address is the parsed form of a free-form instrument address string.
// It is an ephemeral value; the raw string stays the canonical identifier.
type Address struct {
	// Host is the hostname or IP of the instrument.
	Host string
	// Port is the TCP port, or 0 when the address does not carry one.
	Port int
	// Device is the logical device name ("inst0" style), empty when absent.
	Device string
}

// HasPort reports whether the address carried a valid numeric port.
func (a Address) HasPort() bool { return a.Port != 0 }

// ParseAddress parses an instrument address string into its host, optional
// port, and optional logical device name.
//
// Supported forms:
//
//	host            -> VXI-11 RPC with the default device
//	host:port       -> raw TCP SCPI
//	host/device     -> VXI-11 RPC with a specific device name
//	host:port/device
//
// A malformed (non-numeric) port is treated as absent and the whole
// "host:garbage" segment is kept as the host. ParseAddress never fails; it
// always returns a best-effort triple.
func ParseAddress(address string) Address {
	addr := Address{}

	hostPort := address
	if idx := strings.Index(address, "/"); idx >= 0 {
		hostPort = address[:idx]
		addr.Device = address[idx+1:]
	}

	if idx := strings.Index(hostPort, ":"); idx >= 0 {
		port, err := strconv.Atoi(hostPort[idx+1:])
		if err != nil {
			// invalid port, keep the original segment as host
			addr.Host = hostPort
			return addr
		}
		addr.Host = hostPort[:idx]
		addr.Port = port

		return addr
	}

	addr.Host = hostPort

	return addr
}
