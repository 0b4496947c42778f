// Package vxi11 implements the instrument protocol client layer: address
// parsing, client selection, and three interchangeable client implementations.
//
// A Client is a minimal capability against one instrument:
//
//	resp, err := client.Query(ctx, "MEAS:VOLT?")
//	err = client.Write(ctx, "OUTP ON")
//
// Dial chooses the implementation from the address and configuration:
//
//   - MockClient: deterministic canned responses for sandbox/test hosts.
//   - TCPClient: raw newline-terminated SCPI over a plain TCP port, provided
//     as a compatibility path for devices that do not expose VXI-11 RPC.
//   - RPCClient: true VXI-11 over ONC RPC with the device-lock discipline
//     (lock, operate, unlock on every exit path, retry once on lock errors).
//
// If the RPC client cannot be constructed, Dial falls back to a MockClient
// flagged as degraded so callers can distinguish a real connection from a
// faked one.
package vxi11
