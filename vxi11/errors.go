package vxi11

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClientConfigNil indicates that a nil ClientConfig was provided.
	ErrClientConfigNil = errors.New("client config is nil")

	// ErrClientClosed indicates that the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrEmptyHost indicates that an address resolved to an empty host.
	ErrEmptyHost = errors.New("empty host in instrument address")

	// ErrNoLinkDialer indicates that the RPC client has no link dialer configured.
	ErrNoLinkDialer = errors.New("no link dialer configured")

	// ErrEmptyResponse indicates that a query produced no response bytes
	// within the timeout.
	ErrEmptyResponse = errors.New("empty response")
)

// DeviceError is a VXI-11 device error returned by the remote core channel.
type DeviceError struct {
	// Code is the VXI-11 Device_ErrorCode value.
	Code uint32
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error %d: %s", e.Code, deviceErrorText(e.Code))
}

// VXI-11 Device_ErrorCode values.
const (
	errNoError               = 0
	errSyntaxError           = 1
	errDeviceNotAccessible   = 3
	errInvalidLinkIdentifier = 4
	errParameterError        = 5
	errChannelNotEstablished = 6
	errOperationNotSupported = 8
	errOutOfResources        = 9
	errDeviceLocked          = 11
	errNoLockHeld            = 12
	errIOTimeout             = 15
	errIOError               = 17
	errAbort                 = 23
	errChannelEstablished    = 29
)

func deviceErrorText(code uint32) string {
	switch code {
	case errSyntaxError:
		return "syntax error"
	case errDeviceNotAccessible:
		return "device not accessible"
	case errInvalidLinkIdentifier:
		return "invalid link identifier"
	case errParameterError:
		return "parameter error"
	case errChannelNotEstablished:
		return "channel not established"
	case errOperationNotSupported:
		return "operation not supported"
	case errOutOfResources:
		return "out of resources"
	case errDeviceLocked:
		return "device locked by another link"
	case errNoLockHeld:
		return "no lock held by this link"
	case errIOTimeout:
		return "I/O timeout"
	case errIOError:
		return "I/O error"
	case errAbort:
		return "abort"
	case errChannelEstablished:
		return "channel already established"
	default:
		return "unknown error"
	}
}

// deviceErr converts a Device_ErrorCode into an error, or nil for success.
func deviceErr(code uint32) error {
	if code == errNoError {
		return nil
	}
	return &DeviceError{Code: code}
}

// isLockError reports whether an error message indicates a device lock
// problem. Instrument firmware phrasing varies, so this is a case-insensitive
// substring match rather than a code comparison.
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "lock")
}
