package vxi11

import (
	"errors"
	"time"

	"github.com/vxikit/vxidash/logger"
)

// DefaultDevice is the logical device name used when the address carries none.
const DefaultDevice = "inst0"

// ClientConfig represents the configuration parameters for an instrument
// protocol client.
type ClientConfig struct {
	// timeout defines the per-I/O-call timeout for query/write operations.
	// Defaults to 5 seconds.
	timeout time.Duration

	// autoUnlock indicates whether the RPC client releases the device lock
	// after each operation, on every exit path.
	// Defaults to true.
	autoUnlock bool

	// lockRetry indicates whether an operation failing with a lock-indicating
	// error is retried exactly once after re-acquiring the lock. Instrument
	// firmware quirks vary, so this is configurable per deployment.
	// Defaults to true.
	lockRetry bool

	// mockEnabled indicates whether addresses whose host is on the mock-host
	// allow-list resolve to the mock client.
	// Defaults to false.
	mockEnabled bool

	// mockHosts is the mock-host allow-list.
	// Defaults to {"mock", "mock-device", "mock_instrument"}.
	mockHosts map[string]struct{}

	// tcpCompat indicates whether an address with an explicit port resolves to
	// the raw TCP SCPI client instead of VXI-11 RPC.
	// Defaults to false.
	tcpCompat bool

	// linkDialer establishes the underlying VXI-11 core link for the RPC
	// client. Defaults to DialCoreLink.
	linkDialer LinkDialer

	// logger provides a logger instance for client events and errors.
	logger logger.Logger
}

// NewClientConfig creates a client configuration with default values, then
// applies the provided options.
func NewClientConfig(opts ...Option) (*ClientConfig, error) {
	cfg := &ClientConfig{
		timeout:     5 * time.Second,
		autoUnlock:  true,
		lockRetry:   true,
		mockEnabled: false,
		mockHosts: map[string]struct{}{
			"mock":            {},
			"mock-device":     {},
			"mock_instrument": {},
		},
		tcpCompat:  false,
		linkDialer: DialCoreLink,
		logger:     logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func (cfg *ClientConfig) Timeout() time.Duration { return cfg.timeout }

func (cfg *ClientConfig) AutoUnlock() bool { return cfg.autoUnlock }

func (cfg *ClientConfig) LockRetry() bool { return cfg.lockRetry }

func (cfg *ClientConfig) MockEnabled() bool { return cfg.mockEnabled }

func (cfg *ClientConfig) TCPCompat() bool { return cfg.tcpCompat }

func (cfg *ClientConfig) Logger() logger.Logger { return cfg.logger }

// isMockHost reports whether the host is on the mock-host allow-list.
func (cfg *ClientConfig) isMockHost(host string) bool {
	_, ok := cfg.mockHosts[host]
	return ok
}

// Option represents a functional option for configuring a ClientConfig.
type Option interface {
	apply(*ClientConfig) error
}

type optFunc struct {
	name      string
	applyFunc func(*ClientConfig) error
}

func (o *optFunc) apply(cfg *ClientConfig) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*ClientConfig) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithTimeout sets the per-I/O-call timeout for query and write operations.
//
// An error is returned if the timeout is not positive or the configuration is nil.
//
// The default value is 5 seconds.
func WithTimeout(val time.Duration) Option {
	return newOptFunc("WithTimeout", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}
		if val <= 0 {
			return errors.New("timeout must be positive")
		}

		cfg.timeout = val

		return nil
	})
}

// WithAutoUnlock enables or disables releasing the device lock after each
// RPC operation.
//
// The default value is true.
func WithAutoUnlock(val bool) Option {
	return newOptFunc("WithAutoUnlock", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		cfg.autoUnlock = val

		return nil
	})
}

// WithLockRetry enables or disables the retry-once policy for operations that
// fail with a lock-indicating error.
//
// The default value is true.
func WithLockRetry(val bool) Option {
	return newOptFunc("WithLockRetry", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		cfg.lockRetry = val

		return nil
	})
}

// WithMockEnabled enables or disables the mock client for addresses whose host
// is on the mock-host allow-list.
//
// The default value is false.
func WithMockEnabled(val bool) Option {
	return newOptFunc("WithMockEnabled", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		cfg.mockEnabled = val

		return nil
	})
}

// WithMockHosts replaces the mock-host allow-list.
//
// The default list is {"mock", "mock-device", "mock_instrument"}.
func WithMockHosts(hosts ...string) Option {
	return newOptFunc("WithMockHosts", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		cfg.mockHosts = make(map[string]struct{}, len(hosts))
		for _, h := range hosts {
			cfg.mockHosts[h] = struct{}{}
		}

		return nil
	})
}

// WithTCPCompat enables or disables the raw TCP SCPI compatibility path for
// addresses that carry an explicit port.
//
// The default value is false.
func WithTCPCompat(val bool) Option {
	return newOptFunc("WithTCPCompat", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		cfg.tcpCompat = val

		return nil
	})
}

// WithLinkDialer replaces the dialer used to establish VXI-11 core links.
// Primarily useful for tests and simulators.
//
// The default is DialCoreLink.
func WithLinkDialer(dialer LinkDialer) Option {
	return newOptFunc("WithLinkDialer", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		cfg.linkDialer = dialer

		return nil
	})
}

// WithLogger sets the logger used by clients created from this configuration.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}
		if l == nil {
			return errors.New("logger is nil")
		}

		cfg.logger = l

		return nil
	})
}
