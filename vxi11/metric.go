package vxi11

import (
	"sync/atomic"
)

// ClientMetrics contains atomic metrics for the protocol client layer.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ClientMetrics struct {
	// QueryCount indicates the number of queries issued.
	QueryCount atomic.Uint64
	// WriteCount indicates the number of writes issued.
	WriteCount atomic.Uint64
	// ErrCount indicates the number of failed operations.
	ErrCount atomic.Uint64

	// LockRetryCount indicates the number of lock re-acquire retries.
	LockRetryCount atomic.Uint64

	// DialCount indicates the number of clients dialed.
	DialCount atomic.Uint64
	// FallbackCount indicates the number of degraded mock fallbacks.
	FallbackCount atomic.Uint64
}

// Metrics aggregates client activity process-wide.
var Metrics ClientMetrics

func (m *ClientMetrics) incQueryCount() {
	m.QueryCount.Add(1)
}

func (m *ClientMetrics) incWriteCount() {
	m.WriteCount.Add(1)
}

func (m *ClientMetrics) incErrCount() {
	m.ErrCount.Add(1)
}

func (m *ClientMetrics) incLockRetryCount() {
	m.LockRetryCount.Add(1)
}

func (m *ClientMetrics) incDialCount() {
	m.DialCount.Add(1)
}

func (m *ClientMetrics) incFallbackCount() {
	m.FallbackCount.Add(1)
}
