package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vxikit/vxidash/machine"
	"github.com/vxikit/vxidash/vxi11"
)

// RegisterMetrics exposes the protocol client counters and the active session
// gauge on the given registerer.
func RegisterMetrics(reg prometheus.Registerer, engine *machine.Engine) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "vxi11_queries_total",
			Help: "Queries issued through the protocol client layer.",
		}, func() float64 { return float64(vxi11.Metrics.QueryCount.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "vxi11_writes_total",
			Help: "Writes issued through the protocol client layer.",
		}, func() float64 { return float64(vxi11.Metrics.WriteCount.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "vxi11_errors_total",
			Help: "Failed protocol client operations.",
		}, func() float64 { return float64(vxi11.Metrics.ErrCount.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "vxi11_lock_retries_total",
			Help: "Lock re-acquire retries after a remote lock rejection.",
		}, func() float64 { return float64(vxi11.Metrics.LockRetryCount.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "vxi11_dials_total",
			Help: "Protocol clients dialed.",
		}, func() float64 { return float64(vxi11.Metrics.DialCount.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "vxi11_mock_fallbacks_total",
			Help: "Degraded mock fallbacks after a failed client construction.",
		}, func() float64 { return float64(vxi11.Metrics.FallbackCount.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "machine_active_sessions",
			Help: "Registered state machine sessions.",
		}, func() float64 { return float64(engine.ActiveSessions()) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}
