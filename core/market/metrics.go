package market

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	tariffsPublished prometheus.Counter
	tariffsRevoked   prometheus.Counter
	settlementRuns   prometheus.Counter
	marketImbalance  prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, prometheus.Counter, prometheus.Counter, prometheus.Gauge) {
	pub := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tariffs_published_total",
			Help: "Number of tariff specifications accepted for publication",
		},
	)
	rev := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tariffs_revoked_total",
			Help: "Number of tariffs revoked by their broker",
		},
	)
	runs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_runs_total",
			Help: "Number of completed balancing settlement runs",
		},
	)
	imb := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "market_total_imbalance_kwh",
			Help: "Total market imbalance of the last settled period in kWh",
		},
	)
	return pub, rev, runs, imb
}

func init() {
	tariffsPublished, tariffsRevoked, settlementRuns, marketImbalance = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers market metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(tariffsPublished, tariffsRevoked, settlementRuns, marketImbalance)
}

// ResetMetrics reinitializes metric collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	tariffsPublished, tariffsRevoked, settlementRuns, marketImbalance = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
