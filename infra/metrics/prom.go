package metrics

import (
	coremetrics "github.com/kilianp07/gridmarket/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records settlement and tariff events in Prometheus metrics.
type PromSink struct {
	settlements *prometheus.CounterVec
	charges     *prometheus.GaugeVec
	tariffs     *prometheus.CounterVec
	imbalance   prometheus.Gauge
	exercised   prometheus.Gauge
}

// NewPromSink registers market metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(cfg coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_settlements_total",
		Help: "Total number of per-broker settlement records",
	}, []string{"broker"})
	charges := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "broker_balance_charge",
		Help: "Balance charge of the last settled period per broker",
	}, []string{"broker"})
	tariffs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tariff_events_total",
		Help: "Total number of tariff lifecycle events",
	}, []string{"broker", "kind"})
	imbalance := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_total_imbalance_kwh",
		Help: "Total market imbalance of the last settled period in kWh",
	})
	exercised := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_exercised_kwh",
		Help: "Energy worked off through balancing orders in the last period",
	})

	if err := reg.Register(settlements); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			settlements = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(charges); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			charges = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(tariffs); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			tariffs = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(imbalance); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			imbalance = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(exercised); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			exercised = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{settlements: settlements, charges: charges, tariffs: tariffs, imbalance: imbalance, exercised: exercised}, nil
}

// RecordSettlement increments the per-broker counters and updates the charge
// gauges.
func (s *PromSink) RecordSettlement(recs []coremetrics.SettlementRecord) error {
	for _, r := range recs {
		s.settlements.WithLabelValues(r.Broker).Inc()
		s.charges.WithLabelValues(r.Broker).Set(r.P1 + r.P2)
	}
	return nil
}

// RecordTariffEvent increments the lifecycle event counter.
func (s *PromSink) RecordTariffEvent(ev coremetrics.TariffEvent) error {
	s.tariffs.WithLabelValues(ev.Broker, ev.Kind).Inc()
	return nil
}

// RecordImbalance sets the aggregate imbalance gauges.
func (s *PromSink) RecordImbalance(rec coremetrics.ImbalanceRecord) error {
	if s.imbalance != nil {
		s.imbalance.Set(rec.TotalKWh)
	}
	if s.exercised != nil {
		s.exercised.Set(rec.Exercised)
	}
	return nil
}
