package metrics

import coremetrics "github.com/kilianp07/gridmarket/core/metrics"

// MultiSink fanouts market records to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSettlement forwards the records to all sinks, returning the first error encountered.
func (m *MultiSink) RecordSettlement(recs []coremetrics.SettlementRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordSettlement(recs); err != nil {
			return err
		}
	}
	return nil
}

// RecordTariffEvent forwards lifecycle events to sinks that support them.
func (m *MultiSink) RecordTariffEvent(ev coremetrics.TariffEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.TariffEventRecorder); ok {
			if err := rec.RecordTariffEvent(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordImbalance forwards imbalance records to sinks that support them.
func (m *MultiSink) RecordImbalance(rec coremetrics.ImbalanceRecord) error {
	for _, s := range m.Sinks {
		if ir, ok := s.(coremetrics.ImbalanceRecorder); ok {
			if err := ir.RecordImbalance(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
