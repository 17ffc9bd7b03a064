package metrics

import "time"

// SettlementRecord represents one broker's settlement outcome for a period.
type SettlementRecord struct {
	Period    int64
	Broker    string
	Imbalance float64 // kWh
	P1        float64
	P2        float64
	Time      time.Time
}

// MetricsSink records settlement results for observability purposes.
type MetricsSink interface {
	RecordSettlement(recs []SettlementRecord) error
}

// TariffEvent captures a tariff lifecycle transition.
type TariffEvent struct {
	Kind     string // "published", "offered", "revoked", "expired"
	Broker   string
	TariffID string
	Time     time.Time
}

// TariffEventRecorder is implemented by sinks able to record tariff
// lifecycle events.
type TariffEventRecorder interface {
	RecordTariffEvent(ev TariffEvent) error
}

// ImbalanceRecord is the aggregate market imbalance of one period.
type ImbalanceRecord struct {
	Period    int64
	TotalKWh  float64
	Exercised float64 // kWh worked off through balancing orders
	Time      time.Time
}

// ImbalanceRecorder is implemented by sinks able to record aggregate
// imbalance per period.
type ImbalanceRecorder interface {
	RecordImbalance(rec ImbalanceRecord) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordSettlement([]SettlementRecord) error { return nil }
func (NopSink) RecordTariffEvent(TariffEvent) error       { return nil }
func (NopSink) RecordImbalance(ImbalanceRecord) error     { return nil }
