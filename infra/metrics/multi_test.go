package metrics

import (
	"testing"
	"time"

	coremetrics "github.com/kilianp07/gridmarket/core/metrics"
)

type captureSink struct {
	settlements [][]coremetrics.SettlementRecord
	events      []coremetrics.TariffEvent
	imbalances  []coremetrics.ImbalanceRecord
}

func (c *captureSink) RecordSettlement(recs []coremetrics.SettlementRecord) error {
	c.settlements = append(c.settlements, recs)
	return nil
}

func (c *captureSink) RecordTariffEvent(ev coremetrics.TariffEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) RecordImbalance(rec coremetrics.ImbalanceRecord) error {
	c.imbalances = append(c.imbalances, rec)
	return nil
}

func TestMultiSinkFanout(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	m := NewMultiSink(a, b, coremetrics.NopSink{})

	recs := []coremetrics.SettlementRecord{{Period: 1, Broker: "acme", Imbalance: -1, P1: -4, Time: time.Now()}}
	if err := m.RecordSettlement(recs); err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if err := m.RecordTariffEvent(coremetrics.TariffEvent{Kind: "revoked", Broker: "acme", TariffID: "t1"}); err != nil {
		t.Fatalf("tariff event: %v", err)
	}
	if err := m.RecordImbalance(coremetrics.ImbalanceRecord{Period: 1, TotalKWh: -1}); err != nil {
		t.Fatalf("imbalance: %v", err)
	}

	for i, sink := range []*captureSink{a, b} {
		if len(sink.settlements) != 1 || len(sink.events) != 1 || len(sink.imbalances) != 1 {
			t.Fatalf("sink %d missed records: %+v", i, sink)
		}
	}
}
