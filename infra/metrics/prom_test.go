package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/gridmarket/core/metrics"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}

	recs := []coremetrics.SettlementRecord{
		{Period: 1, Broker: "acme", Imbalance: -1.5, P1: -9, P2: 2, Time: time.Now()},
	}
	if err := sink.RecordSettlement(recs); err != nil {
		t.Fatalf("settlement: %v", err)
	}
	ps := sink.(*PromSink)
	if err := ps.RecordTariffEvent(coremetrics.TariffEvent{Kind: "published", Broker: "acme"}); err != nil {
		t.Fatalf("tariff event: %v", err)
	}
	if err := ps.RecordImbalance(coremetrics.ImbalanceRecord{Period: 1, TotalKWh: -1.5, Exercised: 0.5}); err != nil {
		t.Fatalf("imbalance: %v", err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"broker_settlements_total",
		"broker_balance_charge",
		"tariff_events_total",
		"settlement_total_imbalance_kwh",
		"settlement_exercised_kwh",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestPromSinkDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("second registration should reuse collectors: %v", err)
	}
}
