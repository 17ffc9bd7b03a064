package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/gridmarket/core/metrics"
	"github.com/kilianp07/gridmarket/infra/logger"
)

// InfluxSink writes market events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordSettlement writes one point per broker settlement record.
func (s *InfluxSink) RecordSettlement(recs []coremetrics.SettlementRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, r := range recs {
		p := write.NewPointWithMeasurement("settlement").
			AddTag("broker", r.Broker).
			AddTag("period", strconv.FormatInt(r.Period, 10)).
			AddTag("component", "market_coordinator").
			AddField("imbalance_kwh", round3(r.Imbalance)).
			AddField("p1", round3(r.P1)).
			AddField("p2", round3(r.P2)).
			AddField("balance_charge", round3(r.P1+r.P2)).
			SetTime(r.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordTariffEvent writes a tariff lifecycle transition.
func (s *InfluxSink) RecordTariffEvent(ev coremetrics.TariffEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("tariff_event").
		AddTag("broker", ev.Broker).
		AddTag("tariff_id", ev.TariffID).
		AddTag("kind", ev.Kind).
		AddTag("component", "market_coordinator").
		AddField("count", 1).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordImbalance writes the aggregate imbalance of one period.
func (s *InfluxSink) RecordImbalance(rec coremetrics.ImbalanceRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("market_imbalance").
		AddTag("period", strconv.FormatInt(rec.Period, 10)).
		AddTag("component", "market_coordinator").
		AddField("total_kwh", round3(rec.TotalKWh)).
		AddField("exercised_kwh", round3(rec.Exercised)).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
