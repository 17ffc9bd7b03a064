package marketkpi

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	coremetrics "github.com/kilianp07/gridmarket/core/metrics"
)

// Store provides settlement history.
type Store interface {
	QueryAll(start, end int64) ([]coremetrics.SettlementRecord, error)
}

// BrokerKPI aggregates one broker's settlement history.
type BrokerKPI struct {
	Broker       string  `json:"broker"`
	Periods      int     `json:"periods"`
	TotalCharge  float64 `json:"total_charge"`
	MeanCharge   float64 `json:"mean_charge"`
	MeanAbsImbal float64 `json:"mean_abs_imbalance_kwh"`
	// MarketCorrel is the correlation between the broker's imbalance and
	// the market total, over the periods the broker settled in.
	MarketCorrel float64 `json:"market_correlation"`
}

// Report summarizes market behavior over a period range.
type Report struct {
	Start, End     int64       `json:"-"`
	Periods        int         `json:"periods"`
	MeanImbalance  float64     `json:"mean_imbalance_kwh"`
	StdevImbalance float64     `json:"stdev_imbalance_kwh"`
	MaxDeficit     float64     `json:"max_deficit_kwh"`
	Brokers        []BrokerKPI `json:"brokers"`
}

// Build computes the KPI report over [start,end].
func Build(store Store, start, end int64) (*Report, error) {
	recs, err := store.QueryAll(start, end)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("marketkpi: no settlement records in [%d,%d]", start, end)
	}

	totals := make(map[int64]float64)
	type acc struct {
		imb    map[int64]float64
		charge float64
		absImb float64
	}
	brokers := make(map[string]*acc)
	for _, r := range recs {
		totals[r.Period] += r.Imbalance
		a := brokers[r.Broker]
		if a == nil {
			a = &acc{imb: make(map[int64]float64)}
			brokers[r.Broker] = a
		}
		a.imb[r.Period] += r.Imbalance
		a.charge += r.P1 + r.P2
		if r.Imbalance < 0 {
			a.absImb -= r.Imbalance
		} else {
			a.absImb += r.Imbalance
		}
	}

	series := make([]float64, 0, len(totals))
	maxDeficit := 0.0
	for _, v := range totals {
		series = append(series, v)
		if v < maxDeficit {
			maxDeficit = v
		}
	}
	mean, std := stat.MeanStdDev(series, nil)
	if len(series) < 2 {
		std = 0
	}

	rep := &Report{
		Start:          start,
		End:            end,
		Periods:        len(series),
		MeanImbalance:  mean,
		StdevImbalance: std,
		MaxDeficit:     maxDeficit,
	}
	for name, a := range brokers {
		n := len(a.imb)
		mine := make([]float64, 0, n)
		market := make([]float64, 0, n)
		for p, v := range a.imb {
			mine = append(mine, v)
			market = append(market, totals[p])
		}
		correl := 0.0
		if n >= 2 {
			correl = stat.Correlation(mine, market, nil)
			if math.IsNaN(correl) {
				correl = 0
			}
		}
		rep.Brokers = append(rep.Brokers, BrokerKPI{
			Broker:       name,
			Periods:      n,
			TotalCharge:  a.charge,
			MeanCharge:   a.charge / float64(n),
			MeanAbsImbal: a.absImb / float64(n),
			MarketCorrel: correl,
		})
	}
	sort.Slice(rep.Brokers, func(i, j int) bool { return rep.Brokers[i].Broker < rep.Brokers[j].Broker })
	return rep, nil
}
