package model

import (
	"fmt"
	"time"
)

// PowerType identifies the kind of power a tariff applies to.
type PowerType int

const (
	PowerConsumption PowerType = iota
	PowerProduction
	PowerStorage
	PowerInterruptibleConsumption
	PowerElectricVehicle
)

// String returns a human-readable representation of the power type.
func (t PowerType) String() string {
	switch t {
	case PowerConsumption:
		return "CONSUMPTION"
	case PowerProduction:
		return "PRODUCTION"
	case PowerStorage:
		return "STORAGE"
	case PowerInterruptibleConsumption:
		return "INTERRUPTIBLE_CONSUMPTION"
	case PowerElectricVehicle:
		return "ELECTRIC_VEHICLE"
	default:
		return "unknown"
	}
}

// Rate defines one price entry of a tariff. Daily and weekly bounds restrict
// the hours and weekdays the rate applies to; a zero DailyEnd together with a
// zero DailyBegin means all day, WeeklyBegin 0 means all week.
type Rate struct {
	ID          string
	DailyBegin  int // hour in [0,24)
	DailyEnd    int // hour in [0,24), exclusive; equal to DailyBegin means all day
	WeeklyBegin int // ISO weekday in [1,7], 0 means every day
	WeeklyEnd   int // ISO weekday in [1,7]

	// Fixed is true for a constant price. Variable rates accept hourly
	// charge updates between MinValue and MaxValue.
	Fixed    bool
	Value    float64 // charge per kWh; negative means the customer pays
	MinValue float64
	MaxValue float64

	// MaxCurtailment is the fraction of usage under this rate that may be
	// curtailed by regulation, in [0,1].
	MaxCurtailment float64
}

// Validate checks the daily and weekly bounds of the rate.
func (r Rate) Validate() error {
	if r.DailyBegin < 0 || r.DailyBegin >= 24 || r.DailyEnd < 0 || r.DailyEnd >= 24 {
		return fmt.Errorf("rate %s: daily bounds must be in [0,24)", r.ID)
	}
	if r.WeeklyBegin != 0 || r.WeeklyEnd != 0 {
		if r.WeeklyBegin < 1 || r.WeeklyBegin > 7 || r.WeeklyEnd < 1 || r.WeeklyEnd > 7 {
			return fmt.Errorf("rate %s: weekly bounds must be in [1,7]", r.ID)
		}
	}
	if r.MaxCurtailment < 0 || r.MaxCurtailment > 1 {
		return fmt.Errorf("rate %s: max curtailment must be in [0,1]", r.ID)
	}
	return nil
}

// AppliesAt reports whether the rate covers the given instant.
func (r Rate) AppliesAt(t time.Time) bool {
	if r.WeeklyBegin != 0 {
		day := int(t.Weekday())
		if day == 0 {
			day = 7 // ISO: Sunday is 7
		}
		if r.WeeklyBegin <= r.WeeklyEnd {
			if day < r.WeeklyBegin || day > r.WeeklyEnd {
				return false
			}
		} else if day < r.WeeklyBegin && day > r.WeeklyEnd {
			return false
		}
	}
	if r.DailyBegin == r.DailyEnd {
		return true
	}
	h := t.Hour()
	if r.DailyBegin < r.DailyEnd {
		return h >= r.DailyBegin && h < r.DailyEnd
	}
	// wraps midnight
	return h >= r.DailyBegin || h < r.DailyEnd
}

// TariffSpecification is the immutable definition of a retail tariff as
// published by a broker. It is never mutated after acceptance.
type TariffSpecification struct {
	ID        string
	Broker    string
	PowerType PowerType
	Rates     []Rate

	SignupPayment        float64 // paid to the customer on signup, if positive
	PeriodicPayment      float64 // per-period fee, negative means customer pays
	EarlyWithdrawPayment float64 // fee for leaving before MinDuration
	MinDuration          time.Duration
	Expiration           time.Time // zero means no expiration
	Supersedes           []string  // ids of specifications this one replaces
}

// Validate checks the specification is publishable: at least one rate, all
// rate bounds in range.
func (s TariffSpecification) Validate() error {
	if s.Broker == "" {
		return fmt.Errorf("specification %s: broker is required", s.ID)
	}
	if len(s.Rates) == 0 {
		return fmt.Errorf("specification %s: at least one rate is required", s.ID)
	}
	for _, r := range s.Rates {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RateAt returns the first rate covering the given instant, or nil when no
// rate applies.
func (s *TariffSpecification) RateAt(at time.Time) *Rate {
	for i := range s.Rates {
		if s.Rates[i].AppliesAt(at) {
			return &s.Rates[i]
		}
	}
	return nil
}

// Rate returns the rate with the given id, or nil.
func (s *TariffSpecification) Rate(id string) *Rate {
	for i := range s.Rates {
		if s.Rates[i].ID == id {
			return &s.Rates[i]
		}
	}
	return nil
}

// MaxCurtailment returns the largest curtailable fraction across the
// specification's rates.
func (s *TariffSpecification) MaxCurtailment() float64 {
	max := 0.0
	for _, r := range s.Rates {
		if r.MaxCurtailment > max {
			max = r.MaxCurtailment
		}
	}
	return max
}

// TariffState describes the lifecycle position of a published tariff.
type TariffState int

const (
	TariffPending TariffState = iota
	TariffOffered
	TariffKilled
)

// String returns a human-readable representation of the state.
func (s TariffState) String() string {
	switch s {
	case TariffPending:
		return "PENDING"
	case TariffOffered:
		return "OFFERED"
	case TariffKilled:
		return "KILLED"
	default:
		return "unknown"
	}
}
