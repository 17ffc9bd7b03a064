package tariff

import (
	"fmt"
	"sync"

	"github.com/kilianp07/gridmarket/core/model"
)

// Subscription tracks the relationship between one customer segment and one
// tariff: committed population, cumulative usage, current curtailment and the
// regulation headroom available this period.
//
// Population is mutated only through Adjust, either on the first-subscription
// fast path or during the activation flush.
type Subscription struct {
	TariffID string
	Broker   string
	Customer string

	mu             sync.Mutex
	population     int
	totalUsage     float64 // kWh since signup
	usagePeriod    float64 // kWh this period
	curtailed      float64 // kWh curtailed this period
	regulation     model.RegulationCapacity
	maxCurtailment float64 // curtailable fraction from the specification
}

// NewSubscription creates an empty subscription for the tariff and customer
// segment. The curtailable fraction is taken from the specification's rates.
func NewSubscription(t *Tariff, customer string) *Subscription {
	return &Subscription{
		TariffID:       t.ID(),
		Broker:         t.Broker(),
		Customer:       customer,
		maxCurtailment: t.Spec.MaxCurtailment(),
	}
}

// Population returns the committed customer count.
func (s *Subscription) Population() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.population
}

// Adjust changes the committed population by count (negative to withdraw).
// Withdrawing more customers than are committed is rejected, not clamped.
func (s *Subscription) Adjust(count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count < 0 && -count > s.population {
		return fmt.Errorf("subscription %s/%s: cannot withdraw %d of %d customers",
			s.TariffID, s.Customer, -count, s.population)
	}
	s.population += count
	return nil
}

// PostUsage records energy used under this subscription during the current
// period and refreshes the up-regulation headroom accordingly.
func (s *Subscription) PostUsage(kwh float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usagePeriod += kwh
	s.totalUsage += kwh
	s.regulation.Up = s.maxCurtailment*s.usagePeriod - s.curtailed
	if s.regulation.Up < 0 {
		s.regulation.Up = 0
	}
}

// SetRegulationCapacity overrides the headroom reported by the customer
// model. Signs are normalized so that Up >= 0 >= Down.
func (s *Subscription) SetRegulationCapacity(rc model.RegulationCapacity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rc.Up < 0 {
		rc.Up = 0
	}
	if rc.Down > 0 {
		rc.Down = -rc.Down
	}
	s.regulation = rc
}

// RegulationCapacity returns the current headroom pair.
func (s *Subscription) RegulationCapacity() model.RegulationCapacity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regulation
}

// RemainingCurtailment returns the kWh still curtailable this period.
func (s *Subscription) RemainingCurtailment() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regulation.Up
}

// Curtail applies exercised regulation to the subscription's curtailment
// record and consumes the corresponding headroom.
func (s *Subscription) Curtail(kwh float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curtailed += kwh
	s.regulation.Up -= kwh
	if s.regulation.Up < 0 {
		s.regulation.Up = 0
	}
}

// CurtailRatio curtails the given fraction of this period's usage and returns
// the curtailed kWh. Used by economic controls.
func (s *Subscription) CurtailRatio(ratio float64) float64 {
	s.mu.Lock()
	kwh := ratio * s.usagePeriod
	s.mu.Unlock()
	if kwh <= 0 {
		return 0
	}
	s.Curtail(kwh)
	return kwh
}

// Curtailment returns the kWh curtailed so far this period.
func (s *Subscription) Curtailment() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curtailed
}

// UsageThisPeriod returns the kWh recorded this period.
func (s *Subscription) UsageThisPeriod() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usagePeriod
}

// TotalUsage returns the cumulative kWh since signup.
func (s *Subscription) TotalUsage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalUsage
}

// NextPeriod resets the per-period counters at the start of a new period.
func (s *Subscription) NextPeriod() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usagePeriod = 0
	s.curtailed = 0
	s.regulation = model.RegulationCapacity{}
}
