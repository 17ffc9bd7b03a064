package capacity

import (
	"fmt"
	"math"
	"sync"

	"github.com/kilianp07/gridmarket/core/logger"
	"github.com/kilianp07/gridmarket/core/model"
	"github.com/kilianp07/gridmarket/core/msg"
	"github.com/kilianp07/gridmarket/core/tariff"
)

// epsilon bounds the kWh amounts treated as zero.
const epsilon = 1e-6

// SubscriptionSource is the slice of the store the controller needs.
type SubscriptionSource interface {
	Tariff(id string) *tariff.Tariff
	SubscriptionsFor(id string) []*tariff.Subscription
}

// Controller computes available regulation capacity per tariff and allocates
// exercised regulation proportionally across subscriptions. Economic controls
// are queued per target period and applied at activation.
type Controller struct {
	store  SubscriptionSource
	sender msg.Sender
	log    logger.Logger

	mu      sync.Mutex
	pending map[int64][]model.EconomicControlEvent
}

// NewController creates a capacity controller.
func NewController(store SubscriptionSource, sender msg.Sender, log logger.Logger) *Controller {
	if sender == nil {
		sender = msg.NopSender{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Controller{
		store:   store,
		sender:  sender,
		log:     log,
		pending: make(map[int64][]model.EconomicControlEvent),
	}
}

// RegulationCapacity sums the remaining up and down headroom across the
// order's tariff subscriptions. Returns (0,0) for an unknown tariff.
func (c *Controller) RegulationCapacity(o model.BalancingOrder) model.RegulationCapacity {
	t := c.store.Tariff(o.TariffID)
	if t == nil {
		return model.RegulationCapacity{}
	}
	var total model.RegulationCapacity
	for _, sub := range c.store.SubscriptionsFor(o.TariffID) {
		if sub.Population() <= 0 {
			continue
		}
		total = total.Add(sub.RegulationCapacity())
	}
	return total
}

// CurtailableUsage returns the kWh the order can still exercise: the tariff's
// remaining up-regulation headroom bounded by the order's curtailment ratio.
func (c *Controller) CurtailableUsage(o model.BalancingOrder) float64 {
	up := c.RegulationCapacity(o).Up
	ratio := o.MaxCurtailmentRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return up * ratio
}

// ExerciseBalancingControl distributes the exercised kWh across the tariff's
// subscriptions in direct proportion to each subscription's remaining
// curtailable capacity, then confirms the total to the owning broker.
//
// An unresolvable tariff is a broker-caused error: logged, no effect. Zero
// total capacity likewise exercises nothing.
func (c *Controller) ExerciseBalancingControl(o model.BalancingOrder, kwh, payment float64) error {
	if math.Abs(kwh) < epsilon {
		return nil
	}
	t := c.store.Tariff(o.TariffID)
	if t == nil {
		c.log.Errorf("balancing control for unknown tariff %s from %s", o.TariffID, o.Broker)
		return fmt.Errorf("capacity: unknown tariff %s", o.TariffID)
	}

	subs := c.store.SubscriptionsFor(o.TariffID)
	var total float64
	caps := make([]float64, len(subs))
	for i, sub := range subs {
		if sub.Population() <= 0 {
			continue
		}
		caps[i] = sub.RemainingCurtailment()
		total += caps[i]
	}
	if total < epsilon {
		c.log.Warnf("tariff %s has no curtailable capacity, exercising nothing", o.TariffID)
		return nil
	}

	for i, sub := range subs {
		if caps[i] <= 0 {
			continue
		}
		sub.Curtail(kwh * caps[i] / total)
	}

	ev := model.BalancingControlEvent{Broker: o.Broker, TariffID: o.TariffID, KWh: kwh, Payment: payment}
	if err := c.sender.Send(o.Broker, ev); err != nil {
		c.log.Errorf("balancing control confirmation to %s: %v", o.Broker, err)
	}
	return nil
}

// PostEconomicControl queues a price-ratio curtailment for its target period.
func (c *Controller) PostEconomicControl(ev model.EconomicControlEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[ev.Period] = append(c.pending[ev.Period], ev)
}

// Activate applies economic controls queued for the current period and
// discards controls whose period has already passed.
func (c *Controller) Activate(period int64) {
	c.mu.Lock()
	var due []model.EconomicControlEvent
	for p, evs := range c.pending {
		switch {
		case p < period:
			c.log.Warnf("discarding %d stale economic controls for period %d", len(evs), p)
			delete(c.pending, p)
		case p == period:
			due = evs
			delete(c.pending, p)
		}
	}
	c.mu.Unlock()

	for _, ev := range due {
		t := c.store.Tariff(ev.TariffID)
		if t == nil {
			c.log.Errorf("economic control for unknown tariff %s", ev.TariffID)
			continue
		}
		var kwh float64
		for _, sub := range c.store.SubscriptionsFor(ev.TariffID) {
			if sub.Population() <= 0 {
				continue
			}
			kwh += sub.CurtailRatio(ev.CurtailmentRatio)
		}
		c.log.Infof("economic control on %s curtailed %.3f kWh", ev.TariffID, kwh)
	}
}
