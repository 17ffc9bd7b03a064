package settlement

import (
	"fmt"
	"math"
	"sort"

	"github.com/kilianp07/gridmarket/core/logger"
	"github.com/kilianp07/gridmarket/core/model"
)

// epsilon bounds the kWh and currency amounts treated as zero.
const epsilon = 1e-6

// Config holds the two-sided marginal price model. Prices are linear in the
// size of the imbalance being settled: price(x) = base + slope*x.
type Config struct {
	// PPlus is the base price per kWh charged on energy deficit.
	PPlus float64 `json:"p_plus"`
	// PPlusPrime is the deficit price slope per kWh, >= 0.
	PPlusPrime float64 `json:"p_plus_prime"`
	// PMinus is the base price per kWh paid on energy surplus.
	PMinus float64 `json:"p_minus"`
	// PMinusPrime is the surplus price slope per kWh, <= 0.
	PMinusPrime float64 `json:"p_minus_prime"`

	// Strict makes a market-balance violation panic instead of being
	// logged and clamped. Meant for debug builds and tests.
	Strict bool `json:"strict"`
}

// SetDefaults applies the reference price model when unset.
func (c *Config) SetDefaults() {
	if c.PPlus == 0 && c.PMinus == 0 {
		c.PPlus = 3.0
		c.PPlusPrime = 1.0
		c.PMinus = 1.0
		c.PMinusPrime = -1.0
	}
}

// Validate checks the slope signs.
func (c Config) Validate() error {
	if c.PPlusPrime < 0 {
		return fmt.Errorf("settlement: p_plus_prime must be >= 0")
	}
	if c.PMinusPrime > 0 {
		return fmt.Errorf("settlement: p_minus_prime must be <= 0")
	}
	return nil
}

// CapacityControl is the slice of the capacity controller the processor
// needs to exercise balancing orders.
type CapacityControl interface {
	CurtailableUsage(o model.BalancingOrder) float64
	ExerciseBalancingControl(o model.BalancingOrder, kwh, payment float64) error
}

// Result summarizes one settlement run.
type Result struct {
	TotalImbalance float64 // kWh, negative = market deficit
	Exercised      float64 // kWh worked off through balancing orders
	Charges        []*model.ChargeInfo
}

// Processor computes per-broker balancing charges from the aggregate market
// imbalance and the period's pooled balancing orders. It performs no I/O;
// message delivery is the coordinator's concern.
type Processor struct {
	cfg      Config
	capacity CapacityControl
	log      logger.Logger
}

// NewProcessor creates a settlement processor.
func NewProcessor(cfg Config, capacity CapacityControl, log logger.Logger) *Processor {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Processor{cfg: cfg, capacity: capacity, log: log}
}

// deficitPriceAt returns the marginal deficit price when mag kWh of deficit
// remain to be settled.
func (p *Processor) deficitPriceAt(mag float64) float64 {
	return p.cfg.PPlus + p.cfg.PPlusPrime*mag
}

// surplusPriceAt returns the marginal surplus price at mag kWh of surplus.
func (p *Processor) surplusPriceAt(mag float64) float64 {
	return p.cfg.PMinus + p.cfg.PMinusPrime*mag
}

// Settle runs one settlement pass over the charge list, mutating each entry's
// P1 and P2 components in place.
//
// P1 charges every broker's raw imbalance at the marginal price of the total
// market imbalance. P2 exercises pooled balancing orders in ascending price
// order (submission order breaks ties) against the incrementally shifting
// marginal price; orders priced at or above the clearing point are skipped
// whole, never exercised at a loss.
func (p *Processor) Settle(charges []*model.ChargeInfo) Result {
	var total float64
	for _, c := range charges {
		total += c.Imbalance
	}
	mag := math.Abs(total)

	deficitPrice := p.deficitPriceAt(mag)
	surplusPrice := p.surplusPriceAt(mag)
	for _, c := range charges {
		switch {
		case c.Imbalance < 0:
			c.P1 = c.Imbalance * deficitPrice
		case c.Imbalance > 0:
			c.P1 = c.Imbalance * surplusPrice
		default:
			c.P1 = 0
		}
		c.P2 = 0
	}

	res := Result{TotalImbalance: total, Charges: charges}
	var paid float64
	if total < 0 {
		res.Exercised, paid = p.exerciseOrders(charges, mag)
	}
	p.verifyBalance(charges, mag, paid)
	return res
}

// exerciseOrders walks the pooled orders cheapest first and exercises each
// against the marginal price of the remaining deficit. Returns the total
// exercised kWh and the total payment booked.
func (p *Processor) exerciseOrders(charges []*model.ChargeInfo, mag float64) (float64, float64) {
	byBroker := make(map[string]*model.ChargeInfo, len(charges))
	var orders []model.BalancingOrder
	for _, c := range charges {
		byBroker[c.Broker] = c
		orders = append(orders, c.Orders...)
	}
	if len(orders) == 0 {
		return 0, 0
	}
	// Stable: identical prices keep submission order.
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].Price < orders[j].Price })

	var exercised, paid float64
	for _, o := range orders {
		remaining := mag - exercised
		if remaining < epsilon {
			break
		}
		avail := p.capacity.CurtailableUsage(o)
		if avail < epsilon {
			p.log.Debugf("order %s on %s has no curtailable capacity", o.ID, o.TariffID)
			continue
		}
		current := p.deficitPriceAt(remaining)
		floor := math.Max(o.Price, p.cfg.PMinus)
		if current <= floor+epsilon {
			// Priced at or above the clearing point.
			continue
		}
		limit := remaining
		if p.cfg.PPlusPrime > 0 {
			limit = (current - floor) / p.cfg.PPlusPrime
		}
		amount := math.Min(avail, math.Min(limit, remaining))
		if amount < epsilon {
			continue
		}
		price := p.deficitPriceAt(remaining - amount)
		payment := price * amount
		if err := p.capacity.ExerciseBalancingControl(o, amount, payment); err != nil {
			p.log.Errorf("order %s not exercised: %v", o.ID, err)
			continue
		}
		if ci, ok := byBroker[o.Broker]; ok {
			ci.P2 += payment
		} else {
			p.log.Warnf("order %s from broker %s outside settlement set", o.ID, o.Broker)
		}
		exercised += amount
		paid += payment
	}
	return exercised, paid
}

// verifyBalance recomputes each broker's expected imbalance charge from the
// raw imbalance and the price model, then compares the booked P1 values and
// the pooled P2 payments against it. Drift means a computation bug somewhere
// between pricing and attribution: fatal in strict mode, logged otherwise.
func (p *Processor) verifyBalance(charges []*model.ChargeInfo, mag, paid float64) {
	deficitPrice := p.deficitPriceAt(mag)
	surplusPrice := p.surplusPriceAt(mag)
	var drift, booked float64
	for _, c := range charges {
		expected := 0.0
		switch {
		case c.Imbalance < 0:
			expected = c.Imbalance * deficitPrice
		case c.Imbalance > 0:
			expected = c.Imbalance * surplusPrice
		}
		drift += c.P1 - expected
		booked += c.P2
	}
	drift += booked - paid
	if math.Abs(drift) > epsilon {
		if p.cfg.Strict {
			panic(fmt.Sprintf("settlement: market balance violated by %g", drift))
		}
		p.log.Errorf("market balance violated by %g", drift)
	}
}
