package model

// RegulationCapacity is the up/down regulation headroom of a subscription or
// of a whole tariff, in kWh. Up is always >= 0 and Down <= 0.
type RegulationCapacity struct {
	Up   float64
	Down float64
}

// Add accumulates another capacity pair.
func (c RegulationCapacity) Add(o RegulationCapacity) RegulationCapacity {
	return RegulationCapacity{Up: c.Up + o.Up, Down: c.Down + o.Down}
}

// BalancingOrder expresses a broker's willingness to have subscriptions of a
// tariff curtailed in exchange for payment. Immutable once accepted; a later
// order from the same broker for the same tariff replaces it.
type BalancingOrder struct {
	ID       string
	Broker   string
	TariffID string

	// MaxCurtailmentRatio bounds the exercised fraction of the tariff's
	// curtailable usage, in [0,1].
	MaxCurtailmentRatio float64

	// Price is the per-kWh price the broker asks for curtailment.
	Price float64
}

// ChargeInfo aggregates one broker's settlement result for a single period.
// It is created fresh each settlement run and never persisted by the core.
type ChargeInfo struct {
	Broker string

	// Imbalance is the broker's net energy imbalance in kWh. Negative means
	// the broker's customers used more than contracted.
	Imbalance float64

	// P1 is the price-times-quantity settlement on the raw imbalance.
	P1 float64
	// P2 is the capacity settlement from exercised balancing orders.
	P2 float64

	Orders []BalancingOrder
}

// BalanceCharge is the total settlement amount for the broker this period.
func (c ChargeInfo) BalanceCharge() float64 { return c.P1 + c.P2 }

// AddOrder attaches a balancing order to be considered during settlement.
func (c *ChargeInfo) AddOrder(o BalancingOrder) {
	c.Orders = append(c.Orders, o)
}
