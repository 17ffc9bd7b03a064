package market

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/gridmarket/core/accounting"
	"github.com/kilianp07/gridmarket/core/logger"
	coremetrics "github.com/kilianp07/gridmarket/core/metrics"
	"github.com/kilianp07/gridmarket/core/model"
	"github.com/kilianp07/gridmarket/core/msg"
	"github.com/kilianp07/gridmarket/core/settlement"
	"github.com/kilianp07/gridmarket/core/tariff"
	"github.com/kilianp07/gridmarket/internal/eventbus"
)

// CapacityControl is the capacity controller surface the coordinator needs.
type CapacityControl interface {
	PostEconomicControl(ev model.EconomicControlEvent)
	Activate(period int64)
}

// Settler runs the per-period settlement computation.
type Settler interface {
	Settle(charges []*model.ChargeInfo) settlement.Result
}

// subscriptionEvent is one queued subscribe/unsubscribe request.
type subscriptionEvent struct {
	tariffID string
	customer string
	count    int
}

// Coordinator validates and applies broker tariff messages, runs the
// publication schedule and batches structural changes into one atomic update
// per period. Broker messages may arrive concurrently; activation runs as a
// brief exclusive phase once per period.
type Coordinator struct {
	cfg        Config
	store      *tariff.Store
	capacity   CapacityControl
	settler    Settler
	accounting accounting.Accounting
	sender     msg.Sender
	bus        eventbus.EventBus
	log        logger.Logger
	sink       coremetrics.MetricsSink
	rng        *rand.Rand

	mu             sync.Mutex
	pendingSubs    []subscriptionEvent
	pendingRevoked []string
	revokedSet     map[string]struct{}
	pendingVRUs    []model.VariableRateUpdate
	imbalances     map[string]float64
	brokers        map[string]struct{}

	// activationMu is the per-period barrier: only one activation (and
	// therefore one settlement run) may be in flight.
	activationMu sync.Mutex
	killed       []string // soft-deleted last activation, removed on the next
	activated    bool
	period       int64
	now          time.Time
}

// NewCoordinator creates a tariff market coordinator.
func NewCoordinator(cfg Config, store *tariff.Store, capacity CapacityControl, settler Settler,
	acct accounting.Accounting, sender msg.Sender, bus eventbus.EventBus, log logger.Logger,
	sink coremetrics.MetricsSink) (*Coordinator, error) {
	if store == nil || capacity == nil || settler == nil {
		return nil, fmt.Errorf("market: nil parameter provided to NewCoordinator")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if acct == nil {
		acct = accounting.NopAccounting{}
	}
	if sender == nil {
		sender = msg.NopSender{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if sink == nil {
		sink = coremetrics.NopSink{}
	}
	return &Coordinator{
		cfg:        cfg,
		store:      store,
		capacity:   capacity,
		settler:    settler,
		accounting: acct,
		sender:     sender,
		bus:        bus,
		log:        log,
		sink:       sink,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		revokedSet: make(map[string]struct{}),
		imbalances: make(map[string]float64),
		brokers:    make(map[string]struct{}),
	}, nil
}

// Store exposes the tariff store for collaborators.
func (m *Coordinator) Store() *tariff.Store { return m.store }

// Period returns the index of the current simulation period.
func (m *Coordinator) Period() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// publicationFee returns the configured fee or draws one from the range.
func (m *Coordinator) publicationFee() float64 {
	if m.cfg.PublicationFee != 0 {
		return m.cfg.PublicationFee
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.MinPublicationFee + m.rng.Float64()*(m.cfg.MaxPublicationFee-m.cfg.MinPublicationFee)
}

// SubscribeToTariff queues a population change of count customers (negative
// to unsubscribe) for the next activation. A customer segment with no
// existing subscription anywhere is applied immediately so its very first
// decision does not leave it uncovered for a full period.
func (m *Coordinator) SubscribeToTariff(tariffID, customer string, count int) error {
	t := m.store.Tariff(tariffID)
	if t == nil || m.store.IsDeleted(tariffID) {
		return fmt.Errorf("market: no such tariff %s", tariffID)
	}
	if m.store.CustomerSubscriptions(customer) == 0 && count > 0 {
		return m.applySubscription(subscriptionEvent{tariffID: tariffID, customer: customer, count: count})
	}
	m.mu.Lock()
	m.pendingSubs = append(m.pendingSubs, subscriptionEvent{tariffID: tariffID, customer: customer, count: count})
	m.mu.Unlock()
	return nil
}

// applySubscription performs one population change and reports the signup or
// withdraw transaction to accounting.
func (m *Coordinator) applySubscription(ev subscriptionEvent) error {
	t := m.store.Tariff(ev.tariffID)
	if t == nil {
		return fmt.Errorf("market: no such tariff %s", ev.tariffID)
	}
	sub := m.store.GetOrCreateSubscription(t, ev.customer)
	if err := sub.Adjust(ev.count); err != nil {
		return err
	}
	tx := model.TariffTransaction{
		Broker:   t.Broker(),
		TariffID: t.ID(),
		Customer: ev.customer,
		Count:    ev.count,
		Time:     m.currentTime(),
	}
	if ev.count > 0 {
		tx.Type = model.TxSignup
		tx.Charge = t.Spec.SignupPayment * float64(ev.count)
	} else {
		tx.Type = model.TxWithdraw
	}
	m.accounting.RecordTariffTransaction(tx)
	return nil
}

// PostUsage records energy used by a customer segment under a tariff and
// reports the transaction to accounting. kwh is always positive; whether it
// was consumed or produced follows from the tariff's power type. A missing
// subscription is a peer inconsistency: logged, treated as a signup from
// zero.
func (m *Coordinator) PostUsage(tariffID, customer string, kwh float64) {
	t := m.store.Tariff(tariffID)
	if t == nil {
		m.log.Warnf("usage posted for unknown tariff %s", tariffID)
		return
	}
	sub := m.store.Subscription(tariffID, customer)
	if sub == nil {
		m.log.Warnf("usage posted for missing subscription %s/%s, creating", tariffID, customer)
		sub = m.store.GetOrCreateSubscription(t, customer)
	}
	sub.PostUsage(kwh)

	txType := model.TxConsume
	charge := 0.0
	if r := t.Spec.RateAt(m.currentTime()); r != nil {
		charge = r.Value * kwh
	}
	if t.Spec.PowerType == model.PowerProduction {
		txType = model.TxProduce
	}
	m.accounting.RecordTariffTransaction(model.TariffTransaction{
		Type:     txType,
		Broker:   t.Broker(),
		TariffID: tariffID,
		Customer: customer,
		KWh:      kwh,
		Charge:   charge,
		Time:     m.currentTime(),
	})
}

// PostImbalance accumulates a broker's net energy imbalance for the current
// period. Negative means the broker's customers used more than contracted.
func (m *Coordinator) PostImbalance(broker string, kwh float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imbalances[broker] += kwh
	m.brokers[broker] = struct{}{}
}

// RegisterBroker makes the broker participate in settlement even with zero
// imbalance and no orders.
func (m *Coordinator) RegisterBroker(broker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brokers[broker] = struct{}{}
}

func (m *Coordinator) currentTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.now.IsZero() {
		return time.Now()
	}
	return m.now
}

func (m *Coordinator) publish(ev eventbus.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
