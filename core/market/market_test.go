package market

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/gridmarket/core/accounting"
	"github.com/kilianp07/gridmarket/core/capacity"
	"github.com/kilianp07/gridmarket/core/model"
	"github.com/kilianp07/gridmarket/core/settlement"
	"github.com/kilianp07/gridmarket/core/tariff"
)

type recordingSender struct {
	mu         sync.Mutex
	sent       map[string][]any
	broadcasts []any
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]any)}
}

func (r *recordingSender) Send(broker string, message any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[broker] = append(r.sent[broker], message)
	return nil
}

func (r *recordingSender) Broadcast(message any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, message)
	return nil
}

func (r *recordingSender) chargesFor(broker string) []model.ChargeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ChargeInfo
	for _, m := range r.sent[broker] {
		if ci, ok := m.(model.ChargeInfo); ok {
			out = append(out, ci)
		}
	}
	return out
}

func (r *recordingSender) statusesFor(broker string) []model.TariffStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TariffStatus
	for _, m := range r.sent[broker] {
		if st, ok := m.(model.TariffStatus); ok {
			out = append(out, st)
		}
	}
	return out
}

type fixture struct {
	coord  *Coordinator
	store  *tariff.Store
	sender *recordingSender
	ledger *accounting.MemoryLedger
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	cfg.SetDefaults()
	if cfg.PublicationFee == 0 {
		cfg.PublicationFee = -100
	}
	store := tariff.NewStore()
	sender := newRecordingSender()
	ledger := accounting.NewMemoryLedger()
	ctrl := capacity.NewController(store, sender, nil)
	scfg := settlement.Config{Strict: true}
	scfg.SetDefaults()
	proc := settlement.NewProcessor(scfg, ctrl, nil)
	coord, err := NewCoordinator(cfg, store, ctrl, proc, ledger, sender, nil, nil, nil)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	return &fixture{coord: coord, store: store, sender: sender, ledger: ledger}
}

func spec(id, broker string) model.TariffSpecification {
	return model.TariffSpecification{
		ID:     id,
		Broker: broker,
		Rates:  []model.Rate{{ID: "r1", Value: -0.12, MaxCurtailment: 0.5}},
	}
}

func TestNewTariffLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	st := f.coord.Dispatch(model.NewTariff{Spec: spec("t1", "acme")})
	if st.Status != model.StatusSuccess {
		t.Fatalf("publish: %v (%s)", st.Status, st.Message)
	}
	if got := f.store.Tariff("t1"); got == nil || got.State != model.TariffPending {
		t.Fatalf("tariff should be stored PENDING")
	}
	if got := f.ledger.Cash("acme"); math.Abs(got+100) > 1e-9 {
		t.Fatalf("publication fee not charged: %g", got)
	}

	// Duplicate id is rejected.
	if st := f.coord.Dispatch(model.NewTariff{Spec: spec("t1", "acme")}); st.Status != model.StatusInvalidTariff {
		t.Fatalf("duplicate publish: expected invalidTariff, got %v", st.Status)
	}

	// Invalid specification is rejected.
	bad := model.NewTariff{Spec: model.TariffSpecification{ID: "t2", Broker: "acme"}}
	if st := f.coord.Dispatch(bad); st.Status != model.StatusInvalidTariff {
		t.Fatalf("invalid publish: expected invalidTariff, got %v", st.Status)
	}

	// First activation publishes regardless of the schedule.
	f.coord.Activate(time.Now(), 0)
	if got := f.store.Tariff("t1"); !got.IsActive() {
		t.Fatalf("tariff should be OFFERED after first activation")
	}
	if len(f.sender.broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(f.sender.broadcasts))
	}
}

func TestPublicationSchedule(t *testing.T) {
	f := newFixture(t, Config{PublicationInterval: 6, PublicationOffset: 0})
	f.coord.Activate(time.Now(), 0)

	f.coord.Dispatch(model.NewTariff{Spec: spec("t1", "acme")})
	// Periods 1..5 are off-schedule.
	for p := int64(1); p < 6; p++ {
		f.coord.Activate(time.Now(), p)
		if f.store.Tariff("t1").IsActive() {
			t.Fatalf("tariff offered off-schedule at period %d", p)
		}
	}
	f.coord.Activate(time.Now(), 6)
	if !f.store.Tariff("t1").IsActive() {
		t.Fatalf("tariff should be offered at period 6")
	}
}

func TestSubscriptionBatching(t *testing.T) {
	f := newFixture(t, Config{})
	f.coord.Dispatch(model.NewTariff{Spec: spec("t1", "acme")})
	f.coord.Activate(time.Now(), 0)

	// First subscription of a fresh customer applies immediately.
	if err := f.coord.SubscribeToTariff("t1", "pop1", 10); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := f.store.Subscription("t1", "pop1").Population(); got != 10 {
		t.Fatalf("first subscription not applied immediately: %d", got)
	}

	// Later changes queue until activation and replay in order.
	if err := f.coord.SubscribeToTariff("t1", "pop1", -3); err != nil {
		t.Fatalf("queue unsubscribe: %v", err)
	}
	if err := f.coord.SubscribeToTariff("t1", "pop1", 5); err != nil {
		t.Fatalf("queue subscribe: %v", err)
	}
	if got := f.store.Subscription("t1", "pop1").Population(); got != 10 {
		t.Fatalf("queued changes applied early: %d", got)
	}
	f.coord.Activate(time.Now(), 1)
	if got := f.store.Subscription("t1", "pop1").Population(); got != 12 {
		t.Fatalf("expected population 12 after flush, got %d", got)
	}

	// A queued over-withdraw is rejected at flush time, leaving the rest intact.
	if err := f.coord.SubscribeToTariff("t1", "pop1", -20); err != nil {
		t.Fatalf("queue over-withdraw: %v", err)
	}
	f.coord.Activate(time.Now(), 2)
	if got := f.store.Subscription("t1", "pop1").Population(); got != 12 {
		t.Fatalf("over-withdraw must not change population: %d", got)
	}
}

func TestRevocationGracePeriod(t *testing.T) {
	f := newFixture(t, Config{})
	f.coord.Dispatch(model.NewTariff{Spec: spec("t1", "acme")})
	f.coord.Activate(time.Now(), 0)
	if err := f.coord.SubscribeToTariff("t1", "pop1", 4); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if st := f.coord.Dispatch(model.RevokeTariff{UpdateID: "u1", Broker: "acme", TariffID: "t1"}); st.Status != model.StatusSuccess {
		t.Fatalf("revoke: %v", st.Status)
	}
	// Nothing happens until activation.
	if f.store.IsDeleted("t1") {
		t.Fatalf("revocation applied before activation")
	}

	cashBefore := f.ledger.Cash("acme")
	f.coord.Activate(time.Now(), 1)
	tf := f.store.Tariff("t1")
	if tf == nil || tf.State != model.TariffKilled {
		t.Fatalf("tariff should be KILLED after activation")
	}
	if !f.store.IsDeleted("t1") {
		t.Fatalf("tariff should be soft-deleted")
	}
	// Revocation fee charged once: committed subscribers remained.
	if got := f.ledger.Cash("acme") - cashBefore; math.Abs(got-f.coord.cfg.RevocationFee) > 1e-9 {
		t.Fatalf("revocation fee: expected %g, got %g", f.coord.cfg.RevocationFee, got)
	}

	// One grace activation later the id is gone for good.
	f.coord.Activate(time.Now(), 2)
	if f.store.Tariff("t1") != nil {
		t.Fatalf("tariff should be removed after the grace period")
	}

	// Subscribing to the vanished tariff fails.
	if err := f.coord.SubscribeToTariff("t1", "pop2", 1); err == nil {
		t.Fatalf("subscription to removed tariff accepted")
	}
}

func TestExpirationSweep(t *testing.T) {
	f := newFixture(t, Config{})
	f.coord.Dispatch(model.NewTariff{Spec: spec("t1", "acme")})
	now := time.Now()
	f.coord.Activate(now, 0)

	st := f.coord.Dispatch(model.ExpireTariff{UpdateID: "u1", Broker: "acme", TariffID: "t1", Expiration: now.Add(time.Hour)})
	if st.Status != model.StatusSuccess {
		t.Fatalf("expire: %v", st.Status)
	}
	// Past expiration instants are rejected.
	if st := f.coord.Dispatch(model.ExpireTariff{UpdateID: "u2", Broker: "acme", TariffID: "t1", Expiration: now.Add(-time.Hour)}); st.Status != model.StatusInvalidUpdate {
		t.Fatalf("past expiration: expected invalidUpdate, got %v", st.Status)
	}

	f.coord.Activate(now.Add(30*time.Minute), 1)
	if f.store.Tariff("t1").State != model.TariffOffered {
		t.Fatalf("tariff expired early")
	}
	f.coord.Activate(now.Add(2*time.Hour), 2)
	if f.store.Tariff("t1").State != model.TariffKilled {
		t.Fatalf("tariff should be killed by the expiration sweep")
	}
}

func TestVariableRateUpdate(t *testing.T) {
	f := newFixture(t, Config{})
	s := spec("t1", "acme")
	s.Rates = append(s.Rates, model.Rate{ID: "var", Fixed: false, Value: -0.10, MinValue: -0.30, MaxValue: -0.05})
	f.coord.Dispatch(model.NewTariff{Spec: s})
	f.coord.Activate(time.Now(), 0)

	if st := f.coord.Dispatch(model.VariableRateUpdate{UpdateID: "u1", Broker: "acme", TariffID: "t1", RateID: "var", HourlyCharge: -0.20}); st.Status != model.StatusSuccess {
		t.Fatalf("rate update: %v (%s)", st.Status, st.Message)
	}
	// Value unchanged until activation.
	if got := f.store.Tariff("t1").Spec.Rate("var").Value; got != -0.10 {
		t.Fatalf("rate applied early: %g", got)
	}
	f.coord.Activate(time.Now(), 1)
	if got := f.store.Tariff("t1").Spec.Rate("var").Value; got != -0.20 {
		t.Fatalf("rate not applied: %g", got)
	}

	// Out-of-bounds update queues fine but is rejected at activation.
	f.coord.Dispatch(model.VariableRateUpdate{UpdateID: "u2", Broker: "acme", TariffID: "t1", RateID: "var", HourlyCharge: -0.50})
	f.coord.Activate(time.Now(), 2)
	if got := f.store.Tariff("t1").Spec.Rate("var").Value; got != -0.20 {
		t.Fatalf("out-of-bounds update applied: %g", got)
	}
	var rejected bool
	for _, st := range f.sender.statusesFor("acme") {
		if st.UpdateID == "u2" && st.Status == model.StatusInvalidUpdate {
			rejected = true
		}
	}
	if !rejected {
		t.Fatalf("out-of-bounds update not rejected")
	}

	// Updating a fixed rate is rejected outright.
	f.coord.Dispatch(model.NewTariff{Spec: spec("t2", "acme")})
	fixedSpec := f.store.Tariff("t2").Spec
	fixedSpec.Rates[0].Fixed = true
	if st := f.coord.Dispatch(model.VariableRateUpdate{UpdateID: "u3", Broker: "acme", TariffID: "t2", RateID: "r1"}); st.Status != model.StatusInvalidUpdate {
		t.Fatalf("fixed rate update: expected invalidUpdate, got %v", st.Status)
	}
}

func TestSettlementDeliversCharges(t *testing.T) {
	f := newFixture(t, Config{})
	f.coord.Dispatch(model.NewTariff{Spec: spec("t1", "acme")})
	f.coord.Dispatch(model.NewTariff{Spec: spec("t2", "bolt")})
	f.coord.Activate(time.Now(), 0)

	f.coord.PostImbalance("acme", -1.5)
	f.coord.PostImbalance("bolt", -1.5)
	f.coord.Activate(time.Now(), 1)

	for _, broker := range []string{"acme", "bolt"} {
		charges := f.sender.chargesFor(broker)
		if len(charges) != 2 { // the period-0 run settles zero imbalances
			t.Fatalf("%s: expected 2 charge deliveries, got %d", broker, len(charges))
		}
		last := charges[len(charges)-1]
		if math.Abs(last.P1+9.0) > 1e-9 {
			t.Fatalf("%s P1: expected -9.0, got %g", broker, last.P1)
		}
	}

	// Imbalances are consumed by the run.
	f.coord.Activate(time.Now(), 2)
	last := f.sender.chargesFor("acme")
	if got := last[len(last)-1].P1; got != 0 {
		t.Fatalf("imbalance carried into next period: %g", got)
	}
}

func TestEconomicControlValidation(t *testing.T) {
	f := newFixture(t, Config{})
	f.coord.Dispatch(model.NewTariff{Spec: spec("t1", "acme")})
	f.coord.Activate(time.Now(), 5)

	if st := f.coord.Dispatch(model.EconomicControlEvent{UpdateID: "u1", Broker: "acme", TariffID: "t1", Period: 4, CurtailmentRatio: 0.2}); st.Status != model.StatusInvalidUpdate {
		t.Fatalf("past period: expected invalidUpdate, got %v", st.Status)
	}
	if st := f.coord.Dispatch(model.EconomicControlEvent{UpdateID: "u2", Broker: "acme", TariffID: "t1", Period: 6, CurtailmentRatio: 1.5}); st.Status != model.StatusInvalidUpdate {
		t.Fatalf("ratio above 1: expected invalidUpdate, got %v", st.Status)
	}
	if st := f.coord.Dispatch(model.EconomicControlEvent{UpdateID: "u3", Broker: "acme", TariffID: "t1", Period: 6, CurtailmentRatio: 0.2}); st.Status != model.StatusSuccess {
		t.Fatalf("valid control rejected: %v", st.Status)
	}
}

func TestBalancingOrderValidation(t *testing.T) {
	f := newFixture(t, Config{})
	f.coord.Dispatch(model.NewTariff{Spec: spec("t1", "acme")})

	if st := f.coord.Dispatch(model.BalancingOrder{ID: "o1", Broker: "acme", TariffID: "ghost", MaxCurtailmentRatio: 0.5}); st.Status != model.StatusNoSuchTariff {
		t.Fatalf("unknown tariff: expected noSuchTariff, got %v", st.Status)
	}
	if st := f.coord.Dispatch(model.BalancingOrder{ID: "o2", Broker: "acme", TariffID: "t1", MaxCurtailmentRatio: 0}); st.Status != model.StatusInvalidUpdate {
		t.Fatalf("zero ratio: expected invalidUpdate, got %v", st.Status)
	}
	if st := f.coord.Dispatch(model.BalancingOrder{ID: "o3", Broker: "acme", TariffID: "t1", MaxCurtailmentRatio: 0.5, Price: 0.04}); st.Status != model.StatusSuccess {
		t.Fatalf("valid order rejected: %v", st.Status)
	}
	if got := len(f.store.Orders()); got != 1 {
		t.Fatalf("order not stored: %d", got)
	}
}

func TestTimeOfUseBilling(t *testing.T) {
	f := newFixture(t, Config{})
	day := model.Rate{ID: "day", DailyBegin: 6, DailyEnd: 22, Value: -0.10, MaxCurtailment: 0.5}
	night := model.Rate{ID: "night", DailyBegin: 22, DailyEnd: 6, Value: -0.04}
	f.coord.Dispatch(model.NewTariff{Spec: model.TariffSpecification{
		ID: "t1", Broker: "acme", Rates: []model.Rate{day, night},
	}})

	// Monday 23:00: only the night rate covers the instant.
	at := time.Date(2026, time.January, 5, 23, 0, 0, 0, time.UTC)
	f.coord.Activate(at, 0)
	if err := f.coord.SubscribeToTariff("t1", "pop1", 10); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	f.coord.PostUsage("t1", "pop1", 100)

	var consume []model.TariffTransaction
	for _, tx := range f.ledger.Transactions() {
		if tx.Type == model.TxConsume {
			consume = append(consume, tx)
		}
	}
	if len(consume) != 1 {
		t.Fatalf("expected 1 consume transaction, got %d", len(consume))
	}
	if math.Abs(consume[0].Charge+4) > 1e-9 {
		t.Fatalf("night usage billed at the wrong rate: charge %g, expected -4", consume[0].Charge)
	}
}

func TestPeriodicPayment(t *testing.T) {
	f := newFixture(t, Config{})
	s := spec("t1", "acme")
	s.PeriodicPayment = -2
	f.coord.Dispatch(model.NewTariff{Spec: s})
	f.coord.Activate(time.Now(), 0)

	if err := f.coord.SubscribeToTariff("t1", "pop1", 10); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	periodic := func() []model.TariffTransaction {
		var out []model.TariffTransaction
		for _, tx := range f.ledger.Transactions() {
			if tx.Type == model.TxPeriodic {
				out = append(out, tx)
			}
		}
		return out
	}
	if got := periodic(); len(got) != 0 {
		t.Fatalf("periodic payment booked before any covered period: %+v", got)
	}

	f.coord.Activate(time.Now(), 1)
	got := periodic()
	if len(got) != 1 || got[0].Count != 10 {
		t.Fatalf("expected 1 periodic transaction for 10 customers, got %+v", got)
	}
	if math.Abs(got[0].Charge+20) > 1e-9 {
		t.Fatalf("periodic charge: expected -20, got %g", got[0].Charge)
	}

	// Booked again every period while the population stands.
	f.coord.Activate(time.Now(), 2)
	if got := periodic(); len(got) != 2 {
		t.Fatalf("expected a periodic transaction per period, got %d", len(got))
	}
}
