package capacity

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/gridmarket/core/model"
	"github.com/kilianp07/gridmarket/core/tariff"
)

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]any
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

func (r *recordingSender) Broadcast(any) error { return nil }

func setupTariff(t *testing.T, store *tariff.Store) *tariff.Tariff {
	t.Helper()
	spec := &model.TariffSpecification{
		ID:     "t1",
		Broker: "acme",
		Rates:  []model.Rate{{ID: "r1", Value: -0.12, MaxCurtailment: 1}},
	}
	tf := tariff.New(spec, time.Now())
	store.PutSpec(spec, tf)
	return tf
}

func TestExerciseProportionalAllocation(t *testing.T) {
	store := tariff.NewStore()
	tf := setupTariff(t, store)
	sender := newRecordingSender()
	ctrl := NewController(store, sender, nil)

	subA := store.GetOrCreateSubscription(tf, "popA")
	subB := store.GetOrCreateSubscription(tf, "popB")
	if err := subA.Adjust(1); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if err := subB.Adjust(1); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	subA.SetRegulationCapacity(model.RegulationCapacity{Up: 40})
	subB.SetRegulationCapacity(model.RegulationCapacity{Up: 60})

	order := model.BalancingOrder{ID: "o1", Broker: "acme", TariffID: "t1", MaxCurtailmentRatio: 1, Price: 0.04}
	if got := ctrl.CurtailableUsage(order); math.Abs(got-100) > 1e-9 {
		t.Fatalf("expected 100 kWh curtailable, got %g", got)
	}
	if err := ctrl.ExerciseBalancingControl(order, 50, 120); err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if got := subA.Curtailment(); math.Abs(got-20) > 1e-9 {
		t.Fatalf("popA share: expected 20, got %g", got)
	}
	if got := subB.Curtailment(); math.Abs(got-30) > 1e-9 {
		t.Fatalf("popB share: expected 30, got %g", got)
	}

	msgs := sender.sent["acme"]
	if len(msgs) != 1 {
		t.Fatalf("expected 1 confirmation, got %d", len(msgs))
	}
	ev, ok := msgs[0].(model.BalancingControlEvent)
	if !ok {
		t.Fatalf("unexpected message type %T", msgs[0])
	}
	if ev.KWh != 50 || ev.Payment != 120 {
		t.Fatalf("confirmation carries wrong totals: %+v", ev)
	}
}

func TestExerciseEdgeCases(t *testing.T) {
	store := tariff.NewStore()
	tf := setupTariff(t, store)
	ctrl := NewController(store, nil, nil)

	// Unknown tariff is a broker error.
	bad := model.BalancingOrder{ID: "o1", Broker: "acme", TariffID: "ghost", MaxCurtailmentRatio: 1}
	if err := ctrl.ExerciseBalancingControl(bad, 10, 5); err == nil {
		t.Fatalf("unknown tariff must fail")
	}

	// Zero kWh is a no-op even on unknown tariffs.
	if err := ctrl.ExerciseBalancingControl(bad, 0, 0); err != nil {
		t.Fatalf("zero exercise: %v", err)
	}

	// No curtailable capacity exercises nothing without failing.
	sub := store.GetOrCreateSubscription(tf, "popA")
	if err := sub.Adjust(1); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	order := model.BalancingOrder{ID: "o2", Broker: "acme", TariffID: "t1", MaxCurtailmentRatio: 1}
	if err := ctrl.ExerciseBalancingControl(order, 10, 5); err != nil {
		t.Fatalf("no-capacity exercise: %v", err)
	}
	if sub.Curtailment() != 0 {
		t.Fatalf("nothing should have been curtailed")
	}
}

func TestEconomicControlQueueing(t *testing.T) {
	store := tariff.NewStore()
	tf := setupTariff(t, store)
	ctrl := NewController(store, nil, nil)

	sub := store.GetOrCreateSubscription(tf, "popA")
	if err := sub.Adjust(1); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	sub.PostUsage(30)

	ctrl.PostEconomicControl(model.EconomicControlEvent{TariffID: "t1", Period: 5, CurtailmentRatio: 0.2})
	ctrl.PostEconomicControl(model.EconomicControlEvent{TariffID: "t1", Period: 3, CurtailmentRatio: 0.9})

	// Period 3's control is stale by period 5 and must be discarded.
	ctrl.Activate(5)
	if got := sub.Curtailment(); math.Abs(got-6) > 1e-9 {
		t.Fatalf("expected 6 kWh curtailed (20%% of 30), got %g", got)
	}

	// Re-activating the same period applies nothing further.
	ctrl.Activate(5)
	if got := sub.Curtailment(); math.Abs(got-6) > 1e-9 {
		t.Fatalf("control applied twice: %g", got)
	}
}
