package market

import (
	"sort"
	"time"

	"github.com/kilianp07/gridmarket/core/events"
	coremetrics "github.com/kilianp07/gridmarket/core/metrics"
	"github.com/kilianp07/gridmarket/core/model"
)

// Activate runs the once-per-period update: deferred removals, revocations,
// the expiration sweep, queued rate updates, the subscription flush, the
// publication batch, economic controls, settlement and the per-period
// payments. It is the only writer during this phase; a second activation
// blocks until the prior settlement has finished.
func (m *Coordinator) Activate(now time.Time, period int64) {
	m.activationMu.Lock()
	defer m.activationMu.Unlock()

	m.mu.Lock()
	m.now = now
	m.period = period
	revoked := m.pendingRevoked
	m.pendingRevoked = nil
	m.revokedSet = make(map[string]struct{})
	vrus := m.pendingVRUs
	m.pendingVRUs = nil
	subs := m.pendingSubs
	m.pendingSubs = nil
	toRemove := m.killed
	m.killed = nil
	first := !m.activated
	m.activated = true
	m.mu.Unlock()

	m.removeKilled(toRemove)
	m.processRevocations(revoked, now)
	m.sweepExpirations(now)
	m.applyRateUpdates(vrus)
	m.flushSubscriptions(subs)
	if first || period%int64(m.cfg.PublicationInterval) == int64(m.cfg.PublicationOffset) {
		m.publishPending(now)
	}
	m.capacity.Activate(period)
	m.settle(now, period)
	m.chargePeriodic(now)
	m.resetSubscriptions()
}

// removeKilled erases tariffs soft-deleted one activation ago, together with
// their subscriptions. Dependents had one full period to observe KILLED.
func (m *Coordinator) removeKilled(ids []string) {
	for _, id := range ids {
		m.store.Remove(id)
		m.log.Debugf("tariff %s removed from store", id)
	}
}

// processRevocations kills each pending-revoked tariff and charges the
// revocation fee once when committed subscribers remain. Removal is deferred
// to the next activation.
func (m *Coordinator) processRevocations(ids []string, now time.Time) {
	for _, id := range ids {
		t := m.store.Tariff(id)
		if t == nil {
			m.log.Warnf("pending revocation for vanished tariff %s", id)
			continue
		}
		t.Kill()
		m.store.SoftDelete(id)
		committed := 0
		for _, sub := range m.store.SubscriptionsFor(id) {
			committed += sub.Population()
		}
		if committed > 0 {
			m.accounting.RecordTariffTransaction(model.TariffTransaction{
				Type:     model.TxRevoke,
				Broker:   t.Broker(),
				TariffID: id,
				Count:    committed,
				Charge:   m.cfg.RevocationFee,
				Time:     now,
			})
		}
		m.mu.Lock()
		m.killed = append(m.killed, id)
		m.mu.Unlock()
		tariffsRevoked.Inc()
		m.publish(events.TariffRevoked{Broker: t.Broker(), TariffID: id, Time: now})
		if rec, ok := m.sink.(coremetrics.TariffEventRecorder); ok {
			if err := rec.RecordTariffEvent(coremetrics.TariffEvent{Kind: "revoked", Broker: t.Broker(), TariffID: id, Time: now}); err != nil {
				m.log.Errorf("tariff event metrics: %v", err)
			}
		}
		m.log.Infof("tariff %s revoked by %s, %d customers affected", id, t.Broker(), committed)
	}
}

// sweepExpirations kills OFFERED tariffs whose expiration instant has
// passed. No fee: expiration is a scheduled death, not a broker walk-away.
func (m *Coordinator) sweepExpirations(now time.Time) {
	for _, t := range m.store.Tariffs() {
		if !t.IsActive() || m.store.IsDeleted(t.ID()) || !t.Expired(now) {
			continue
		}
		t.Kill()
		m.store.SoftDelete(t.ID())
		m.mu.Lock()
		m.killed = append(m.killed, t.ID())
		m.mu.Unlock()
		m.publish(events.TariffExpired{Broker: t.Broker(), TariffID: t.ID(), Time: now})
		m.log.Infof("tariff %s expired", t.ID())
	}
}

// applyRateUpdates applies queued variable-rate changes against the specific
// rate by id. Out-of-bounds charges earn the broker an invalidUpdate.
func (m *Coordinator) applyRateUpdates(vrus []model.VariableRateUpdate) {
	for _, vru := range vrus {
		t := m.store.Tariff(vru.TariffID)
		if t == nil {
			continue
		}
		rate := t.Spec.Rate(vru.RateID)
		if rate == nil || rate.Fixed {
			m.reply(model.TariffStatus{
				Broker: vru.Broker, TariffID: vru.TariffID, UpdateID: vru.UpdateID,
				Status: model.StatusInvalidUpdate, Message: "rate not found or not variable",
			})
			continue
		}
		if rate.MinValue != 0 || rate.MaxValue != 0 {
			if vru.HourlyCharge < rate.MinValue || vru.HourlyCharge > rate.MaxValue {
				m.reply(model.TariffStatus{
					Broker: vru.Broker, TariffID: vru.TariffID, UpdateID: vru.UpdateID,
					Status: model.StatusInvalidUpdate, Message: "hourly charge out of bounds",
				})
				continue
			}
		}
		rate.Value = vru.HourlyCharge
	}
}

// flushSubscriptions applies queued subscribe/unsubscribe events in FIFO
// submission order. Order matters: unsubscribe-then-resubscribe within one
// period nets out deterministically only when replayed in sequence.
func (m *Coordinator) flushSubscriptions(subs []subscriptionEvent) {
	for _, ev := range subs {
		if err := m.applySubscription(ev); err != nil {
			m.log.Warnf("subscription event rejected: %v", err)
		}
	}
}

// publishPending transitions every PENDING tariff to OFFERED and broadcasts
// its specification. The transition and broadcast form one atomic step with
// respect to broker visibility.
func (m *Coordinator) publishPending(now time.Time) {
	for _, t := range m.store.Tariffs() {
		if t.State != model.TariffPending || m.store.IsDeleted(t.ID()) {
			continue
		}
		if err := t.Offer(now); err != nil {
			m.log.Errorf("publication of %s: %v", t.ID(), err)
			continue
		}
		if err := m.sender.Broadcast(*t.Spec); err != nil {
			m.log.Errorf("broadcast of %s: %v", t.ID(), err)
		}
		m.publish(events.TariffPublished{Broker: t.Broker(), TariffID: t.ID(), Time: now})
		m.log.Infof("tariff %s now offered", t.ID())
	}
}

// settle builds this period's charge list, runs the settlement processor and
// reports the results. Imbalance counters are consumed by the run.
func (m *Coordinator) settle(now time.Time, period int64) {
	m.mu.Lock()
	imbalances := m.imbalances
	m.imbalances = make(map[string]float64)
	brokers := make([]string, 0, len(m.brokers))
	for b := range m.brokers {
		brokers = append(brokers, b)
	}
	m.mu.Unlock()
	sort.Strings(brokers)

	charges := make([]*model.ChargeInfo, 0, len(brokers))
	for _, b := range brokers {
		ci := &model.ChargeInfo{Broker: b, Imbalance: imbalances[b]}
		for _, o := range m.store.OrdersFor(b) {
			ci.AddOrder(o)
		}
		charges = append(charges, ci)
	}
	if len(charges) == 0 {
		return
	}

	res := m.settler.Settle(charges)
	settlementRuns.Inc()
	marketImbalance.Set(res.TotalImbalance)

	recs := make([]coremetrics.SettlementRecord, 0, len(charges))
	for _, ci := range charges {
		m.accounting.RecordBalancingCharge(ci.Broker, ci.BalanceCharge())
		if err := m.sender.Send(ci.Broker, *ci); err != nil {
			m.log.Errorf("charge delivery to %s: %v", ci.Broker, err)
		}
		recs = append(recs, coremetrics.SettlementRecord{
			Period: period, Broker: ci.Broker, Imbalance: ci.Imbalance,
			P1: ci.P1, P2: ci.P2, Time: now,
		})
	}
	if err := m.sink.RecordSettlement(recs); err != nil {
		m.log.Errorf("settlement metrics: %v", err)
	}
	if rec, ok := m.sink.(coremetrics.ImbalanceRecorder); ok {
		if err := rec.RecordImbalance(coremetrics.ImbalanceRecord{
			Period: period, TotalKWh: res.TotalImbalance, Exercised: res.Exercised, Time: now,
		}); err != nil {
			m.log.Errorf("imbalance metrics: %v", err)
		}
	}
	m.publish(events.SettlementCompleted{
		Period: period, TotalImbalance: res.TotalImbalance, Exercised: res.Exercised,
		Charges: charges, Time: now,
	})
	m.log.Infof("period %d settled: total imbalance %.3f kWh, %.3f exercised", period, res.TotalImbalance, res.Exercised)
}

// chargePeriodic books every tariff's per-period payment against its
// committed subscribers once per activation.
func (m *Coordinator) chargePeriodic(now time.Time) {
	for _, t := range m.store.Tariffs() {
		if t.Spec.PeriodicPayment == 0 || !t.IsActive() || m.store.IsDeleted(t.ID()) {
			continue
		}
		for _, sub := range m.store.SubscriptionsFor(t.ID()) {
			n := sub.Population()
			if n == 0 {
				continue
			}
			m.accounting.RecordTariffTransaction(model.TariffTransaction{
				Type:     model.TxPeriodic,
				Broker:   t.Broker(),
				TariffID: t.ID(),
				Customer: sub.Customer,
				Count:    n,
				Charge:   t.Spec.PeriodicPayment * float64(n),
				Time:     now,
			})
		}
	}
}

// resetSubscriptions clears per-period usage and curtailment counters after
// settlement so the next period starts clean.
func (m *Coordinator) resetSubscriptions() {
	for _, t := range m.store.Tariffs() {
		for _, sub := range m.store.SubscriptionsFor(t.ID()) {
			sub.NextPeriod()
		}
	}
}
