package market

import (
	"fmt"

	"github.com/kilianp07/gridmarket/core/model"
	"github.com/kilianp07/gridmarket/core/tariff"
)

// Dispatch routes one broker message to its handler and returns the status
// reply. Unknown message types get an invalidUpdate reply.
func (m *Coordinator) Dispatch(message any) model.TariffStatus {
	switch msg := message.(type) {
	case model.NewTariff:
		return m.HandleNewTariff(msg)
	case model.ExpireTariff:
		return m.HandleExpireTariff(msg)
	case model.RevokeTariff:
		return m.HandleRevokeTariff(msg)
	case model.VariableRateUpdate:
		return m.HandleVariableRateUpdate(msg)
	case model.EconomicControlEvent:
		return m.HandleEconomicControl(msg)
	case model.BalancingOrder:
		return m.HandleBalancingOrder(msg)
	default:
		m.log.Warnf("unhandled message type %T", message)
		return model.TariffStatus{Status: model.StatusInvalidUpdate, Message: fmt.Sprintf("unhandled message type %T", message)}
	}
}

// reply sends the status to the originating broker and returns it.
func (m *Coordinator) reply(st model.TariffStatus) model.TariffStatus {
	if err := m.sender.Send(st.Broker, st); err != nil {
		m.log.Errorf("status reply to %s: %v", st.Broker, err)
	}
	return st
}

// HandleNewTariff validates and stores a published specification. The tariff
// starts PENDING and becomes OFFERED at the next scheduled publication batch.
func (m *Coordinator) HandleNewTariff(msg model.NewTariff) model.TariffStatus {
	spec := msg.Spec
	st := model.TariffStatus{Broker: spec.Broker, TariffID: spec.ID, UpdateID: spec.ID}
	if err := spec.Validate(); err != nil {
		st.Status = model.StatusInvalidTariff
		st.Message = err.Error()
		return m.reply(st)
	}
	if m.store.Exists(spec.ID) {
		st.Status = model.StatusInvalidTariff
		st.Message = fmt.Sprintf("tariff %s already exists", spec.ID)
		return m.reply(st)
	}

	stored := spec
	t := tariff.New(&stored, m.currentTime())
	m.store.PutSpec(&stored, t)
	m.RegisterBroker(spec.Broker)

	fee := m.publicationFee()
	m.accounting.RecordTariffTransaction(model.TariffTransaction{
		Type:     model.TxPublish,
		Broker:   spec.Broker,
		TariffID: spec.ID,
		Charge:   fee,
		Time:     m.currentTime(),
	})
	tariffsPublished.Inc()
	m.log.Infof("tariff %s published by %s (fee %.2f)", spec.ID, spec.Broker, fee)
	st.Status = model.StatusSuccess
	return m.reply(st)
}

// HandleExpireTariff moves a tariff's expiration instant. Applied
// immediately since expiration does not affect committed subscriptions.
func (m *Coordinator) HandleExpireTariff(msg model.ExpireTariff) model.TariffStatus {
	st := model.TariffStatus{Broker: msg.Broker, TariffID: msg.TariffID, UpdateID: msg.UpdateID}
	t := m.store.Tariff(msg.TariffID)
	if t == nil {
		st.Status = model.StatusNoSuchTariff
		return m.reply(st)
	}
	if msg.Expiration.Before(m.currentTime()) {
		st.Status = model.StatusInvalidUpdate
		st.Message = "expiration date in the past"
		return m.reply(st)
	}
	t.Spec.Expiration = msg.Expiration
	st.Status = model.StatusSuccess
	return m.reply(st)
}

// HandleRevokeTariff enqueues the tariff for revocation at the next
// activation. Fire-and-forget: the broker always gets success when the
// tariff exists.
func (m *Coordinator) HandleRevokeTariff(msg model.RevokeTariff) model.TariffStatus {
	st := model.TariffStatus{Broker: msg.Broker, TariffID: msg.TariffID, UpdateID: msg.UpdateID}
	if m.store.Tariff(msg.TariffID) == nil {
		st.Status = model.StatusNoSuchTariff
		return m.reply(st)
	}
	m.mu.Lock()
	if _, queued := m.revokedSet[msg.TariffID]; !queued {
		m.revokedSet[msg.TariffID] = struct{}{}
		m.pendingRevoked = append(m.pendingRevoked, msg.TariffID)
	}
	m.mu.Unlock()
	st.Status = model.StatusSuccess
	return m.reply(st)
}

// HandleVariableRateUpdate enqueues a rate charge change for the next
// activation. The target rate must exist and be variable.
func (m *Coordinator) HandleVariableRateUpdate(msg model.VariableRateUpdate) model.TariffStatus {
	st := model.TariffStatus{Broker: msg.Broker, TariffID: msg.TariffID, UpdateID: msg.UpdateID}
	t := m.store.Tariff(msg.TariffID)
	if t == nil {
		st.Status = model.StatusNoSuchTariff
		return m.reply(st)
	}
	rate := t.Spec.Rate(msg.RateID)
	if rate == nil || rate.Fixed {
		st.Status = model.StatusInvalidUpdate
		st.Message = fmt.Sprintf("rate %s not found or not variable", msg.RateID)
		return m.reply(st)
	}
	m.mu.Lock()
	m.pendingVRUs = append(m.pendingVRUs, msg)
	m.mu.Unlock()
	st.Status = model.StatusSuccess
	return m.reply(st)
}

// HandleEconomicControl forwards a curtailment request to capacity control.
// Controls dated before the current period are rejected.
func (m *Coordinator) HandleEconomicControl(msg model.EconomicControlEvent) model.TariffStatus {
	st := model.TariffStatus{Broker: msg.Broker, TariffID: msg.TariffID, UpdateID: msg.UpdateID}
	if m.store.Tariff(msg.TariffID) == nil {
		st.Status = model.StatusNoSuchTariff
		return m.reply(st)
	}
	if msg.Period < m.Period() {
		st.Status = model.StatusInvalidUpdate
		st.Message = fmt.Sprintf("control for past period %d", msg.Period)
		return m.reply(st)
	}
	if msg.CurtailmentRatio < 0 || msg.CurtailmentRatio > 1 {
		st.Status = model.StatusInvalidUpdate
		st.Message = "curtailment ratio must be in [0,1]"
		return m.reply(st)
	}
	m.capacity.PostEconomicControl(msg)
	st.Status = model.StatusSuccess
	return m.reply(st)
}

// HandleBalancingOrder stores the order for settlement use. A later order
// from the same broker for the same tariff replaces the earlier one.
func (m *Coordinator) HandleBalancingOrder(o model.BalancingOrder) model.TariffStatus {
	st := model.TariffStatus{Broker: o.Broker, TariffID: o.TariffID, UpdateID: o.ID}
	if m.store.Tariff(o.TariffID) == nil {
		st.Status = model.StatusNoSuchTariff
		return m.reply(st)
	}
	if o.MaxCurtailmentRatio <= 0 || o.MaxCurtailmentRatio > 1 {
		st.Status = model.StatusInvalidUpdate
		st.Message = "max curtailment ratio must be in (0,1]"
		return m.reply(st)
	}
	m.store.PutOrder(o)
	m.RegisterBroker(o.Broker)
	st.Status = model.StatusSuccess
	return m.reply(st)
}
