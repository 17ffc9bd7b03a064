package tariff

import (
	"sync"

	"github.com/kilianp07/gridmarket/core/model"
)

// Store holds tariff market records: specifications, tariffs, subscriptions,
// balancing orders and per-broker default tariffs. Pure data access, no
// business rules.
//
// A soft-delete flag keeps a just-revoked id resolvable for one grace period
// while excluding it from active lookups and from the duplicate-id check.
type Store struct {
	mu       sync.RWMutex
	specs    map[string]*model.TariffSpecification
	tariffs  map[string]*Tariff
	deleted  map[string]bool
	subs     map[string]map[string]*Subscription // tariff id -> customer -> subscription
	subOrder map[string][]*Subscription          // insertion order, for deterministic iteration
	orders   map[string]model.BalancingOrder     // broker+tariff -> latest order
	orderSeq []string                            // submission order of order keys
	defaults map[string]map[model.PowerType]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		specs:    make(map[string]*model.TariffSpecification),
		tariffs:  make(map[string]*Tariff),
		deleted:  make(map[string]bool),
		subs:     make(map[string]map[string]*Subscription),
		subOrder: make(map[string][]*Subscription),
		orders:   make(map[string]model.BalancingOrder),
		defaults: make(map[string]map[model.PowerType]string),
	}
}

// PutSpec stores a specification and its tariff wrapper.
func (s *Store) PutSpec(spec *model.TariffSpecification, t *Tariff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[spec.ID] = spec
	s.tariffs[spec.ID] = t
	delete(s.deleted, spec.ID)
}

// Spec returns the specification with the given id, or nil. Soft-deleted
// specifications remain resolvable.
func (s *Store) Spec(id string) *model.TariffSpecification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.specs[id]
}

// Tariff returns the tariff with the given id, or nil. Soft-deleted tariffs
// remain resolvable until Remove.
func (s *Store) Tariff(id string) *Tariff {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tariffs[id]
}

// Exists reports whether the id is stored and not soft-deleted. Used by the
// publish duplicate-id check.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.specs[id]
	return ok && !s.deleted[id]
}

// SoftDelete marks the tariff as logically removed while keeping it
// resolvable for the grace period.
func (s *Store) SoftDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted[id] = true
}

// IsDeleted reports the soft-delete flag.
func (s *Store) IsDeleted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleted[id]
}

// Remove erases the tariff, its specification, its subscriptions and its
// balancing orders.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.specs, id)
	delete(s.tariffs, id)
	delete(s.deleted, id)
	delete(s.subs, id)
	delete(s.subOrder, id)
	for key, o := range s.orders {
		if o.TariffID == id {
			delete(s.orders, key)
			for i, k := range s.orderSeq {
				if k == key {
					s.orderSeq = append(s.orderSeq[:i], s.orderSeq[i+1:]...)
					break
				}
			}
		}
	}
}

// Tariffs returns all stored tariffs, soft-deleted included.
func (s *Store) Tariffs() []*Tariff {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Tariff, 0, len(s.tariffs))
	for _, t := range s.tariffs {
		out = append(out, t)
	}
	return out
}

// ActiveTariffs returns OFFERED, non-deleted tariffs for the power type.
func (s *Store) ActiveTariffs(pt model.PowerType) []*Tariff {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Tariff
	for id, t := range s.tariffs {
		if !s.deleted[id] && t.IsActive() && t.Spec.PowerType == pt {
			out = append(out, t)
		}
	}
	return out
}

// Subscription returns the subscription for (tariff, customer), or nil.
func (s *Store) Subscription(tariffID, customer string) *Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs[tariffID][customer]
}

// GetOrCreateSubscription lazily creates the subscription on first subscribe.
func (s *Store) GetOrCreateSubscription(t *Tariff, customer string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCustomer := s.subs[t.ID()]
	if byCustomer == nil {
		byCustomer = make(map[string]*Subscription)
		s.subs[t.ID()] = byCustomer
	}
	sub := byCustomer[customer]
	if sub == nil {
		sub = NewSubscription(t, customer)
		byCustomer[customer] = sub
		s.subOrder[t.ID()] = append(s.subOrder[t.ID()], sub)
	}
	return sub
}

// SubscriptionsFor returns the tariff's subscriptions in creation order.
func (s *Store) SubscriptionsFor(tariffID string) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Subscription(nil), s.subOrder[tariffID]...)
}

// CustomerSubscriptions counts subscriptions with committed population held
// by the customer segment across all tariffs.
func (s *Store) CustomerSubscriptions(customer string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byCustomer := range s.subs {
		if sub, ok := byCustomer[customer]; ok && sub.Population() > 0 {
			n++
		}
	}
	return n
}

// PutOrder stores a balancing order. The most recent order per
// (broker, tariff) replaces any prior one; submission order is preserved for
// the settlement tie-break.
func (s *Store) PutOrder(o model.BalancingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := o.Broker + "|" + o.TariffID
	if _, ok := s.orders[key]; !ok {
		s.orderSeq = append(s.orderSeq, key)
	}
	s.orders[key] = o
}

// Orders returns all balancing orders in submission order.
func (s *Store) Orders() []model.BalancingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BalancingOrder, 0, len(s.orderSeq))
	for _, key := range s.orderSeq {
		out = append(out, s.orders[key])
	}
	return out
}

// OrdersFor returns the broker's balancing orders in submission order.
func (s *Store) OrdersFor(broker string) []model.BalancingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.BalancingOrder
	for _, key := range s.orderSeq {
		if o := s.orders[key]; o.Broker == broker {
			out = append(out, o)
		}
	}
	return out
}

// SetDefaultTariff registers the broker's default tariff for a power type.
func (s *Store) SetDefaultTariff(broker string, pt model.PowerType, tariffID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType := s.defaults[broker]
	if byType == nil {
		byType = make(map[model.PowerType]string)
		s.defaults[broker] = byType
	}
	byType[pt] = tariffID
}

// DefaultTariff returns the broker's default tariff for a power type, or nil.
func (s *Store) DefaultTariff(broker string, pt model.PowerType) *Tariff {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.defaults[broker][pt]; ok {
		return s.tariffs[id]
	}
	return nil
}
