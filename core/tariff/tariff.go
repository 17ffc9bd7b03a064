package tariff

import (
	"fmt"
	"time"

	"github.com/kilianp07/gridmarket/core/model"
)

// Tariff wraps one TariffSpecification with its lifecycle state machine:
// PENDING -> OFFERED -> KILLED. KILLED is terminal.
type Tariff struct {
	Spec    *model.TariffSpecification
	State   model.TariffState
	Created time.Time
	Offered time.Time
}

// New wraps a specification in a PENDING tariff.
func New(spec *model.TariffSpecification, now time.Time) *Tariff {
	return &Tariff{Spec: spec, State: model.TariffPending, Created: now}
}

// ID returns the specification id.
func (t *Tariff) ID() string { return t.Spec.ID }

// Broker returns the owning broker.
func (t *Tariff) Broker() string { return t.Spec.Broker }

// IsActive reports whether the tariff is currently subscribable.
func (t *Tariff) IsActive() bool { return t.State == model.TariffOffered }

// Offer moves a PENDING tariff to OFFERED. Offering a KILLED tariff is an
// error; offering an already OFFERED one is a no-op.
func (t *Tariff) Offer(now time.Time) error {
	switch t.State {
	case model.TariffPending:
		t.State = model.TariffOffered
		t.Offered = now
		return nil
	case model.TariffOffered:
		return nil
	default:
		return fmt.Errorf("tariff %s: cannot offer from state %s", t.ID(), t.State)
	}
}

// Kill moves the tariff to its terminal state. Idempotent.
func (t *Tariff) Kill() {
	t.State = model.TariffKilled
}

// Expired reports whether the specification's expiration instant has passed.
func (t *Tariff) Expired(now time.Time) bool {
	return !t.Spec.Expiration.IsZero() && !t.Spec.Expiration.After(now)
}
