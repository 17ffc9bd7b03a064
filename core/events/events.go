package events

import (
	"time"

	"github.com/kilianp07/gridmarket/core/model"
)

// TariffPublished is emitted when a pending tariff becomes OFFERED.
type TariffPublished struct {
	Broker   string
	TariffID string
	Time     time.Time
}

// TariffRevoked is emitted when a tariff is killed by broker revocation.
type TariffRevoked struct {
	Broker   string
	TariffID string
	Time     time.Time
}

// TariffExpired is emitted when a tariff is killed by its expiration instant.
type TariffExpired struct {
	Broker   string
	TariffID string
	Time     time.Time
}

// SettlementCompleted is emitted after each settlement run with the final
// per-broker charges.
type SettlementCompleted struct {
	Period         int64
	TotalImbalance float64
	Exercised      float64
	Charges        []*model.ChargeInfo
	Time           time.Time
}
