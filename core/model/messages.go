package model

import "time"

// Status is the typed reply code returned to a broker after processing one of
// its tariff messages.
type Status int

const (
	StatusSuccess Status = iota
	StatusInvalidTariff
	StatusNoSuchTariff
	StatusInvalidUpdate
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidTariff:
		return "invalidTariff"
	case StatusNoSuchTariff:
		return "noSuchTariff"
	case StatusInvalidUpdate:
		return "invalidUpdate"
	default:
		return "unknown"
	}
}

// TariffStatus is the reply delivered to the originating broker.
type TariffStatus struct {
	Broker   string `json:"broker"`
	TariffID string `json:"tariff_id"`
	UpdateID string `json:"update_id"`
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
}

// NewTariff asks the market to publish a tariff specification.
type NewTariff struct {
	Spec TariffSpecification
}

// ExpireTariff moves a tariff's expiration instant. Applied immediately since
// expiration does not affect already-committed subscriptions.
type ExpireTariff struct {
	UpdateID   string
	Broker     string
	TariffID   string
	Expiration time.Time
}

// RevokeTariff asks the market to kill a tariff at the next activation.
type RevokeTariff struct {
	UpdateID string
	Broker   string
	TariffID string
}

// VariableRateUpdate changes the hourly charge of a variable rate. Queued and
// applied at the next activation.
type VariableRateUpdate struct {
	UpdateID     string
	Broker       string
	TariffID     string
	RateID       string
	HourlyCharge float64
}

// EconomicControlEvent requests price-ratio curtailment of a tariff's
// subscriptions during a given period.
type EconomicControlEvent struct {
	UpdateID         string
	Broker           string
	TariffID         string
	Period           int64
	CurtailmentRatio float64
}

// BalancingControlEvent confirms exercised regulation to the owning broker.
// KWh and Payment cover the whole tariff, not individual subscriptions.
type BalancingControlEvent struct {
	Broker   string  `json:"broker"`
	TariffID string  `json:"tariff_id"`
	KWh      float64 `json:"kwh"`
	Payment  float64 `json:"payment"`
}

// TxType classifies a tariff transaction reported to accounting.
type TxType int

const (
	TxPublish TxType = iota
	TxSignup
	TxWithdraw
	TxConsume
	TxProduce
	TxPeriodic
	TxRevoke
)

// String returns a human-readable representation of the transaction type.
func (t TxType) String() string {
	switch t {
	case TxPublish:
		return "PUBLISH"
	case TxSignup:
		return "SIGNUP"
	case TxWithdraw:
		return "WITHDRAW"
	case TxConsume:
		return "CONSUME"
	case TxProduce:
		return "PRODUCE"
	case TxPeriodic:
		return "PERIODIC"
	case TxRevoke:
		return "REVOKE"
	default:
		return "unknown"
	}
}

// TariffTransaction reports a customer or fee event on a tariff to the
// accounting collaborator.
type TariffTransaction struct {
	Type     TxType
	Broker   string
	TariffID string
	Customer string
	Count    int
	KWh      float64
	Charge   float64
	Time     time.Time
}
