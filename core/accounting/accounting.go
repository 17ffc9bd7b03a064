package accounting

import (
	"sync"

	"github.com/kilianp07/gridmarket/core/model"
)

// Accounting is the ledger collaborator. The core reports every tariff
// transaction and balancing charge; it does not persist ledger state itself.
type Accounting interface {
	RecordTariffTransaction(tx model.TariffTransaction)
	RecordBalancingCharge(broker string, amount float64)
}

// NopAccounting discards all records.
type NopAccounting struct{}

func (NopAccounting) RecordTariffTransaction(model.TariffTransaction) {}
func (NopAccounting) RecordBalancingCharge(string, float64)           {}

// MemoryLedger keeps per-broker cash totals in memory. It backs the
// simulation harness and tests.
type MemoryLedger struct {
	mu           sync.Mutex
	cash         map[string]float64
	transactions []model.TariffTransaction
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{cash: make(map[string]float64)}
}

// RecordTariffTransaction applies the transaction charge to the broker's cash
// position and keeps the record.
func (l *MemoryLedger) RecordTariffTransaction(tx model.TariffTransaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash[tx.Broker] += tx.Charge
	l.transactions = append(l.transactions, tx)
}

// RecordBalancingCharge applies a settlement charge to the broker's cash.
func (l *MemoryLedger) RecordBalancingCharge(broker string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash[broker] += amount
}

// Cash returns the broker's current cash position.
func (l *MemoryLedger) Cash(broker string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash[broker]
}

// Transactions returns a copy of all recorded tariff transactions.
func (l *MemoryLedger) Transactions() []model.TariffTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.TariffTransaction(nil), l.transactions...)
}
