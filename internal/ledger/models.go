package ledger

import "time"

// EntryKind names the DeviceEvent kinds that append a ledger row. It mirrors
// the money-moving subset of the outbound DeviceEvent stream; UI-only kinds
// like Initialized or CashEscrowRequested never reach the ledger.
type EntryKind string

const (
	KindCashProcessed         EntryKind = "CashProcessed"
	KindCoinReceived          EntryKind = "CoinReceived"
	KindCoinToCashbox         EntryKind = "CoinToCashbox"
	KindCoinDispensed         EntryKind = "CoinDispensed"
	KindCashlessVendApproved  EntryKind = "CashlessVendApproved"
	KindCashlessVendDenied    EntryKind = "CashlessVendDenied"
)

// Entry is one append-only row in the audit ledger. It is a record of what
// happened, not an input to any in-process decision — the planner and
// escrow logic consult only live InventoryStore state.
type Entry struct {
	ID        uint      `gorm:"primaryKey"`
	Kind      EntryKind `gorm:"index;size:32;not null"`
	Amount    int       `gorm:"not null"`
	Accepted  bool      `gorm:"not null"`
	Message   string    `gorm:"size:256"`
	CreatedAt time.Time `gorm:"index;not null"`
}

// TableName pins the table name so it doesn't shift if the type is renamed.
func (Entry) TableName() string {
	return "ledger_entries"
}
