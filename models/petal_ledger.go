package models

import "time"

// LedgerType says which way a ledger entry moves the balance
type LedgerType string

const (
	LedgerTypeEarn   LedgerType = "earn"
	LedgerTypeSpend  LedgerType = "spend"
	LedgerTypeAdjust LedgerType = "adjust"
)

// PetalLedgerEntry is one append-only balance event.
// Amount is always the positive magnitude; Delta carries the sign and is what
// the cached balance is summed from.
type PetalLedgerEntry struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string     `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_ledger_user_idempotency,priority:1" json:"user_id"`
	Type           LedgerType `gorm:"type:varchar(16);not null" json:"type"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Delta          int64      `gorm:"not null" json:"delta"`
	Reason         string     `gorm:"type:text" json:"reason"`
	ReasonCode     string     `gorm:"type:varchar(64);index" json:"reason_code"`
	IdempotencyKey *string    `gorm:"type:varchar(128);uniqueIndex:idx_ledger_user_idempotency,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}
