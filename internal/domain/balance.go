package domain

import (
	"time"
)

// Balance is one ledger row per (user, chain, token). Amounts are
// fixed-point integers scaled to the token's native decimals (10^6 for
// USDC). AvailableUnits is what the user may spend; LockedUnits is
// reserved by in-flight operations.
type Balance struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	ChainID        string    `json:"chain_id" db:"chain_id"`
	Token          string    `json:"token" db:"token"`
	AvailableUnits int64     `json:"available_units" db:"available_units"`
	LockedUnits    int64     `json:"locked_units" db:"locked_units"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// TotalUnits is the authoritative balance: spendable plus reserved.
func (b *Balance) TotalUnits() int64 {
	return b.AvailableUnits + b.LockedUnits
}

type BalanceOp string

const (
	OpLock        BalanceOp = "lock"
	OpUnlock      BalanceOp = "unlock"
	OpCredit      BalanceOp = "credit"
	OpSettleDebit BalanceOp = "settle_debit"
)

// BalanceLog is an append-only audit record of a single balance mutation.
type BalanceLog struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	ChainID       string    `json:"chain_id" db:"chain_id"`
	Token         string    `json:"token" db:"token"`
	Op            BalanceOp `json:"op" db:"op"`
	AmountUnits   int64     `json:"amount_units" db:"amount_units"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	Description   string    `json:"description" db:"description"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
}
