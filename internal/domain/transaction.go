package domain

import (
	"encoding/json"
	"time"
)

type TransactionStatus string
type TransactionType string

const (
	StatusPending   TransactionStatus = "pending"
	StatusAttesting TransactionStatus = "attesting"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeTransfer   TransactionType = "transfer"
	TypeBridge     TransactionType = "bridge"
	TypeSwap       TransactionType = "swap"
	TypeFee        TransactionType = "fee"
)

// Terminal reports whether a status may never change again.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition validates a move along the one-directional state machine:
// pending -> attesting -> completed, pending|attesting -> failed,
// pending -> cancelled. Operations without an attestation step (deposits,
// withdrawals) may settle straight from pending to completed. Terminal
// states never re-open.
func CanTransition(from, to TransactionStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusAttesting || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusAttesting:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Transaction is one row per financial operation. For bridge operations
// FromChain and ToChain are both set and the poll fields drive the
// attestation scheduler; a process restart resumes from these columns.
type Transaction struct {
	ID             string            `json:"id" db:"id"`
	UserID         string            `json:"user_id" db:"user_id"`
	IdempotencyKey string            `json:"idempotency_key" db:"idempotency_key"`
	Type           TransactionType   `json:"type" db:"type"`
	Status         TransactionStatus `json:"status" db:"status"`
	Token          string            `json:"token" db:"token"`
	AmountUnits    int64             `json:"amount_units" db:"amount_units"`
	FeeUnits       int64             `json:"fee_units" db:"fee_units"`
	FromChain      string            `json:"from_chain" db:"from_chain"`
	ToChain        string            `json:"to_chain" db:"to_chain"`
	FromAddress    string            `json:"from_address" db:"from_address"`
	ToAddress      string            `json:"to_address" db:"to_address"`
	SourceTxHash   string            `json:"source_tx_hash" db:"source_tx_hash"`
	DestTxHash     string            `json:"dest_tx_hash" db:"dest_tx_hash"`
	FailureReason  string            `json:"failure_reason" db:"failure_reason"`
	Escalated      bool              `json:"escalated" db:"escalated"`
	NextPollAt     *time.Time        `json:"next_poll_at" db:"next_poll_at"`
	PollDeadline   *time.Time        `json:"poll_deadline" db:"poll_deadline"`
	Metadata       json.RawMessage   `json:"metadata" db:"metadata"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
	ConfirmedAt    *time.Time        `json:"confirmed_at" db:"confirmed_at"`
}

// TransactionFilter narrows ListByUser reads. Zero values mean no filter.
type TransactionFilter struct {
	Type   TransactionType
	Status TransactionStatus
	Chain  string
}
