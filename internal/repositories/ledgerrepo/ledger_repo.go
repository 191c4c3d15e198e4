package ledgerrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/custodia/cls/internal/domain"
)

// CreateParams describes a new ledger row. IdempotencyKey is supplied by
// the caller; a duplicate key returns the existing row instead of
// inserting a second one.
type CreateParams struct {
	UserID         string
	IdempotencyKey string
	Type           domain.TransactionType
	Token          string
	AmountUnits    int64
	FeeUnits       int64
	FromChain      string
	ToChain        string
	FromAddress    string
	ToAddress      string
	Metadata       json.RawMessage
}

// TransitionParams moves a transaction along the state machine. Empty
// string fields leave the stored value untouched; nil times likewise.
type TransitionParams struct {
	ID            string
	To            domain.TransactionStatus
	SourceTxHash  string
	DestTxHash    string
	FailureReason string
	NextPollAt    *time.Time
	PollDeadline  *time.Time
}

// ILedgerRepository is the transaction ledger: an append-mostly log of
// financial operations with a validated status lifecycle.
type ILedgerRepository interface {
	// Create inserts a pending row, or returns the existing row for a
	// duplicate idempotency key. The bool reports whether a row was
	// actually inserted.
	Create(ctx context.Context, params CreateParams) (*domain.Transaction, bool, error)

	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)

	// GetBySourceTxHash is the reconciliation lookup path.
	GetBySourceTxHash(ctx context.Context, txHash string) (*domain.Transaction, error)

	// Transition validates against the state machine and applies the
	// update with a compare-and-set on the current status, so two
	// concurrent callers cannot both complete the same transfer. Sets
	// confirmed_at exactly when entering completed. Returns
	// domain.ErrInvalidTransition for illegal moves or lost races.
	Transition(ctx context.Context, params TransitionParams) (*domain.Transaction, error)

	// RecordBurn stores the source-chain hash of a committed burn on an
	// attesting row. The row is claimed into attesting before the burn is
	// submitted, so the hash always lands after the fact.
	RecordBurn(ctx context.Context, id, sourceTxHash string) error

	ListByUser(ctx context.Context, userID string, filter domain.TransactionFilter, limit, offset int) ([]*domain.Transaction, int64, error)

	// ListDueForPoll returns attesting transactions whose next_poll_at is
	// at or before the given time, ordered by next_poll_at.
	ListDueForPoll(ctx context.Context, before time.Time, limit int) ([]*domain.Transaction, error)

	// UpdatePollState reschedules an attesting transaction and records
	// escalation for operator visibility.
	UpdatePollState(ctx context.Context, id string, nextPollAt time.Time, escalated bool) error
}
