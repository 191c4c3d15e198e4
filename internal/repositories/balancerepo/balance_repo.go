package balancerepo

import (
	"context"

	"github.com/custodia/cls/internal/domain"
)

// IBalanceRepository is the balance store. All mutations on the same
// (user, chain, token) row serialize; mutations on different rows do not
// block each other. Every mutation appends a BalanceLog row.
type IBalanceRepository interface {
	// GetBalance returns a zero-value balance when no row exists.
	GetBalance(ctx context.Context, userID, chainID, token string) (*domain.Balance, error)

	GetUserBalances(ctx context.Context, userID string) ([]*domain.Balance, error)

	// Lock atomically moves amountUnits from available to locked.
	// Returns domain.ErrInsufficientFunds when available < amountUnits.
	Lock(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error

	// Unlock moves amountUnits from locked back to available. A release
	// larger than the locked amount indicates an upstream bug: the
	// repository clamps locked to zero, logs the violation and does not
	// surface an error to the caller.
	Unlock(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error

	// SettleDebit removes amountUnits from locked permanently; the funds
	// have left the system. Requires a prior Lock of at least that amount.
	SettleDebit(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error

	// Credit increases available, creating the row lazily if needed.
	Credit(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error

	// TotalUnits sums available+locked across all rows of the user.
	TotalUnits(ctx context.Context, userID string) (int64, error)
}
