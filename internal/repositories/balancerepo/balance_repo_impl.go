package balancerepo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/domain"
)

// BalanceRepository is the postgres balance store. Each mutation is a
// single conditional UPDATE so the row lock taken by postgres serializes
// concurrent callers on the same (user, chain, token) row.
type BalanceRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func New(db *sql.DB, logger zerolog.Logger) IBalanceRepository {
	return &BalanceRepository{
		db:     db,
		logger: logger,
	}
}

func (r *BalanceRepository) GetBalance(ctx context.Context, userID, chainID, token string) (*domain.Balance, error) {
	const query = `
		SELECT id, user_id, chain_id, token, available_units, locked_units, updated_at
		FROM balances
		WHERE user_id = $1 AND chain_id = $2 AND token = $3`

	balance := &domain.Balance{}
	err := r.db.QueryRowContext(ctx, query, userID, chainID, token).Scan(
		&balance.ID,
		&balance.UserID,
		&balance.ChainID,
		&balance.Token,
		&balance.AvailableUnits,
		&balance.LockedUnits,
		&balance.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return &domain.Balance{
			UserID:  userID,
			ChainID: chainID,
			Token:   token,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

func (r *BalanceRepository) GetUserBalances(ctx context.Context, userID string) ([]*domain.Balance, error) {
	const query = `
		SELECT id, user_id, chain_id, token, available_units, locked_units, updated_at
		FROM balances
		WHERE user_id = $1
		ORDER BY chain_id, token`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []*domain.Balance
	for rows.Next() {
		b := &domain.Balance{}
		if err := rows.Scan(&b.ID, &b.UserID, &b.ChainID, &b.Token, &b.AvailableUnits, &b.LockedUnits, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}

	return balances, rows.Err()
}

func (r *BalanceRepository) Lock(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error {
	if amountUnits <= 0 {
		return fmt.Errorf("lock amount must be positive: %d", amountUnits)
	}

	const query = `
		UPDATE balances
		SET available_units = available_units - $4,
		    locked_units = locked_units + $4,
		    updated_at = now()
		WHERE user_id = $1 AND chain_id = $2 AND token = $3
		  AND available_units >= $4`

	res, err := r.db.ExecContext(ctx, query, userID, chainID, token, amountUnits)
	if err != nil {
		return fmt.Errorf("failed to lock balance: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to lock balance: %w", err)
	}
	if affected == 0 {
		return domain.ErrInsufficientFunds
	}

	r.logChange(ctx, userID, chainID, token, domain.OpLock, amountUnits, transactionID, "funds reserved")
	return nil
}

func (r *BalanceRepository) Unlock(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error {
	if amountUnits <= 0 {
		return fmt.Errorf("unlock amount must be positive: %d", amountUnits)
	}

	// One statement moves at most the currently locked units, so a
	// concurrent Lock landing around this release never has its fresh
	// reservation swept into available. RETURNING the pre-update locked
	// balance lets us alert on an overshooting release.
	const query = `
		UPDATE balances
		SET available_units = balances.available_units + LEAST(balances.locked_units, $4),
		    locked_units = GREATEST(balances.locked_units - $4, 0),
		    updated_at = now()
		FROM (
			SELECT id, locked_units AS prev_locked
			FROM balances
			WHERE user_id = $1 AND chain_id = $2 AND token = $3
			FOR UPDATE
		) prev
		WHERE balances.id = prev.id
		RETURNING prev.prev_locked`

	var prevLocked int64
	err := r.db.QueryRowContext(ctx, query, userID, chainID, token, amountUnits).Scan(&prevLocked)
	if err == sql.ErrNoRows {
		r.logger.Error().
			Str("user_id", userID).
			Str("chain_id", chainID).
			Str("token", token).
			Int64("amount_units", amountUnits).
			Str("transaction_id", transactionID).
			Msg("Unlock against missing balance row")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to unlock balance: %w", err)
	}

	release := amountUnits
	if prevLocked < amountUnits {
		// Releasing more than is locked means an upstream accounting bug.
		// The statement already clamped; alert so it gets investigated.
		r.logger.Error().
			Str("user_id", userID).
			Str("chain_id", chainID).
			Str("token", token).
			Int64("amount_units", amountUnits).
			Int64("locked_units", prevLocked).
			Str("transaction_id", transactionID).
			Msg("Unlock exceeds locked balance, clamping to zero")
		release = prevLocked
	}

	r.logChange(ctx, userID, chainID, token, domain.OpUnlock, release, transactionID, "reservation released")
	return nil
}

func (r *BalanceRepository) SettleDebit(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error {
	if amountUnits <= 0 {
		return fmt.Errorf("settle amount must be positive: %d", amountUnits)
	}

	const query = `
		UPDATE balances
		SET locked_units = locked_units - $4,
		    updated_at = now()
		WHERE user_id = $1 AND chain_id = $2 AND token = $3
		  AND locked_units >= $4`

	res, err := r.db.ExecContext(ctx, query, userID, chainID, token, amountUnits)
	if err != nil {
		return fmt.Errorf("failed to settle debit: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to settle debit: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: settle of %d exceeds locked balance for user %s chain %s",
			domain.ErrInvariantViolation, amountUnits, userID, chainID)
	}

	r.logChange(ctx, userID, chainID, token, domain.OpSettleDebit, amountUnits, transactionID, "locked funds settled")
	return nil
}

func (r *BalanceRepository) Credit(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error {
	if amountUnits <= 0 {
		return fmt.Errorf("credit amount must be positive: %d", amountUnits)
	}

	const query = `
		INSERT INTO balances (id, user_id, chain_id, token, available_units, locked_units, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, now())
		ON CONFLICT (user_id, chain_id, token)
		DO UPDATE SET
			available_units = balances.available_units + EXCLUDED.available_units,
			updated_at = now()`

	_, err := r.db.ExecContext(ctx, query, uuid.New().String(), userID, chainID, token, amountUnits)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	r.logChange(ctx, userID, chainID, token, domain.OpCredit, amountUnits, transactionID, "funds credited")
	return nil
}

func (r *BalanceRepository) TotalUnits(ctx context.Context, userID string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(available_units + locked_units), 0)
		FROM balances
		WHERE user_id = $1`

	var total int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum balances: %w", err)
	}

	return total, nil
}

func (r *BalanceRepository) logChange(ctx context.Context, userID, chainID, token string, op domain.BalanceOp, amountUnits int64, transactionID, description string) {
	const query = `
		INSERT INTO balance_logs (id, user_id, chain_id, token, op, amount_units, transaction_id, description, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(), userID, chainID, token, string(op), amountUnits, transactionID, description, time.Now())
	if err != nil {
		r.logger.Error().Err(err).
			Str("user_id", userID).
			Str("op", string(op)).
			Msg("Failed to write balance log")
	}
}
