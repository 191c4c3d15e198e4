package ledgerrepo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/domain"
)

const txColumns = `id, user_id, idempotency_key, type, status, token, amount_units, fee_units,
	from_chain, to_chain, from_address, to_address, source_tx_hash, dest_tx_hash,
	failure_reason, escalated, next_poll_at, poll_deadline, metadata, created_at, updated_at, confirmed_at`

type ledgerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func New(db *sql.DB, logger zerolog.Logger) ILedgerRepository {
	return &ledgerRepository{
		db:     db,
		logger: logger,
	}
}

func (r *ledgerRepository) Create(ctx context.Context, params CreateParams) (*domain.Transaction, bool, error) {
	const query = `
		INSERT INTO transactions (
			id, user_id, idempotency_key, type, status, token, amount_units, fee_units,
			from_chain, to_chain, from_address, to_address, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())`

	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx, query,
		id, params.UserID, params.IdempotencyKey, string(params.Type), string(domain.StatusPending),
		params.Token, params.AmountUnits, params.FeeUnits,
		params.FromChain, params.ToChain, params.FromAddress, params.ToAddress,
		nullRawMessage(params.Metadata),
	)
	if err != nil {
		// Duplicate idempotency key: return the existing row, do not
		// create a second transfer for a retried request.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			existing, gerr := r.GetByIdempotencyKey(ctx, params.IdempotencyKey)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create transaction: %w", err)
	}

	tx, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return tx, true, nil
}

func (r *ledgerRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, txColumns)
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *ledgerRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE idempotency_key = $1`, txColumns)
	return r.scanOne(r.db.QueryRowContext(ctx, query, key))
}

func (r *ledgerRepository) GetBySourceTxHash(ctx context.Context, txHash string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE source_tx_hash = $1`, txColumns)
	return r.scanOne(r.db.QueryRowContext(ctx, query, txHash))
}

func (r *ledgerRepository) Transition(ctx context.Context, params TransitionParams) (*domain.Transaction, error) {
	current, err := r.GetByID(ctx, params.ID)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(current.Status, params.To) {
		return nil, fmt.Errorf("%w: %s -> %s for transaction %s",
			domain.ErrInvalidTransition, current.Status, params.To, params.ID)
	}

	// Compare-and-set on the status read above: a concurrent poll tick or
	// webhook that already moved the row makes this a zero-row update.
	query := fmt.Sprintf(`
		UPDATE transactions
		SET status = $2,
		    source_tx_hash = COALESCE(NULLIF($3, ''), source_tx_hash),
		    dest_tx_hash = COALESCE(NULLIF($4, ''), dest_tx_hash),
		    failure_reason = COALESCE(NULLIF($5, ''), failure_reason),
		    next_poll_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN NULL
		                        ELSE COALESCE($6, next_poll_at) END,
		    poll_deadline = COALESCE($7, poll_deadline),
		    confirmed_at = CASE WHEN $2 = 'completed' THEN now() ELSE confirmed_at END,
		    updated_at = now()
		WHERE id = $1 AND status = $8
		RETURNING %s`, txColumns)

	tx, err := r.scanOne(r.db.QueryRowContext(ctx, query,
		params.ID, string(params.To), params.SourceTxHash, params.DestTxHash,
		params.FailureReason, nullTime(params.NextPollAt), nullTime(params.PollDeadline),
		string(current.Status),
	))
	if err == domain.ErrNotFound {
		return nil, fmt.Errorf("%w: transaction %s moved concurrently from %s",
			domain.ErrInvalidTransition, params.ID, current.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition transaction: %w", err)
	}

	return tx, nil
}

func (r *ledgerRepository) RecordBurn(ctx context.Context, id, sourceTxHash string) error {
	const query = `
		UPDATE transactions
		SET source_tx_hash = $2, updated_at = now()
		WHERE id = $1 AND status = 'attesting'`

	res, err := r.db.ExecContext(ctx, query, id, sourceTxHash)
	if err != nil {
		return fmt.Errorf("failed to record burn: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record burn: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: transaction %s is not attesting", domain.ErrInvalidTransition, id)
	}
	return nil
}

func (r *ledgerRepository) ListByUser(ctx context.Context, userID string, filter domain.TransactionFilter, limit, offset int) ([]*domain.Transaction, int64, error) {
	where := "user_id = $1"
	args := []interface{}{userID}
	idx := 2

	if filter.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", idx)
		args = append(args, string(filter.Type))
		idx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(filter.Status))
		idx++
	}
	if filter.Chain != "" {
		where += fmt.Sprintf(" AND (from_chain = $%d OR to_chain = $%d)", idx, idx)
		args = append(args, filter.Chain)
		idx++
	}

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM transactions WHERE %s`, where)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		txColumns, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, tx)
	}

	return txs, total, rows.Err()
}

func (r *ledgerRepository) ListDueForPoll(ctx context.Context, before time.Time, limit int) ([]*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE status = 'attesting' AND next_poll_at IS NOT NULL AND next_poll_at <= $1
		ORDER BY next_poll_at
		LIMIT $2`, txColumns)

	rows, err := r.db.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

func (r *ledgerRepository) UpdatePollState(ctx context.Context, id string, nextPollAt time.Time, escalated bool) error {
	const query = `
		UPDATE transactions
		SET next_poll_at = $2, escalated = $3, updated_at = now()
		WHERE id = $1 AND status = 'attesting'`

	_, err := r.db.ExecContext(ctx, query, id, nextPollAt, escalated)
	if err != nil {
		return fmt.Errorf("failed to update poll state: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *ledgerRepository) scanOne(row *sql.Row) (*domain.Transaction, error) {
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (r *ledgerRepository) scanRow(rows *sql.Rows) (*domain.Transaction, error) {
	tx, err := scanTransaction(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return tx, nil
}

func scanTransaction(s rowScanner) (*domain.Transaction, error) {
	tx := &domain.Transaction{}
	var (
		fromChain, toChain, fromAddr, toAddr    sql.NullString
		sourceTxHash, destTxHash, failureReason sql.NullString
		nextPollAt, pollDeadline, confirmedAt   sql.NullTime
		metadata                                []byte
	)

	err := s.Scan(
		&tx.ID, &tx.UserID, &tx.IdempotencyKey, &tx.Type, &tx.Status, &tx.Token,
		&tx.AmountUnits, &tx.FeeUnits,
		&fromChain, &toChain, &fromAddr, &toAddr, &sourceTxHash, &destTxHash,
		&failureReason, &tx.Escalated, &nextPollAt, &pollDeadline, &metadata,
		&tx.CreatedAt, &tx.UpdatedAt, &confirmedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.FromChain = fromChain.String
	tx.ToChain = toChain.String
	tx.FromAddress = fromAddr.String
	tx.ToAddress = toAddr.String
	tx.SourceTxHash = sourceTxHash.String
	tx.DestTxHash = destTxHash.String
	tx.FailureReason = failureReason.String
	tx.Metadata = metadata
	if nextPollAt.Valid {
		tx.NextPollAt = &nextPollAt.Time
	}
	if pollDeadline.Valid {
		tx.PollDeadline = &pollDeadline.Time
	}
	if confirmedAt.Valid {
		tx.ConfirmedAt = &confirmedAt.Time
	}

	return tx, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullRawMessage(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
