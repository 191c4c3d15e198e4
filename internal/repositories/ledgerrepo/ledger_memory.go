package ledgerrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia/cls/internal/domain"
)

// MemoryLedgerRepository is an in-memory ledger with the same CAS
// semantics as the postgres implementation. Used in tests.
type MemoryLedgerRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.Transaction
	byIdem map[string]string
}

func NewMemory() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{
		byID:   make(map[string]*domain.Transaction),
		byIdem: make(map[string]string),
	}
}

func (r *MemoryLedgerRepository) Create(ctx context.Context, params CreateParams) (*domain.Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byIdem[params.IdempotencyKey]; ok {
		copied := *r.byID[id]
		return &copied, false, nil
	}

	now := time.Now()
	tx := &domain.Transaction{
		ID:             uuid.New().String(),
		UserID:         params.UserID,
		IdempotencyKey: params.IdempotencyKey,
		Type:           params.Type,
		Status:         domain.StatusPending,
		Token:          params.Token,
		AmountUnits:    params.AmountUnits,
		FeeUnits:       params.FeeUnits,
		FromChain:      params.FromChain,
		ToChain:        params.ToChain,
		FromAddress:    params.FromAddress,
		ToAddress:      params.ToAddress,
		Metadata:       params.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.byID[tx.ID] = tx
	r.byIdem[tx.IdempotencyKey] = tx.ID

	copied := *tx
	return &copied, true, nil
}

func (r *MemoryLedgerRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *tx
	return &copied, nil
}

func (r *MemoryLedgerRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byIdem[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *r.byID[id]
	return &copied, nil
}

func (r *MemoryLedgerRepository) GetBySourceTxHash(ctx context.Context, txHash string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tx := range r.byID {
		if tx.SourceTxHash == txHash && txHash != "" {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryLedgerRepository) Transition(ctx context.Context, params TransitionParams) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.byID[params.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	if !domain.CanTransition(tx.Status, params.To) {
		return nil, fmt.Errorf("%w: %s -> %s for transaction %s",
			domain.ErrInvalidTransition, tx.Status, params.To, params.ID)
	}

	now := time.Now()
	tx.Status = params.To
	if params.SourceTxHash != "" {
		tx.SourceTxHash = params.SourceTxHash
	}
	if params.DestTxHash != "" {
		tx.DestTxHash = params.DestTxHash
	}
	if params.FailureReason != "" {
		tx.FailureReason = params.FailureReason
	}
	if params.To.Terminal() {
		tx.NextPollAt = nil
	} else if params.NextPollAt != nil {
		tx.NextPollAt = params.NextPollAt
	}
	if params.PollDeadline != nil {
		tx.PollDeadline = params.PollDeadline
	}
	if params.To == domain.StatusCompleted && tx.ConfirmedAt == nil {
		tx.ConfirmedAt = &now
	}
	tx.UpdatedAt = now

	copied := *tx
	return &copied, nil
}

func (r *MemoryLedgerRepository) RecordBurn(ctx context.Context, id, sourceTxHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if tx.Status != domain.StatusAttesting {
		return fmt.Errorf("%w: transaction %s is not attesting", domain.ErrInvalidTransition, id)
	}
	tx.SourceTxHash = sourceTxHash
	tx.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryLedgerRepository) ListByUser(ctx context.Context, userID string, filter domain.TransactionFilter, limit, offset int) ([]*domain.Transaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*domain.Transaction
	for _, tx := range r.byID {
		if tx.UserID != userID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.Chain != "" && tx.FromChain != filter.Chain && tx.ToChain != filter.Chain {
			continue
		}
		copied := *tx
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *MemoryLedgerRepository) ListDueForPoll(ctx context.Context, before time.Time, limit int) ([]*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*domain.Transaction
	for _, tx := range r.byID {
		if tx.Status != domain.StatusAttesting || tx.NextPollAt == nil {
			continue
		}
		if tx.NextPollAt.After(before) {
			continue
		}
		copied := *tx
		due = append(due, &copied)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextPollAt.Before(*due[j].NextPollAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *MemoryLedgerRepository) UpdatePollState(ctx context.Context, id string, nextPollAt time.Time, escalated bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if tx.Status != domain.StatusAttesting {
		return nil
	}
	t := nextPollAt
	tx.NextPollAt = &t
	tx.Escalated = escalated
	tx.UpdatedAt = time.Now()
	return nil
}
