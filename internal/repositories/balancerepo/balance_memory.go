package balancerepo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/domain"
)

// MemoryBalanceRepository keeps balances in process memory behind a
// per-row mutex, so mutations on the same (user, chain, token) triple
// serialize while different rows proceed independently. Used by tests
// and as the injectable store for the orchestrator's unit tests.
type MemoryBalanceRepository struct {
	mapMu    sync.Mutex
	rowMu    map[string]*sync.Mutex
	balances map[string]*domain.Balance
	logs     []domain.BalanceLog
	logsMu   sync.Mutex
	logger   zerolog.Logger
}

func NewMemory(logger zerolog.Logger) *MemoryBalanceRepository {
	return &MemoryBalanceRepository{
		rowMu:    make(map[string]*sync.Mutex),
		balances: make(map[string]*domain.Balance),
		logger:   logger,
	}
}

func rowKey(userID, chainID, token string) string {
	return userID + "|" + chainID + "|" + token
}

func (r *MemoryBalanceRepository) lockRow(key string) *sync.Mutex {
	r.mapMu.Lock()
	defer r.mapMu.Unlock()

	if _, ok := r.rowMu[key]; !ok {
		r.rowMu[key] = &sync.Mutex{}
	}
	return r.rowMu[key]
}

func (r *MemoryBalanceRepository) row(userID, chainID, token string) *domain.Balance {
	key := rowKey(userID, chainID, token)
	if b, ok := r.balances[key]; ok {
		return b
	}
	b := &domain.Balance{
		ID:        uuid.New().String(),
		UserID:    userID,
		ChainID:   chainID,
		Token:     token,
		UpdatedAt: time.Now(),
	}
	r.balances[key] = b
	return b
}

func (r *MemoryBalanceRepository) GetBalance(ctx context.Context, userID, chainID, token string) (*domain.Balance, error) {
	key := rowKey(userID, chainID, token)
	mu := r.lockRow(key)
	mu.Lock()
	defer mu.Unlock()

	r.mapMu.Lock()
	b, ok := r.balances[key]
	r.mapMu.Unlock()
	if !ok {
		return &domain.Balance{UserID: userID, ChainID: chainID, Token: token}, nil
	}

	copied := *b
	return &copied, nil
}

func (r *MemoryBalanceRepository) GetUserBalances(ctx context.Context, userID string) ([]*domain.Balance, error) {
	// Collect the keys under mapMu, then copy each row under its own
	// mutex: the units fields are only safe to read while holding the
	// row lock that writers hold.
	var out []*domain.Balance
	for _, key := range r.userKeys(userID) {
		mu := r.lockRow(key)
		mu.Lock()
		r.mapMu.Lock()
		b, ok := r.balances[key]
		r.mapMu.Unlock()
		if ok {
			copied := *b
			out = append(out, &copied)
		}
		mu.Unlock()
	}
	return out, nil
}

// userKeys snapshots the row keys belonging to userID. UserID never
// changes after a row is created, so mapMu alone covers this read.
func (r *MemoryBalanceRepository) userKeys(userID string) []string {
	r.mapMu.Lock()
	defer r.mapMu.Unlock()

	var keys []string
	for key, b := range r.balances {
		if b.UserID == userID {
			keys = append(keys, key)
		}
	}
	return keys
}

func (r *MemoryBalanceRepository) Lock(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error {
	if amountUnits <= 0 {
		return fmt.Errorf("lock amount must be positive: %d", amountUnits)
	}

	key := rowKey(userID, chainID, token)
	mu := r.lockRow(key)
	mu.Lock()
	defer mu.Unlock()

	r.mapMu.Lock()
	b := r.row(userID, chainID, token)
	r.mapMu.Unlock()

	if b.AvailableUnits < amountUnits {
		return domain.ErrInsufficientFunds
	}
	b.AvailableUnits -= amountUnits
	b.LockedUnits += amountUnits
	b.UpdatedAt = time.Now()

	r.appendLog(userID, chainID, token, domain.OpLock, amountUnits, transactionID)
	return nil
}

func (r *MemoryBalanceRepository) Unlock(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error {
	if amountUnits <= 0 {
		return fmt.Errorf("unlock amount must be positive: %d", amountUnits)
	}

	key := rowKey(userID, chainID, token)
	mu := r.lockRow(key)
	mu.Lock()
	defer mu.Unlock()

	r.mapMu.Lock()
	b := r.row(userID, chainID, token)
	r.mapMu.Unlock()

	release := amountUnits
	if release > b.LockedUnits {
		r.logger.Error().
			Str("user_id", userID).
			Str("chain_id", chainID).
			Int64("amount_units", amountUnits).
			Int64("locked_units", b.LockedUnits).
			Msg("Unlock exceeds locked balance, clamping to zero")
		release = b.LockedUnits
	}
	b.LockedUnits -= release
	b.AvailableUnits += release
	b.UpdatedAt = time.Now()

	r.appendLog(userID, chainID, token, domain.OpUnlock, release, transactionID)
	return nil
}

func (r *MemoryBalanceRepository) SettleDebit(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error {
	if amountUnits <= 0 {
		return fmt.Errorf("settle amount must be positive: %d", amountUnits)
	}

	key := rowKey(userID, chainID, token)
	mu := r.lockRow(key)
	mu.Lock()
	defer mu.Unlock()

	r.mapMu.Lock()
	b := r.row(userID, chainID, token)
	r.mapMu.Unlock()

	if b.LockedUnits < amountUnits {
		return fmt.Errorf("%w: settle of %d exceeds locked %d", domain.ErrInvariantViolation, amountUnits, b.LockedUnits)
	}
	b.LockedUnits -= amountUnits
	b.UpdatedAt = time.Now()

	r.appendLog(userID, chainID, token, domain.OpSettleDebit, amountUnits, transactionID)
	return nil
}

func (r *MemoryBalanceRepository) Credit(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) error {
	if amountUnits <= 0 {
		return fmt.Errorf("credit amount must be positive: %d", amountUnits)
	}

	key := rowKey(userID, chainID, token)
	mu := r.lockRow(key)
	mu.Lock()
	defer mu.Unlock()

	r.mapMu.Lock()
	b := r.row(userID, chainID, token)
	r.mapMu.Unlock()

	b.AvailableUnits += amountUnits
	b.UpdatedAt = time.Now()

	r.appendLog(userID, chainID, token, domain.OpCredit, amountUnits, transactionID)
	return nil
}

func (r *MemoryBalanceRepository) TotalUnits(ctx context.Context, userID string) (int64, error) {
	var total int64
	for _, key := range r.userKeys(userID) {
		mu := r.lockRow(key)
		mu.Lock()
		r.mapMu.Lock()
		b, ok := r.balances[key]
		r.mapMu.Unlock()
		if ok {
			total += b.AvailableUnits + b.LockedUnits
		}
		mu.Unlock()
	}
	return total, nil
}

// Logs returns a copy of the audit trail, for tests.
func (r *MemoryBalanceRepository) Logs() []domain.BalanceLog {
	r.logsMu.Lock()
	defer r.logsMu.Unlock()

	out := make([]domain.BalanceLog, len(r.logs))
	copy(out, r.logs)
	return out
}

func (r *MemoryBalanceRepository) appendLog(userID, chainID, token string, op domain.BalanceOp, amountUnits int64, transactionID string) {
	r.logsMu.Lock()
	defer r.logsMu.Unlock()

	r.logs = append(r.logs, domain.BalanceLog{
		ID:            uuid.New().String(),
		UserID:        userID,
		ChainID:       chainID,
		Token:         token,
		Op:            op,
		AmountUnits:   amountUnits,
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	})
}
