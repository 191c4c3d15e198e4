package ledgerrepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia/cls/internal/domain"
)

func createBridgeTx(t *testing.T, repo *MemoryLedgerRepository, key string) *domain.Transaction {
	t.Helper()
	tx, created, err := repo.Create(context.Background(), CreateParams{
		UserID:         "user1",
		IdempotencyKey: key,
		Type:           domain.TypeBridge,
		Token:          "USDC",
		AmountUnits:    100_000000,
		FromChain:      "1",
		ToChain:        "42161",
		ToAddress:      "0xdest",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !created {
		t.Fatalf("Create reported existing row for fresh key %q", key)
	}
	return tx
}

func TestCreate_IdempotencyKeyReturnsExisting(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	first := createBridgeTx(t, repo, "key-1")

	second, created, err := repo.Create(ctx, CreateParams{
		UserID:         "user1",
		IdempotencyKey: "key-1",
		Type:           domain.TypeBridge,
		Token:          "USDC",
		AmountUnits:    100_000000,
		FromChain:      "1",
		ToChain:        "42161",
	})
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if created {
		t.Error("second Create with the same key reported a new row")
	}
	if second.ID != first.ID {
		t.Errorf("second Create returned id %s, want existing %s", second.ID, first.ID)
	}
}

func TestTransition_HappyPath(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	tx := createBridgeTx(t, repo, "key-1")

	nextPoll := time.Now().Add(5 * time.Second)
	deadline := time.Now().Add(30 * time.Minute)

	attesting, err := repo.Transition(ctx, TransitionParams{
		ID:           tx.ID,
		To:           domain.StatusAttesting,
		SourceTxHash: "0xburn",
		NextPollAt:   &nextPoll,
		PollDeadline: &deadline,
	})
	if err != nil {
		t.Fatalf("Transition to attesting failed: %v", err)
	}
	if attesting.Status != domain.StatusAttesting || attesting.SourceTxHash != "0xburn" {
		t.Errorf("unexpected attesting row: %+v", attesting)
	}
	if attesting.NextPollAt == nil || attesting.PollDeadline == nil {
		t.Error("poll schedule not persisted on attesting transition")
	}

	completed, err := repo.Transition(ctx, TransitionParams{
		ID:         tx.ID,
		To:         domain.StatusCompleted,
		DestTxHash: "0xmint",
	})
	if err != nil {
		t.Fatalf("Transition to completed failed: %v", err)
	}
	if completed.DestTxHash != "0xmint" {
		t.Errorf("dest tx hash = %q, want 0xmint", completed.DestTxHash)
	}
	if completed.ConfirmedAt == nil {
		t.Error("confirmed_at not set on completion")
	}
	if completed.NextPollAt != nil {
		t.Error("next_poll_at not cleared on terminal transition")
	}
	// Source hash survives later transitions.
	if completed.SourceTxHash != "0xburn" {
		t.Errorf("source tx hash lost: %q", completed.SourceTxHash)
	}
}

func TestTransition_IllegalMoves(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	tx := createBridgeTx(t, repo, "key-1")

	if _, err := repo.Transition(ctx, TransitionParams{ID: tx.ID, To: domain.StatusCompleted}); err != nil {
		t.Fatalf("pending -> completed should be allowed for non-attesting settles: %v", err)
	}

	// Terminal rows never re-open.
	for _, to := range []domain.TransactionStatus{
		domain.StatusPending, domain.StatusAttesting, domain.StatusFailed, domain.StatusCancelled,
	} {
		_, err := repo.Transition(ctx, TransitionParams{ID: tx.ID, To: to})
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("completed -> %s error = %v, want ErrInvalidTransition", to, err)
		}
	}
}

func TestTransition_AttestingCannotCancel(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	tx := createBridgeTx(t, repo, "key-1")

	if _, err := repo.Transition(ctx, TransitionParams{ID: tx.ID, To: domain.StatusAttesting}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	_, err := repo.Transition(ctx, TransitionParams{ID: tx.ID, To: domain.StatusCancelled})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("attesting -> cancelled error = %v, want ErrInvalidTransition", err)
	}
}

func TestTransition_NotFound(t *testing.T) {
	repo := NewMemory()

	_, err := repo.Transition(context.Background(), TransitionParams{ID: "missing", To: domain.StatusFailed})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetBySourceTxHash(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	tx := createBridgeTx(t, repo, "key-1")

	if _, err := repo.GetBySourceTxHash(ctx, "0xburn"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("lookup before burn recorded = %v, want ErrNotFound", err)
	}

	repo.Transition(ctx, TransitionParams{ID: tx.ID, To: domain.StatusAttesting, SourceTxHash: "0xburn"})

	got, err := repo.GetBySourceTxHash(ctx, "0xburn")
	if err != nil {
		t.Fatalf("GetBySourceTxHash failed: %v", err)
	}
	if got.ID != tx.ID {
		t.Errorf("got id %s, want %s", got.ID, tx.ID)
	}
}

func TestListDueForPoll(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := createBridgeTx(t, repo, "due")
	repo.Transition(ctx, TransitionParams{ID: due.ID, To: domain.StatusAttesting, NextPollAt: &past})

	notYet := createBridgeTx(t, repo, "not-yet")
	repo.Transition(ctx, TransitionParams{ID: notYet.ID, To: domain.StatusAttesting, NextPollAt: &future})

	// Pending rows are never due, whatever their schedule looks like.
	createBridgeTx(t, repo, "still-pending")

	got, err := repo.ListDueForPoll(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListDueForPoll failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("got %d due rows, want exactly the overdue transfer", len(got))
	}
}

func TestUpdatePollState(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	tx := createBridgeTx(t, repo, "key-1")
	repo.Transition(ctx, TransitionParams{ID: tx.ID, To: domain.StatusAttesting})

	next := time.Now().Add(time.Minute)
	if err := repo.UpdatePollState(ctx, tx.ID, next, true); err != nil {
		t.Fatalf("UpdatePollState failed: %v", err)
	}

	got, _ := repo.GetByID(ctx, tx.ID)
	if !got.Escalated {
		t.Error("escalated flag not persisted")
	}
	if got.NextPollAt == nil || !got.NextPollAt.Equal(next) {
		t.Errorf("next_poll_at = %v, want %v", got.NextPollAt, next)
	}
	// Escalation never changes the status.
	if got.Status != domain.StatusAttesting {
		t.Errorf("status = %s, want attesting", got.Status)
	}
}

func TestListByUser_Filters(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	bridgeTx := createBridgeTx(t, repo, "bridge-1")
	repo.Create(ctx, CreateParams{
		UserID:         "user1",
		IdempotencyKey: "deposit-1",
		Type:           domain.TypeDeposit,
		Token:          "USDC",
		AmountUnits:    50_000000,
		ToChain:        "137",
	})
	repo.Create(ctx, CreateParams{
		UserID:         "user2",
		IdempotencyKey: "other-user",
		Type:           domain.TypeBridge,
		Token:          "USDC",
		AmountUnits:    10_000000,
		FromChain:      "1",
		ToChain:        "10",
	})

	txs, total, err := repo.ListByUser(ctx, "user1", domain.TransactionFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if total != 2 || len(txs) != 2 {
		t.Errorf("got %d/%d rows, want 2/2", len(txs), total)
	}

	txs, total, err = repo.ListByUser(ctx, "user1", domain.TransactionFilter{Type: domain.TypeBridge}, 10, 0)
	if err != nil {
		t.Fatalf("ListByUser with type filter failed: %v", err)
	}
	if total != 1 || txs[0].ID != bridgeTx.ID {
		t.Errorf("type filter returned %d rows", total)
	}

	_, total, err = repo.ListByUser(ctx, "user1", domain.TransactionFilter{Chain: "42161"}, 10, 0)
	if err != nil {
		t.Fatalf("ListByUser with chain filter failed: %v", err)
	}
	if total != 1 {
		t.Errorf("chain filter returned %d rows, want 1", total)
	}
}
