package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/application/bridge"
	"github.com/custodia/cls/internal/domain"
	"github.com/custodia/cls/internal/infrastructure/cache"
	"github.com/custodia/cls/internal/infrastructure/events"
	"github.com/custodia/cls/internal/registry"
	"github.com/custodia/cls/internal/repositories/balancerepo"
	"github.com/custodia/cls/internal/repositories/ledgerrepo"
	"github.com/custodia/cls/pkg/config"
)

type stubCustody struct{}

func (stubCustody) InitiateBurn(ctx context.Context, req *domain.BurnRequest) (*domain.BurnResult, error) {
	return &domain.BurnResult{SourceTxHash: "0xburn-" + req.IdempotencyKey}, nil
}

func (stubCustody) SubmitMint(ctx context.Context, req *domain.MintRequest) (*domain.MintResult, error) {
	return &domain.MintResult{DestTxHash: "0xmint-" + req.IdempotencyKey}, nil
}

type stubAttestation struct{ status domain.AttestationStatus }

func (s stubAttestation) GetAttestation(ctx context.Context, sourceTxHash string) (*domain.Attestation, error) {
	return &domain.Attestation{Status: s.status, Message: "m", Attestation: "a"}, nil
}

type intakeHarness struct {
	intake   IIntakeService
	ledger   *ledgerrepo.MemoryLedgerRepository
	balances *balancerepo.MemoryBalanceRepository
	bridge   bridge.IBridgeService
}

func newIntakeHarness(t *testing.T, attestStatus domain.AttestationStatus) *intakeHarness {
	t.Helper()

	h := &intakeHarness{
		ledger:   ledgerrepo.NewMemory(),
		balances: balancerepo.NewMemory(zerolog.Nop()),
	}
	h.bridge = bridge.NewBridgeService(
		h.ledger,
		h.balances,
		registry.New(nil),
		stubCustody{},
		stubAttestation{status: attestStatus},
		events.NopPublisher{},
		nil,
		config.BridgeConfig{PollInterval: 5 * time.Second, PollWindow: 30 * time.Minute},
		zerolog.Nop(),
	)
	h.intake = NewIntakeService(h.ledger, h.balances, h.bridge, cache.NewMemoryDedupeStore(), zerolog.Nop())
	return h
}

// startTransfer funds the user and runs a transfer up to attesting.
func (h *intakeHarness) startTransfer(t *testing.T) *domain.Transaction {
	t.Helper()

	if err := h.balances.Credit(context.Background(), "user1", "1", "USDC", 500_000000, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	tx, err := h.bridge.InitiateTransfer(context.Background(), bridge.InitiateParams{
		UserID:         "user1",
		IdempotencyKey: "key-1",
		SourceChain:    "1",
		DestChain:      "42161",
		Token:          "USDC",
		AmountUnits:    100_000000,
		DestAddress:    "0xdest",
	})
	if err != nil {
		t.Fatalf("InitiateTransfer failed: %v", err)
	}
	return tx
}

func TestApply_CompletedEvent(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)
	ctx := context.Background()
	tx := h.startTransfer(t)

	err := h.intake.Apply(ctx, &domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     domain.EventTransferCompleted,
		TransactionID: tx.ID,
		DestTxHash:    "0xmint",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, _ := h.ledger.GetByID(ctx, tx.ID)
	if got.Status != domain.StatusCompleted || got.DestTxHash != "0xmint" {
		t.Errorf("row after completion event: %+v", got)
	}

	dst, _ := h.balances.GetBalance(ctx, "user1", "42161", "USDC")
	if dst.AvailableUnits != 100_000000 {
		t.Errorf("dest credited %d, want 100000000", dst.AvailableUnits)
	}
}

func TestApply_DuplicateDeliveryCreditsOnce(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)
	ctx := context.Background()
	tx := h.startTransfer(t)

	event := &domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     domain.EventTransferCompleted,
		TransactionID: tx.ID,
		DestTxHash:    "0xmint",
	}
	for i := 0; i < 3; i++ {
		if err := h.intake.Apply(ctx, event); err != nil {
			t.Fatalf("Apply #%d failed: %v", i, err)
		}
	}

	dst, _ := h.balances.GetBalance(ctx, "user1", "42161", "USDC")
	if dst.AvailableUnits != 100_000000 {
		t.Errorf("dest credited %d after duplicate deliveries, want exactly 100000000", dst.AvailableUnits)
	}
}

// A redelivery with a fresh delivery id still settles only once because
// the status transition is the real idempotency barrier.
func TestApply_RedeliveryWithNewIDStillIdempotent(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)
	ctx := context.Background()
	tx := h.startTransfer(t)

	for i, deliveryID := range []string{"d-1", "d-2"} {
		err := h.intake.Apply(ctx, &domain.ExternalEvent{
			DeliveryID:    deliveryID,
			EventType:     domain.EventTransferCompleted,
			TransactionID: tx.ID,
			DestTxHash:    "0xmint",
		})
		if err != nil {
			t.Fatalf("Apply #%d failed: %v", i, err)
		}
	}

	dst, _ := h.balances.GetBalance(ctx, "user1", "42161", "USDC")
	if dst.AvailableUnits != 100_000000 {
		t.Errorf("dest credited %d, want exactly 100000000", dst.AvailableUnits)
	}
}

func TestApply_UnknownTransactionDropped(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)

	err := h.intake.Apply(context.Background(), &domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     domain.EventTransferCompleted,
		TransactionID: "no-such-transfer",
	})
	if err != nil {
		t.Fatalf("event for unknown transaction should be dropped, got %v", err)
	}
}

func TestApply_LookupBySourceTxHash(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)
	ctx := context.Background()
	tx := h.startTransfer(t)

	fresh, _ := h.ledger.GetByID(ctx, tx.ID)
	err := h.intake.Apply(ctx, &domain.ExternalEvent{
		DeliveryID: "d-1",
		EventType:  domain.EventTransferCompleted,
		TxHash:     fresh.SourceTxHash,
		DestTxHash: "0xmint",
	})
	if err != nil {
		t.Fatalf("Apply by tx hash failed: %v", err)
	}

	got, _ := h.ledger.GetByID(ctx, tx.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestApply_FailureEventForBurnedTransferIgnored(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)
	ctx := context.Background()
	tx := h.startTransfer(t)

	err := h.intake.Apply(ctx, &domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     domain.EventTransferFailed,
		TransactionID: tx.ID,
		Reason:        "provider says failed",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Burned funds are never auto-unwound on a failure report.
	got, _ := h.ledger.GetByID(ctx, tx.ID)
	if got.Status != domain.StatusAttesting {
		t.Errorf("status = %s, want attesting", got.Status)
	}
	b, _ := h.balances.GetBalance(ctx, "user1", "1", "USDC")
	if b.LockedUnits != 100_000000 {
		t.Errorf("locked = %d, want 100000000", b.LockedUnits)
	}
}

func TestApply_AttestedEventPullsPollForward(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationComplete)
	ctx := context.Background()
	tx := h.startTransfer(t)

	err := h.intake.Apply(ctx, &domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     domain.EventTransferAttested,
		TransactionID: tx.ID,
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, _ := h.ledger.GetByID(ctx, tx.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed (attested event should mint immediately)", got.Status)
	}
}

func TestApply_TerminalTransactionDropped(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)
	ctx := context.Background()
	tx := h.startTransfer(t)

	if err := h.bridge.Complete(ctx, tx.ID, "0xmint"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	err := h.intake.Apply(ctx, &domain.ExternalEvent{
		DeliveryID:    "d-2",
		EventType:     domain.EventTransferFailed,
		TransactionID: tx.ID,
		Reason:        "late failure report",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, _ := h.ledger.GetByID(ctx, tx.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("terminal status mutated by late event: %s", got.Status)
	}
}

func TestApply_DepositConfirmation(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)
	ctx := context.Background()

	deposit, _, err := h.ledger.Create(ctx, ledgerrepo.CreateParams{
		UserID:         "user1",
		IdempotencyKey: "dep-1",
		Type:           domain.TypeDeposit,
		Token:          "USDC",
		AmountUnits:    25_000000,
		ToChain:        "1",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err = h.intake.Apply(ctx, &domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     domain.EventTransactionConfirmed,
		TransactionID: deposit.ID,
		Status:        "confirmed",
		TxHash:        "0xdeposit",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, _ := h.ledger.GetByID(ctx, deposit.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.SourceTxHash != "0xdeposit" {
		t.Errorf("source tx hash = %q, want 0xdeposit", got.SourceTxHash)
	}
	if got.ConfirmedAt == nil {
		t.Error("confirmed_at not set")
	}

	// A confirmed deposit lands in the available balance.
	b, _ := h.balances.GetBalance(ctx, "user1", "1", "USDC")
	if b.AvailableUnits != 25_000000 || b.LockedUnits != 0 {
		t.Errorf("balance = %d/%d after confirmed deposit, want 25000000/0", b.AvailableUnits, b.LockedUnits)
	}

	// A duplicate confirmation loses the transition and credits nothing.
	err = h.intake.Apply(ctx, &domain.ExternalEvent{
		DeliveryID:    "d-2",
		EventType:     domain.EventTransactionConfirmed,
		TransactionID: deposit.ID,
		Status:        "confirmed",
		TxHash:        "0xdeposit",
	})
	if err != nil {
		t.Fatalf("duplicate confirmation errored: %v", err)
	}
	b, _ = h.balances.GetBalance(ctx, "user1", "1", "USDC")
	if b.AvailableUnits != 25_000000 {
		t.Errorf("duplicate confirmation moved funds: available = %d", b.AvailableUnits)
	}
}

func TestApply_WithdrawalConfirmation(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)
	ctx := context.Background()

	if err := h.balances.Credit(ctx, "user1", "1", "USDC", 100_000000, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	withdrawal, _, err := h.ledger.Create(ctx, ledgerrepo.CreateParams{
		UserID:         "user1",
		IdempotencyKey: "wd-1",
		Type:           domain.TypeWithdrawal,
		Token:          "USDC",
		AmountUnits:    40_000000,
		FromChain:      "1",
		ToAddress:      "0xout",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := h.balances.Lock(ctx, "user1", "1", "USDC", 40_000000, withdrawal.ID); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	err = h.intake.Apply(ctx, &domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     domain.EventTransactionConfirmed,
		TransactionID: withdrawal.ID,
		Status:        "confirmed",
		TxHash:        "0xwithdraw",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, _ := h.ledger.GetByID(ctx, withdrawal.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	// The reserved units leave the ledger for good: settled, not
	// released back to available.
	b, _ := h.balances.GetBalance(ctx, "user1", "1", "USDC")
	if b.AvailableUnits != 60_000000 || b.LockedUnits != 0 {
		t.Errorf("balance = %d/%d after confirmed withdrawal, want 60000000/0", b.AvailableUnits, b.LockedUnits)
	}
}

// A delivery that fails to apply must stay retryable: the provider
// redelivers with the same id, and that retry has to get through.
func TestApply_RetryAfterFailedApply(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)
	ctx := context.Background()

	deposit, _, err := h.ledger.Create(ctx, ledgerrepo.CreateParams{
		UserID:         "user1",
		IdempotencyKey: "dep-1",
		Type:           domain.TypeDeposit,
		Token:          "USDC",
		AmountUnits:    25_000000,
		ToChain:        "1",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// First attempt fails downstream of the dedupe check.
	err = h.intake.Apply(ctx, &domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     domain.EventTransactionConfirmed,
		TransactionID: deposit.ID,
		Status:        "garbled",
	})
	if err == nil {
		t.Fatal("Apply with unknown confirmation status should error")
	}

	// The provider retries the same delivery id with a good payload.
	err = h.intake.Apply(ctx, &domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     domain.EventTransactionConfirmed,
		TransactionID: deposit.ID,
		Status:        "confirmed",
		TxHash:        "0xdeposit",
	})
	if err != nil {
		t.Fatalf("retried Apply failed: %v", err)
	}

	got, _ := h.ledger.GetByID(ctx, deposit.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed (retry was dropped as a duplicate)", got.Status)
	}
	b, _ := h.balances.GetBalance(ctx, "user1", "1", "USDC")
	if b.AvailableUnits != 25_000000 {
		t.Errorf("available = %d after retried confirmation, want 25000000", b.AvailableUnits)
	}
}

func TestApply_UnknownEventTypeDropped(t *testing.T) {
	h := newIntakeHarness(t, domain.AttestationPending)
	tx := h.startTransfer(t)

	err := h.intake.Apply(context.Background(), &domain.ExternalEvent{
		DeliveryID:    "d-1",
		EventType:     "something.new",
		TransactionID: tx.ID,
	})
	if err != nil {
		t.Fatalf("unknown event type should be dropped, got %v", err)
	}
}
