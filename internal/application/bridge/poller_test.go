package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/domain"
	"github.com/custodia/cls/pkg/config"
)

func TestPoller_DrivesTransferToCompletion(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.fund(t, "user1", "1", 500_000000)

	tx, err := h.svc.InitiateTransfer(ctx, defaultParams())
	if err != nil {
		t.Fatalf("InitiateTransfer failed: %v", err)
	}
	h.attest.result = &domain.Attestation{Status: domain.AttestationComplete, Message: "m", Attestation: "a"}

	// Make the transfer immediately due.
	past := time.Now().Add(-time.Second)
	if err := h.ledger.UpdatePollState(ctx, tx.ID, past, false); err != nil {
		t.Fatalf("UpdatePollState failed: %v", err)
	}

	cfg := config.BridgeConfig{
		PollInterval:      10 * time.Millisecond,
		PollWindow:        30 * time.Minute,
		ConcurrentWorkers: 4,
		DispatchBatchSize: 10,
	}
	poller := NewPoller(h.svc, h.ledger, cfg, zerolog.Nop())
	go poller.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		got, err := h.ledger.GetByID(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if got.Status == domain.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("transfer never completed, status = %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	dst, _ := h.balances.GetBalance(ctx, "user1", "42161", "USDC")
	if dst.AvailableUnits != 100_000000 {
		t.Errorf("dest credited %d, want 100000000", dst.AvailableUnits)
	}
}

func TestPoller_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	cfg := config.BridgeConfig{
		PollInterval:      5 * time.Millisecond,
		PollWindow:        30 * time.Minute,
		ConcurrentWorkers: 4,
		DispatchBatchSize: 10,
	}
	poller := NewPoller(h.svc, h.ledger, cfg, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}
