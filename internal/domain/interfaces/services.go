package interfaces

import (
	"context"

	"github.com/custodia/cls/internal/domain"
)

// CustodyClient talks to the external wallet-custody provider that
// executes burns on the source chain and mints on the destination chain.
type CustodyClient interface {
	// InitiateBurn burns tokens on the source chain. Safe to retry with
	// the same idempotency key after an unknown outcome.
	InitiateBurn(ctx context.Context, req *domain.BurnRequest) (*domain.BurnResult, error)

	// SubmitMint submits an attested mint on the destination chain.
	SubmitMint(ctx context.Context, req *domain.MintRequest) (*domain.MintResult, error)
}

// AttestationClient queries the attestation service for proof that a
// source-chain burn was observed.
type AttestationClient interface {
	GetAttestation(ctx context.Context, sourceTxHash string) (*domain.Attestation, error)
}

// EventsPublisher emits transfer lifecycle events for downstream
// consumers. Publishing is best-effort; failures are logged, never
// allowed to block a ledger transition.
type EventsPublisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
	Close() error
}

// TransferNotifier pushes transfer and balance updates to connected
// clients. Implemented by the websocket hub; a no-op in tests.
type TransferNotifier interface {
	NotifyTransfer(tx *domain.Transaction)
	NotifyBalance(balance *domain.Balance)
}

// DedupeStore remembers webhook delivery ids so duplicate deliveries are
// applied at most once. Injectable so the intake stays testable and
// horizontally scalable.
type DedupeStore interface {
	// Seen marks id as processed and reports whether it had already been
	// marked before this call.
	Seen(ctx context.Context, id string) (bool, error)

	// Forget releases the mark on id so the provider's retry of a
	// delivery that failed to apply is not dropped as a duplicate.
	Forget(ctx context.Context, id string) error
}
