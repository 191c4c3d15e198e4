package bridge

import (
	"context"

	"github.com/custodia/cls/internal/domain"
)

// InitiateParams is a cross-chain transfer request. AmountUnits is
// fixed-point in the token's native precision; IdempotencyKey is
// caller-generated so a retried request cannot create a second transfer.
type InitiateParams struct {
	UserID         string
	IdempotencyKey string
	SourceChain    string
	DestChain      string
	Token          string
	AmountUnits    int64
	DestAddress    string
}

// IBridgeService drives a cross-chain transfer through the burn/attest/
// mint protocol while keeping the balance store and transaction ledger
// consistent under partial failure.
type IBridgeService interface {
	// InitiateTransfer locks the source balance, records the ledger row
	// and starts the burn. It returns as soon as the transfer is
	// attesting; the rest proceeds asynchronously via the poller.
	InitiateTransfer(ctx context.Context, params InitiateParams) (*domain.Transaction, error)

	// CancelTransfer is only permitted while the transfer is pending and
	// no burn has been submitted.
	CancelTransfer(ctx context.Context, userID, transferID string) (*domain.Transaction, error)

	// GetTransferStatus is a pure read against the ledger.
	GetTransferStatus(ctx context.Context, transferID string) (*domain.TransferStatus, error)

	// PollTransfer runs one poll tick for an attesting transfer: query
	// the attestation service and, once attested, submit the mint and
	// settle the ledger. Safe to call concurrently with webhook intake;
	// duplicate ticks on a terminal transfer are no-ops.
	PollTransfer(ctx context.Context, transferID string) error

	// Complete settles a transfer whose destination mint is confirmed.
	// The winner of the status compare-and-set is the only caller that
	// moves funds, so the reconciliation intake shares this path with
	// the poller.
	Complete(ctx context.Context, transferID, destTxHash string) error

	// Fail aborts a transfer whose burn never executed and restores the
	// locked source balance.
	Fail(ctx context.Context, transferID, reason string) error
}
