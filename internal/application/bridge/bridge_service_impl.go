package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/domain"
	"github.com/custodia/cls/internal/domain/interfaces"
	"github.com/custodia/cls/internal/registry"
	"github.com/custodia/cls/internal/repositories/balancerepo"
	"github.com/custodia/cls/internal/repositories/ledgerrepo"
	"github.com/custodia/cls/pkg/config"
	"github.com/custodia/cls/pkg/currency"
)

// escalatedPollInterval is the slower cadence for transfers past their
// poll window: they stay resumable but stop hammering the attestation
// service every few seconds.
const escalatedPollInterval = time.Minute

type bridgeService struct {
	ledger      ledgerrepo.ILedgerRepository
	balances    balancerepo.IBalanceRepository
	registry    *registry.Registry
	custody     interfaces.CustodyClient
	attestation interfaces.AttestationClient
	publisher   interfaces.EventsPublisher
	notifier    interfaces.TransferNotifier
	config      config.BridgeConfig
	logger      zerolog.Logger
}

func NewBridgeService(
	ledger ledgerrepo.ILedgerRepository,
	balances balancerepo.IBalanceRepository,
	reg *registry.Registry,
	custody interfaces.CustodyClient,
	attestation interfaces.AttestationClient,
	publisher interfaces.EventsPublisher,
	notifier interfaces.TransferNotifier,
	cfg config.BridgeConfig,
	logger zerolog.Logger,
) IBridgeService {
	return &bridgeService{
		ledger:      ledger,
		balances:    balances,
		registry:    reg,
		custody:     custody,
		attestation: attestation,
		publisher:   publisher,
		notifier:    notifier,
		config:      cfg,
		logger:      logger,
	}
}

func (s *bridgeService) InitiateTransfer(ctx context.Context, params InitiateParams) (*domain.Transaction, error) {
	if params.AmountUnits <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive")
	}
	if params.DestAddress == "" {
		return nil, fmt.Errorf("destination address is required")
	}
	if params.SourceChain == params.DestChain {
		return nil, fmt.Errorf("%w: source and destination chains must be different", domain.ErrUnsupportedRoute)
	}

	source, ok := s.registry.Lookup(params.SourceChain)
	if !ok {
		return nil, fmt.Errorf("%w: unknown chain %s", domain.ErrUnsupportedRoute, params.SourceChain)
	}
	dest, ok := s.registry.Lookup(params.DestChain)
	if !ok {
		return nil, fmt.Errorf("%w: unknown chain %s", domain.ErrUnsupportedRoute, params.DestChain)
	}
	if !source.BridgeSupported() || !dest.BridgeSupported() {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrUnsupportedRoute, params.SourceChain, params.DestChain)
	}

	// A retried request with the same idempotency key gets the existing
	// transfer back without touching the balance again.
	if existing, err := s.ledger.GetByIdempotencyKey(ctx, params.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// Lock before creating the ledger row: a failed lock leaves no trace.
	if err := s.balances.Lock(ctx, params.UserID, params.SourceChain, params.Token, params.AmountUnits, params.IdempotencyKey); err != nil {
		return nil, err
	}

	tx, created, err := s.ledger.Create(ctx, ledgerrepo.CreateParams{
		UserID:         params.UserID,
		IdempotencyKey: params.IdempotencyKey,
		Type:           domain.TypeBridge,
		Token:          params.Token,
		AmountUnits:    params.AmountUnits,
		FromChain:      params.SourceChain,
		ToChain:        params.DestChain,
		ToAddress:      params.DestAddress,
	})
	if err != nil {
		// The lock is orphaned if we cannot record the transfer.
		s.unlockSource(ctx, params.UserID, params.SourceChain, params.Token, params.AmountUnits, "")
		return nil, err
	}
	if !created {
		// Lost a race against a concurrent request with the same key:
		// the other caller owns the lock, release ours.
		s.unlockSource(ctx, params.UserID, params.SourceChain, params.Token, params.AmountUnits, tx.ID)
		return tx, nil
	}

	s.logger.Info().
		Str("transaction_id", tx.ID).
		Str("user_id", params.UserID).
		Str("from_chain", params.SourceChain).
		Str("to_chain", params.DestChain).
		Int64("amount_units", params.AmountUnits).
		Msg("Initiating cross-chain transfer")

	// Claim the row into attesting before talking to the provider. The
	// compare-and-set here is what shuts the cancellation window: once
	// the claim lands, CancelTransfer can no longer win the race while
	// the burn is in flight.
	nextPoll := time.Now().Add(s.config.PollInterval)
	deadline := time.Now().Add(s.config.PollWindow)
	attesting, err := s.ledger.Transition(ctx, ledgerrepo.TransitionParams{
		ID:           tx.ID,
		To:           domain.StatusAttesting,
		NextPollAt:   &nextPoll,
		PollDeadline: &deadline,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// A concurrent cancel won before anything was burned; the
			// cancel path already released the lock.
			return s.ledger.GetByID(ctx, tx.ID)
		}
		s.unlockSource(ctx, params.UserID, params.SourceChain, params.Token, params.AmountUnits, tx.ID)
		return nil, err
	}

	// The burn carries the transaction id as its idempotency key, so a
	// network retry cannot duplicate it.
	burn, err := s.custody.InitiateBurn(ctx, &domain.BurnRequest{
		IdempotencyKey: tx.ID,
		UserID:         params.UserID,
		SourceChain:    params.SourceChain,
		SourceDomain:   source.Domain,
		DestDomain:     dest.Domain,
		Token:          params.Token,
		AmountUnits:    params.AmountUnits,
		DestAddress:    params.DestAddress,
	})
	if err != nil {
		if !domain.IsPermanent(err) {
			// Unknown outcome after exhausted retries: the burn may have
			// executed. Leave the claim in place; the poller re-submits
			// with the same idempotency key and resolves it either way.
			s.logger.Warn().Err(err).
				Str("transaction_id", tx.ID).
				Msg("Burn outcome unknown, leaving transfer for the poller to resolve")
			return attesting, nil
		}
		s.unlockSource(ctx, params.UserID, params.SourceChain, params.Token, params.AmountUnits, tx.ID)
		failed, terr := s.ledger.Transition(ctx, ledgerrepo.TransitionParams{
			ID:            tx.ID,
			To:            domain.StatusFailed,
			FailureReason: fmt.Sprintf("burn failed: %v", err),
		})
		if terr != nil {
			s.logger.Error().Err(terr).Str("transaction_id", tx.ID).Msg("Failed to mark transaction failed after burn error")
		} else {
			s.notify(failed)
			s.publishLifecycle(ctx, failed)
		}
		return nil, fmt.Errorf("burn initiation failed: %w", err)
	}

	if err := s.ledger.RecordBurn(ctx, tx.ID, burn.SourceTxHash); err != nil {
		// The burn is committed; the transfer stays recoverable. The
		// poller re-submits the idempotent burn and records the hash.
		s.logger.Error().Err(err).
			Str("transaction_id", tx.ID).
			Str("source_tx_hash", burn.SourceTxHash).
			Msg("Failed to record burn hash after successful burn")
	} else {
		attesting.SourceTxHash = burn.SourceTxHash
	}

	s.notify(attesting)
	return attesting, nil
}

func (s *bridgeService) CancelTransfer(ctx context.Context, userID, transferID string) (*domain.Transaction, error) {
	tx, err := s.ledger.GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, domain.ErrNotFound
	}

	// Once the burn is out the door the protocol must run to completion
	// or protocol-defined failure; cancellation is no longer possible.
	if tx.Status != domain.StatusPending || tx.SourceTxHash != "" {
		return nil, fmt.Errorf("%w: transfer %s is %s and cannot be cancelled",
			domain.ErrInvalidTransition, transferID, tx.Status)
	}

	cancelled, err := s.ledger.Transition(ctx, ledgerrepo.TransitionParams{
		ID: transferID,
		To: domain.StatusCancelled,
	})
	if err != nil {
		return nil, err
	}

	s.unlockSource(ctx, tx.UserID, tx.FromChain, tx.Token, tx.AmountUnits, tx.ID)
	s.notify(cancelled)
	s.publishLifecycle(ctx, cancelled)

	return cancelled, nil
}

func (s *bridgeService) GetTransferStatus(ctx context.Context, transferID string) (*domain.TransferStatus, error) {
	tx, err := s.ledger.GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}

	status := &domain.TransferStatus{
		ID:            tx.ID,
		Status:        tx.Status,
		Escalated:     tx.Escalated,
		FromChain:     tx.FromChain,
		ToChain:       tx.ToChain,
		Token:         tx.Token,
		Amount:        currency.FromUnits(tx.AmountUnits, currency.USDCDecimals),
		SourceTxHash:  tx.SourceTxHash,
		DestTxHash:    tx.DestTxHash,
		FailureReason: tx.FailureReason,
		CreatedAt:     tx.CreatedAt,
		ConfirmedAt:   tx.ConfirmedAt,
	}
	status.SourceExplorerURL = s.registry.ExplorerTxURL(tx.FromChain, tx.SourceTxHash)
	status.DestExplorerURL = s.registry.ExplorerTxURL(tx.ToChain, tx.DestTxHash)

	if tx.Status == domain.StatusAttesting && !tx.Escalated {
		status.EstimatedCompletion = "10-20 minutes"
	}

	return status, nil
}

func (s *bridgeService) PollTransfer(ctx context.Context, transferID string) error {
	// Re-read so a webhook that already finished the transfer turns this
	// tick into a no-op.
	tx, err := s.ledger.GetByID(ctx, transferID)
	if err != nil {
		return err
	}
	if tx.Status != domain.StatusAttesting {
		return nil
	}

	// A claimed row without a burn hash means the process died (or lost
	// the outcome) between the claim and recording the hash. The burn is
	// keyed by the transaction id, so re-submitting is safe either way.
	if tx.SourceTxHash == "" {
		return s.resubmitBurn(ctx, tx)
	}

	attestation, err := s.attestation.GetAttestation(ctx, tx.SourceTxHash)
	if err != nil {
		if domain.IsPermanent(err) {
			// The burn is committed; never auto-fail. Escalate for
			// operator visibility and keep the transfer resumable.
			return s.escalate(ctx, tx, fmt.Sprintf("attestation lookup permanently failing: %v", err))
		}
		s.logger.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Attestation poll failed, will retry")
		return s.reschedule(ctx, tx)
	}

	if attestation.Status != domain.AttestationComplete {
		if tx.PollDeadline != nil && time.Now().After(*tx.PollDeadline) {
			return s.escalate(ctx, tx, "attestation window elapsed")
		}
		return s.reschedule(ctx, tx)
	}

	mint, err := s.custody.SubmitMint(ctx, &domain.MintRequest{
		IdempotencyKey: tx.ID,
		DestChain:      tx.ToChain,
		DestAddress:    tx.ToAddress,
		Message:        attestation.Message,
		Attestation:    attestation.Attestation,
	})
	if err != nil {
		if domain.IsPermanent(err) {
			// Burned, attested, but unmintable: genuinely stuck funds.
			// Held in a flagged attesting state pending manual
			// intervention; the money never silently disappears.
			return s.escalate(ctx, tx, fmt.Sprintf("mint permanently failing: %v", err))
		}
		s.logger.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Mint submission failed, will retry")
		return s.reschedule(ctx, tx)
	}

	return s.Complete(ctx, tx.ID, mint.DestTxHash)
}

func (s *bridgeService) resubmitBurn(ctx context.Context, tx *domain.Transaction) error {
	source, ok := s.registry.Lookup(tx.FromChain)
	if !ok {
		return s.Fail(ctx, tx.ID, fmt.Sprintf("unknown source chain %s", tx.FromChain))
	}
	dest, ok := s.registry.Lookup(tx.ToChain)
	if !ok {
		return s.Fail(ctx, tx.ID, fmt.Sprintf("unknown destination chain %s", tx.ToChain))
	}

	burn, err := s.custody.InitiateBurn(ctx, &domain.BurnRequest{
		IdempotencyKey: tx.ID,
		UserID:         tx.UserID,
		SourceChain:    tx.FromChain,
		SourceDomain:   source.Domain,
		DestDomain:     dest.Domain,
		Token:          tx.Token,
		AmountUnits:    tx.AmountUnits,
		DestAddress:    tx.ToAddress,
	})
	if err != nil {
		if domain.IsPermanent(err) {
			// The provider rejected the burn outright, so nothing was
			// ever committed on-chain and the funds can go back.
			return s.Fail(ctx, tx.ID, fmt.Sprintf("burn failed: %v", err))
		}
		s.logger.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Burn re-submission failed, will retry")
		return s.reschedule(ctx, tx)
	}

	if err := s.ledger.RecordBurn(ctx, tx.ID, burn.SourceTxHash); err != nil {
		s.logger.Error().Err(err).
			Str("transaction_id", tx.ID).
			Str("source_tx_hash", burn.SourceTxHash).
			Msg("Failed to record burn hash after re-submission")
	}
	return s.reschedule(ctx, tx)
}

func (s *bridgeService) Complete(ctx context.Context, transferID, destTxHash string) error {
	completed, err := s.ledger.Transition(ctx, ledgerrepo.TransitionParams{
		ID:         transferID,
		To:         domain.StatusCompleted,
		DestTxHash: destTxHash,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.logger.Debug().Str("transaction_id", transferID).Msg("Transfer already settled by a concurrent path")
			return nil
		}
		return err
	}

	if err := s.balances.SettleDebit(ctx, completed.UserID, completed.FromChain, completed.Token, completed.AmountUnits, completed.ID); err != nil {
		s.logger.Error().Err(err).Str("transaction_id", completed.ID).Msg("Failed to settle source debit")
	}
	if err := s.balances.Credit(ctx, completed.UserID, completed.ToChain, completed.Token, completed.AmountUnits, completed.ID); err != nil {
		s.logger.Error().Err(err).Str("transaction_id", completed.ID).Msg("Failed to credit destination balance")
	}

	s.logger.Info().
		Str("transaction_id", completed.ID).
		Str("dest_tx_hash", destTxHash).
		Msg("Cross-chain transfer completed")

	s.notify(completed)
	s.publishLifecycle(ctx, completed)
	return nil
}

func (s *bridgeService) Fail(ctx context.Context, transferID, reason string) error {
	failed, err := s.ledger.Transition(ctx, ledgerrepo.TransitionParams{
		ID:            transferID,
		To:            domain.StatusFailed,
		FailureReason: reason,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	s.unlockSource(ctx, failed.UserID, failed.FromChain, failed.Token, failed.AmountUnits, failed.ID)
	s.notify(failed)
	s.publishLifecycle(ctx, failed)
	return nil
}

func (s *bridgeService) reschedule(ctx context.Context, tx *domain.Transaction) error {
	interval := s.config.PollInterval
	if tx.Escalated {
		interval = escalatedPollInterval
	}
	return s.ledger.UpdatePollState(ctx, tx.ID, time.Now().Add(interval), tx.Escalated)
}

func (s *bridgeService) escalate(ctx context.Context, tx *domain.Transaction, reason string) error {
	if err := s.ledger.UpdatePollState(ctx, tx.ID, time.Now().Add(escalatedPollInterval), true); err != nil {
		return err
	}

	if !tx.Escalated {
		s.logger.Error().
			Str("transaction_id", tx.ID).
			Str("source_tx_hash", tx.SourceTxHash).
			Str("reason", reason).
			Msg("Transfer escalated, operator intervention required")

		tx.Escalated = true
		s.publishLifecycle(ctx, tx)
	}
	return nil
}

func (s *bridgeService) unlockSource(ctx context.Context, userID, chainID, token string, amountUnits int64, transactionID string) {
	if err := s.balances.Unlock(ctx, userID, chainID, token, amountUnits, transactionID); err != nil {
		s.logger.Error().Err(err).
			Str("user_id", userID).
			Str("chain_id", chainID).
			Int64("amount_units", amountUnits).
			Msg("Failed to release reserved balance")
	}
}

func (s *bridgeService) notify(tx *domain.Transaction) {
	if s.notifier != nil {
		s.notifier.NotifyTransfer(tx)
	}
}

func (s *bridgeService) publishLifecycle(ctx context.Context, tx *domain.Transaction) {
	if s.publisher == nil {
		return
	}
	event := &domain.LifecycleEvent{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Status:        tx.Status,
		Escalated:     tx.Escalated,
		FromChain:     tx.FromChain,
		ToChain:       tx.ToChain,
		Token:         tx.Token,
		AmountUnits:   tx.AmountUnits,
		Reason:        tx.FailureReason,
		OccurredAt:    time.Now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to publish lifecycle event")
	}
}
