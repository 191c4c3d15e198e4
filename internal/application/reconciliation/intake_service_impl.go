package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/application/bridge"
	"github.com/custodia/cls/internal/domain"
	"github.com/custodia/cls/internal/domain/interfaces"
	"github.com/custodia/cls/internal/repositories/balancerepo"
	"github.com/custodia/cls/internal/repositories/ledgerrepo"
)

type intakeService struct {
	ledger   ledgerrepo.ILedgerRepository
	balances balancerepo.IBalanceRepository
	bridge   bridge.IBridgeService
	dedupe   interfaces.DedupeStore
	logger   zerolog.Logger
}

// NewIntakeService wires the webhook intake. Bridge transfers settle
// through the bridge service's Complete/Fail primitives; deposit and
// withdrawal confirmations settle their balances here, gated on the
// same status transition.
func NewIntakeService(
	ledger ledgerrepo.ILedgerRepository,
	balances balancerepo.IBalanceRepository,
	bridgeSvc bridge.IBridgeService,
	dedupe interfaces.DedupeStore,
	logger zerolog.Logger,
) IIntakeService {
	return &intakeService{
		ledger:   ledger,
		balances: balances,
		bridge:   bridgeSvc,
		dedupe:   dedupe,
		logger:   logger,
	}
}

func (s *intakeService) Apply(ctx context.Context, event *domain.ExternalEvent) error {
	marked := false
	if event.DeliveryID != "" {
		seen, err := s.dedupe.Seen(ctx, event.DeliveryID)
		if err != nil {
			// Dedupe store trouble is not a reason to drop a delivery:
			// every downstream transition is idempotent anyway.
			s.logger.Warn().Err(err).Str("delivery_id", event.DeliveryID).Msg("Dedupe check failed, applying anyway")
		} else if seen {
			s.logger.Debug().
				Str("delivery_id", event.DeliveryID).
				Str("event_type", event.EventType).
				Msg("Duplicate webhook delivery dropped")
			return nil
		} else {
			marked = true
		}
	}

	if err := s.dispatch(ctx, event); err != nil {
		// The delivery failed to apply and the provider will retry it
		// with the same id, so the mark must not survive.
		if marked {
			if ferr := s.dedupe.Forget(ctx, event.DeliveryID); ferr != nil {
				s.logger.Error().Err(ferr).
					Str("delivery_id", event.DeliveryID).
					Msg("Failed to release dedupe mark, provider retry will be dropped")
			}
		}
		return err
	}
	return nil
}

func (s *intakeService) dispatch(ctx context.Context, event *domain.ExternalEvent) error {
	tx, err := s.lookupTransaction(ctx, event)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn().
				Str("event_type", event.EventType).
				Str("transaction_id", event.TransactionID).
				Str("tx_hash", event.TxHash).
				Msg("Webhook event for unknown transaction dropped")
			return nil
		}
		return err
	}

	if tx.Status.Terminal() {
		s.logger.Debug().
			Str("transaction_id", tx.ID).
			Str("status", string(tx.Status)).
			Str("event_type", event.EventType).
			Msg("Webhook event for terminal transaction dropped")
		return nil
	}

	switch event.EventType {
	case domain.EventTransferCompleted:
		return s.bridge.Complete(ctx, tx.ID, event.DestTxHash)

	case domain.EventTransferFailed:
		// A failure report for a burned transfer never unwinds the lock;
		// the poller escalates it instead.
		if tx.Status == domain.StatusAttesting {
			s.logger.Warn().
				Str("transaction_id", tx.ID).
				Str("reason", event.Reason).
				Msg("Failure event for burned transfer ignored, awaiting escalation")
			return nil
		}
		return s.bridge.Fail(ctx, tx.ID, event.Reason)

	case domain.EventTransferAttested:
		// The attestation is ready; pull the poll forward instead of
		// minting inline so one code path owns the settle sequence.
		return s.bridge.PollTransfer(ctx, tx.ID)

	case domain.EventTransactionConfirmed:
		return s.applyConfirmation(ctx, tx, event)

	default:
		s.logger.Warn().Str("event_type", event.EventType).Msg("Unhandled webhook event type dropped")
		return nil
	}
}

// applyConfirmation settles non-bridge operations (deposits,
// withdrawals) reported confirmed or failed by the custody provider.
// Winning the status transition is what licenses the balance movement:
// a concurrent duplicate loses the compare-and-set and moves nothing.
func (s *intakeService) applyConfirmation(ctx context.Context, tx *domain.Transaction, event *domain.ExternalEvent) error {
	switch event.Status {
	case "confirmed":
		if tx.Type == domain.TypeBridge {
			return s.bridge.Complete(ctx, tx.ID, event.DestTxHash)
		}
		confirmed, err := s.ledger.Transition(ctx, ledgerrepo.TransitionParams{
			ID:           tx.ID,
			To:           domain.StatusCompleted,
			SourceTxHash: event.TxHash,
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				return nil
			}
			return err
		}
		s.settleConfirmed(ctx, confirmed)
		return nil

	case "failed":
		return s.bridge.Fail(ctx, tx.ID, event.Reason)

	default:
		return fmt.Errorf("unknown confirmation status %q for transaction %s", event.Status, tx.ID)
	}
}

// settleConfirmed moves the funds for a confirmation whose transition
// already won. Errors are logged, not returned: the row is terminal by
// now, so a provider retry could never re-enter this path.
func (s *intakeService) settleConfirmed(ctx context.Context, tx *domain.Transaction) {
	switch tx.Type {
	case domain.TypeDeposit:
		if err := s.balances.Credit(ctx, tx.UserID, tx.ToChain, tx.Token, tx.AmountUnits, tx.ID); err != nil {
			s.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to credit confirmed deposit")
		}
	case domain.TypeWithdrawal:
		if err := s.balances.SettleDebit(ctx, tx.UserID, tx.FromChain, tx.Token, tx.AmountUnits, tx.ID); err != nil {
			s.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to settle confirmed withdrawal")
		}
	}
}

func (s *intakeService) lookupTransaction(ctx context.Context, event *domain.ExternalEvent) (*domain.Transaction, error) {
	if event.TransactionID != "" {
		return s.ledger.GetByID(ctx, event.TransactionID)
	}
	if event.TxHash != "" {
		return s.ledger.GetBySourceTxHash(ctx, event.TxHash)
	}
	return nil, fmt.Errorf("%w: event carries neither transaction id nor tx hash", domain.ErrNotFound)
}
