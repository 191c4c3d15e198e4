package reconciliation

import (
	"context"

	"github.com/custodia/cls/internal/domain"
)

// IIntakeService applies asynchronous confirmations from the custody
// provider or attestation service to the ledger. Intake is idempotent:
// duplicate deliveries and events for unknown or already-terminal
// transactions are dropped and logged, never errors to the sender.
type IIntakeService interface {
	Apply(ctx context.Context, event *domain.ExternalEvent) error
}
