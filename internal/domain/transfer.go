package domain

import (
	"time"
)

type AttestationStatus string

const (
	AttestationPending  AttestationStatus = "pending"
	AttestationComplete AttestationStatus = "attested"
)

// Attestation is the proof issued by the attestation service after it
// observes a source-chain burn; it authorizes the destination mint.
type Attestation struct {
	Status      AttestationStatus `json:"status"`
	Message     string            `json:"message"`
	Attestation string            `json:"attestation"`
}

// BurnRequest initiates a burn on the source chain. IdempotencyKey is
// always the transaction id so a retried call cannot duplicate the burn.
type BurnRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	UserID         string `json:"user_id"`
	SourceChain    string `json:"source_chain"`
	SourceDomain   int32  `json:"source_domain"`
	DestDomain     int32  `json:"dest_domain"`
	Token          string `json:"token"`
	AmountUnits    int64  `json:"amount_units"`
	DestAddress    string `json:"dest_address"`
}

type BurnResult struct {
	SourceTxHash string `json:"source_tx_hash"`
}

type MintRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	DestChain      string `json:"dest_chain"`
	DestAddress    string `json:"dest_address"`
	Message        string `json:"message"`
	Attestation    string `json:"attestation"`
}

type MintResult struct {
	DestTxHash string `json:"dest_tx_hash"`
}

// TransferStatus is the read model served by the status endpoint. It is
// derived from the Transaction row and never triggers side effects.
type TransferStatus struct {
	ID                  string            `json:"id"`
	Status              TransactionStatus `json:"status"`
	Escalated           bool              `json:"escalated"`
	FromChain           string            `json:"from_chain"`
	ToChain             string            `json:"to_chain"`
	Token               string            `json:"token"`
	Amount              string            `json:"amount"`
	SourceTxHash        string            `json:"source_tx_hash,omitempty"`
	DestTxHash          string            `json:"dest_tx_hash,omitempty"`
	SourceExplorerURL   string            `json:"source_explorer_url,omitempty"`
	DestExplorerURL     string            `json:"dest_explorer_url,omitempty"`
	FailureReason       string            `json:"failure_reason,omitempty"`
	EstimatedCompletion string            `json:"estimated_completion,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	ConfirmedAt         *time.Time        `json:"confirmed_at,omitempty"`
}

// ExternalEvent is an asynchronous confirmation delivered by the custody
// provider or attestation service webhook. DeliveryID deduplicates
// repeated deliveries of the same event.
type ExternalEvent struct {
	DeliveryID    string    `json:"delivery_id"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	TxHash        string    `json:"tx_hash"`
	DestTxHash    string    `json:"dest_tx_hash"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason"`
	Attestation   string    `json:"attestation"`
	Message       string    `json:"message"`
	ReceivedAt    time.Time `json:"received_at"`
}

const (
	EventTransactionConfirmed = "transaction.confirmed"
	EventTransferAttested     = "transfer.attested"
	EventTransferCompleted    = "transfer.completed"
	EventTransferFailed       = "transfer.failed"
)

// LifecycleEvent is published to the events stream on every terminal or
// escalated bridge transition.
type LifecycleEvent struct {
	TransactionID string            `json:"transaction_id"`
	UserID        string            `json:"user_id"`
	Status        TransactionStatus `json:"status"`
	Escalated     bool              `json:"escalated"`
	FromChain     string            `json:"from_chain"`
	ToChain       string            `json:"to_chain"`
	Token         string            `json:"token"`
	AmountUnits   int64             `json:"amount_units"`
	Reason        string            `json:"reason,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}
