package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeTransferCompleted     = "transfer.completed"
	TypeRoundUpApplied        = "roundup.applied"
	TypeRoundUpFailed         = "roundup.failed"
	TypeSubscriptionCollected = "subscription.collected"
)

type TransferCompleted struct {
	EventID       string          `json:"event_id"`
	TransactionID string          `json:"transaction_id"`
	Asset         string          `json:"asset"`
	FromAccount   string          `json:"from_account"`
	ToAccount     string          `json:"to_account"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type RoundUpApplied struct {
	EventID            string          `json:"event_id"`
	Account            string          `json:"account"`
	Slot               uint64          `json:"slot"`
	Asset              string          `json:"asset"`
	SavingsDestination string          `json:"savings_destination"`
	TransferAmount     decimal.Decimal `json:"transfer_amount"`
	SavingsAmount      decimal.Decimal `json:"savings_amount"`
	OccurredAt         time.Time       `json:"occurred_at"`
}

// RoundUpFailed is published when a savings transfer could not be applied
// and the primary transfer went ahead without it.
type RoundUpFailed struct {
	EventID       string          `json:"event_id"`
	Account       string          `json:"account"`
	Slot          uint64          `json:"slot"`
	SavingsAmount decimal.Decimal `json:"savings_amount"`
	Reason        string          `json:"reason"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type SubscriptionCollected struct {
	EventID    string          `json:"event_id"`
	Payee      string          `json:"payee"`
	Account    string          `json:"account"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}
