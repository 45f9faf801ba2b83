package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// LedgerEntry represents a single ledger record for an account
type LedgerEntry struct {
	ID            string          // unique identifier
	TransactionID string          // transaction this entry belongs to, empty for deposits
	AccountID     common.Address  // which account this entry belongs to
	Asset         common.Address  // token contract, or NativeAsset
	Amount        decimal.Decimal // base units (positive or negative)
	CreatedAt     time.Time       // timestamp
}
