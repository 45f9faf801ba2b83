package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset identifies the account's native currency in a TransferInstruction.
var NativeAsset = common.Address{}

// TransferInstruction describes a value movement for the host to execute.
// The core engines only produce these; the ledger applies them.
type TransferInstruction struct {
	Asset  common.Address // token contract, or NativeAsset
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// IsNative reports whether the instruction moves native currency.
func (t TransferInstruction) IsNative() bool {
	return t.Asset == NativeAsset
}

// Transaction represents an applied transfer
type Transaction struct {
	ID             string
	IdempotencyKey string
	Asset          common.Address
	FromAccount    common.Address
	ToAccount      common.Address
	Amount         *big.Int
	CreatedAt      time.Time
}

// SecondaryTransfer is a savings transfer proposed by a round-up automation.
// It is executed in addition to, never instead of, the primary transfer.
type SecondaryTransfer struct {
	Slot           uint64
	TransferAmount *big.Int // amount of the intercepted primary transfer
	Instruction    TransferInstruction
}
