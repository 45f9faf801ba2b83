package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Subscription is a recurring native-currency entitlement of Payee against Account.
type Subscription struct {
	Payee    common.Address
	Account  common.Address
	Amount   *big.Int
	LastPaid time.Time
	Enabled  bool
}
