package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RoundUpAutomation is one round-up savings rule owned by an account.
// Automations are keyed by (Account, Slot); re-registering a slot replaces it.
type RoundUpAutomation struct {
	Account            common.Address
	Slot               uint64
	SavingsDestination common.Address
	RoundUpUnit        *big.Int
	Enabled            bool
}

// Active reports whether the automation should act on a transfer.
// A zero or negative unit is inert even when enabled.
func (a *RoundUpAutomation) Active() bool {
	return a != nil && a.Enabled && a.RoundUpUnit != nil && a.RoundUpUnit.Sign() > 0
}
