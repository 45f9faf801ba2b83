package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
)

// AutomationStore holds roundUpAutomations[account][slot].
// Get returns (nil, nil) when the slot is empty.
type AutomationStore interface {
	PutAutomation(ctx context.Context, automation models.RoundUpAutomation) error
	GetAutomation(ctx context.Context, account common.Address, slot uint64) (*models.RoundUpAutomation, error)
	// ListAutomations returns the account's automations ordered by slot.
	ListAutomations(ctx context.Context, account common.Address) ([]models.RoundUpAutomation, error)
}
