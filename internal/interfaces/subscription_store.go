package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
)

// SubscriptionStore holds subscriptions[payee][account].
// Get returns (nil, nil) when no record exists.
type SubscriptionStore interface {
	PutSubscription(ctx context.Context, sub models.Subscription) error
	GetSubscription(ctx context.Context, payee, account common.Address) (*models.Subscription, error)
}
