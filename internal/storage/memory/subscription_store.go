package memory

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	interfaces "github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
)

type subscriptionKey struct {
	payee   common.Address
	account common.Address
}

// MemorySubscriptionStore keeps subscriptions[payee][account].
type MemorySubscriptionStore struct {
	mu            sync.RWMutex
	subscriptions map[subscriptionKey]models.Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		subscriptions: make(map[subscriptionKey]models.Subscription),
	}
}

func cloneSubscription(s models.Subscription) models.Subscription {
	if s.Amount != nil {
		s.Amount = new(big.Int).Set(s.Amount)
	}
	return s
}

func (m *MemorySubscriptionStore) PutSubscription(ctx context.Context, sub models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscriptions[subscriptionKey{payee: sub.Payee, account: sub.Account}] = cloneSubscription(sub)
	return nil
}

func (m *MemorySubscriptionStore) GetSubscription(ctx context.Context, payee, account common.Address) (*models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subscriptions[subscriptionKey{payee: payee, account: account}]
	if !ok {
		return nil, nil
	}
	s = cloneSubscription(s)
	return &s, nil
}

var _ interfaces.SubscriptionStore = (*MemorySubscriptionStore)(nil)
