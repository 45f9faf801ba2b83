package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	interfaces "github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
)

// MemoryAutomationStore keeps roundUpAutomations[account][slot] in nested maps.
type MemoryAutomationStore struct {
	mu          sync.RWMutex
	automations map[common.Address]map[uint64]models.RoundUpAutomation
}

func NewMemoryAutomationStore() *MemoryAutomationStore {
	return &MemoryAutomationStore{
		automations: make(map[common.Address]map[uint64]models.RoundUpAutomation),
	}
}

func cloneAutomation(a models.RoundUpAutomation) models.RoundUpAutomation {
	if a.RoundUpUnit != nil {
		a.RoundUpUnit = new(big.Int).Set(a.RoundUpUnit)
	}
	return a
}

func (m *MemoryAutomationStore) PutAutomation(ctx context.Context, automation models.RoundUpAutomation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots, ok := m.automations[automation.Account]
	if !ok {
		slots = make(map[uint64]models.RoundUpAutomation)
		m.automations[automation.Account] = slots
	}
	slots[automation.Slot] = cloneAutomation(automation)
	return nil
}

func (m *MemoryAutomationStore) GetAutomation(ctx context.Context, account common.Address, slot uint64) (*models.RoundUpAutomation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.automations[account][slot]
	if !ok {
		return nil, nil
	}
	a = cloneAutomation(a)
	return &a, nil
}

func (m *MemoryAutomationStore) ListAutomations(ctx context.Context, account common.Address) ([]models.RoundUpAutomation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slots := m.automations[account]
	result := make([]models.RoundUpAutomation, 0, len(slots))
	for _, a := range slots {
		result = append(result, cloneAutomation(a))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Slot < result[j].Slot })
	return result, nil
}

var _ interfaces.AutomationStore = (*MemoryAutomationStore)(nil)
