package testhelpers

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockAutomationStore is a mock implementation of AutomationStore
type MockAutomationStore struct {
	mock.Mock
}

func (m *MockAutomationStore) PutAutomation(ctx context.Context, automation models.RoundUpAutomation) error {
	args := m.Called(ctx, automation)
	return args.Error(0)
}

func (m *MockAutomationStore) GetAutomation(ctx context.Context, account common.Address, slot uint64) (*models.RoundUpAutomation, error) {
	args := m.Called(ctx, account, slot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RoundUpAutomation), args.Error(1)
}

func (m *MockAutomationStore) ListAutomations(ctx context.Context, account common.Address) ([]models.RoundUpAutomation, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RoundUpAutomation), args.Error(1)
}

// MockSubscriptionStore is a mock implementation of SubscriptionStore
type MockSubscriptionStore struct {
	mock.Mock
}

func (m *MockSubscriptionStore) PutSubscription(ctx context.Context, sub models.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionStore) GetSubscription(ctx context.Context, payee, account common.Address) (*models.Subscription, error) {
	args := m.Called(ctx, payee, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

// MockLedgerStore is a mock implementation of LedgerStore
type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) SaveTransactions(ctx context.Context, txs []models.Transaction, entries []models.LedgerEntry) error {
	args := m.Called(ctx, txs, entries)
	return args.Error(0)
}

func (m *MockLedgerStore) SaveEntry(ctx context.Context, entry models.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerStore) TransactionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	args := m.Called(ctx, idempotencyKey)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerStore) GetEntriesByAccount(ctx context.Context, accountId common.Address) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, accountId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

func (m *MockLedgerStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

// MockEventPublisher is a mock implementation of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(topic string, event any) error {
	args := m.Called(topic, event)
	return args.Error(0)
}

// RecordingPublisher keeps every published event in order.
type RecordingPublisher struct {
	mu     sync.Mutex
	Topics []string
	Events []any
}

func (p *RecordingPublisher) Publish(topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Topics = append(p.Topics, topic)
	p.Events = append(p.Events, event)
	return nil
}

// FakeClock is a settable Clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
