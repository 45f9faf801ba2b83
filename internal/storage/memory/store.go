package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"sync"    // standard Go package for concurrency primitives like Mutex

	"github.com/ethereum/go-ethereum/common"
	interfaces "github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"                // domain models: LedgerEntry, Transaction
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// It stores ledger entries in memory (slice) and is thread-safe for concurrent writes.
type MemoryLedgerStore struct {
	mu           sync.Mutex                    // mutex to protect entries and transactions from concurrent access
	entries      []models.LedgerEntry          // slice that holds all ledger entries
	transactions map[string]models.Transaction // transactions keyed by idempotency key
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		entries:      make([]models.LedgerEntry, 0),
		transactions: make(map[string]models.Transaction), // initialize an empty map of Transactions
	}
}

// SaveEntry saves a LedgerEntry to the in-memory slice.
// Implements the LedgerStore interface.
func (m *MemoryLedgerStore) SaveEntry(ctx context.Context, entry models.LedgerEntry) error {

	m.mu.Lock()         // lock the mutex to prevent concurrent writes
	defer m.mu.Unlock() // unlock automatically when function exits (even if error occurs)

	m.entries = append(m.entries, entry) // append the new entry to the slice
	return nil                           // always succeeds in memory, so returns nil
}

// SaveTransactions records the transactions and all their entries under one lock,
// so readers never observe half of a batch.
func (m *MemoryLedgerStore) SaveTransactions(ctx context.Context, txs []models.Transaction, entries []models.LedgerEntry) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue // only keyed transactions take part in replay checks
		}
		m.transactions[tx.IdempotencyKey] = tx
	}
	m.entries = append(m.entries, entries...)
	return nil
}

// GetLedgerEntries returns a copy of all ledger entries stored in memory.
// Useful for testing, debugging, and printing ledger state.
func (m *MemoryLedgerStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {

	m.mu.Lock()         // lock to prevent concurrent modification while reading
	defer m.mu.Unlock() // unlock automatically at the end

	// create a new slice to copy entries
	copied := make([]models.LedgerEntry, len(m.entries))
	copy(copied, m.entries) // copy all entries to the new slice
	return copied, nil      // return the copy so external code can't modify internal state
}

func (m *MemoryLedgerStore) GetEntriesByAccount(ctx context.Context, accountId common.Address) ([]models.LedgerEntry, error) {

	m.mu.Lock()         // lock the mutex to prevent concurrent writes
	defer m.mu.Unlock() // unlock automatically when function exits (even if error occurs)

	var result []models.LedgerEntry

	for _, e := range m.entries {
		if e.AccountID == accountId {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MemoryLedgerStore) TransactionExists(ctx context.Context, idempotencyKey string) (bool, error) {

	m.mu.Lock()         // lock the mutex to prevent concurrent writes
	defer m.mu.Unlock() // unlock automatically when function exits (even if error occurs)
	_, exists := m.transactions[idempotencyKey]
	return exists, nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
