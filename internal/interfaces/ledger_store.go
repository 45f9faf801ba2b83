package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
)

type LedgerStore interface {
	// SaveTransactions persists the transactions and their entries as one unit.
	SaveTransactions(ctx context.Context, txs []models.Transaction, entries []models.LedgerEntry) error
	SaveEntry(ctx context.Context, entry models.LedgerEntry) error
	TransactionExists(ctx context.Context, idempotencyKey string) (bool, error)
	GetEntriesByAccount(ctx context.Context, accountId common.Address) ([]models.LedgerEntry, error)
	GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)
}
