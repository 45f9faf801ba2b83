package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidAmount       = errors.New("amount must not be negative")
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAlreadyApplied reports that an idempotency key was committed by
	// another request before this one took the account locks.
	ErrAlreadyApplied      = errors.New("idempotency key already applied")
)

// Ledger is the value-transfer primitive the host executes instructions with.
// It holds a reference to the storage layer and a mutex per account for concurrency control
type Ledger struct {
	store interfaces.LedgerStore         // Interface to save ledger entries, can be any storage implementation
	clock interfaces.Clock               // time source for entry timestamps
	muMap map[common.Address]*sync.Mutex // stores the *sync.Mutex for each account in a map
	mapMu sync.Mutex                     // protects the muMap itself
}

// NewLedger is a constructor function that creates a new Ledger instance
// We pass in a storage implementation (MemoryLedgerStore, Postgres, etc.)
func NewLedger(store interfaces.LedgerStore, clock interfaces.Clock) *Ledger {
	return &Ledger{
		store: store, // Assign the storage implementation to the ledger's store field
		clock: clock,
		muMap: make(map[common.Address]*sync.Mutex),
	}
}

func (l *Ledger) getAccountLock(accountId common.Address) *sync.Mutex {

	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[accountId]; !exists {
		l.muMap[accountId] = &sync.Mutex{}
	}
	return l.muMap[accountId]
}

// lockAccounts locks every account in address order to avoid deadlocks
// and returns the matching unlock function.
func (l *Ledger) lockAccounts(accounts []common.Address) func() {
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i][:], accounts[j][:]) < 0
	})

	var locked []*sync.Mutex
	var prev *common.Address
	for i := range accounts {
		if prev != nil && *prev == accounts[i] {
			continue
		}
		mu := l.getAccountLock(accounts[i])
		mu.Lock()
		locked = append(locked, mu)
		prev = &accounts[i]
	}

	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

// Deposit credits an account from outside the ledger (funding).
func (l *Ledger) Deposit(ctx context.Context, account, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}

	mu := l.getAccountLock(account)
	mu.Lock()
	defer mu.Unlock()

	entry := models.LedgerEntry{
		ID:        uuid.New().String(),
		AccountID: account,
		Asset:     asset,
		Amount:    decimal.NewFromBigInt(amount, 0),
		CreatedAt: l.clock.Now(),
	}
	if err := l.store.SaveEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to save deposit: %w", err)
	}

	log.WithFields(log.Fields{
		"account": account.Hex(),
		"asset":   asset.Hex(),
		"amount":  amount.String(),
	}).Info("Deposit recorded")
	return nil
}

// Apply executes a single transfer instruction.
func (l *Ledger) Apply(ctx context.Context, instruction models.TransferInstruction, idempotencyKey string) (*models.Transaction, error) {
	txs, err := l.ApplyBatch(ctx, []models.TransferInstruction{instruction}, idempotencyKey)
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

// ApplyBatch is the core method that processes transfers.
// It converts each TransferInstruction (intent) into two LedgerEntry objects (debit and credit)
// ensuring double-entry accounting, and saves them all to the store as one unit:
// either every instruction in the batch is applied or none is.
// A batch whose idempotency key was already applied is skipped and returns no transactions.
func (l *Ledger) ApplyBatch(ctx context.Context, instructions []models.TransferInstruction, idempotencyKey string) ([]models.Transaction, error) {

	// Basic validation: amounts must be present and non-negative
	accounts := make([]common.Address, 0, 2*len(instructions))
	for _, in := range instructions {
		if in.Amount == nil || in.Amount.Sign() < 0 {
			return nil, ErrInvalidAmount
		}
		accounts = append(accounts, in.From, in.To)
	}

	//Get Locks for every account in the batch
	unlock := l.lockAccounts(accounts)
	defer unlock()

	// Idempotency check
	if idempotencyKey != "" {
		exists, err := l.store.TransactionExists(ctx, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if exists {
			log.WithField("idempotencyKey", idempotencyKey).Info("Transfer batch already applied")
			return nil, nil
		}
	}

	// Sum what each (account, asset) pair has to pay and check it can
	type holding struct {
		account common.Address
		asset   common.Address
	}
	required := make(map[holding]decimal.Decimal)
	var order []holding
	for _, in := range instructions {
		if in.From == in.To {
			continue
		}
		h := holding{account: in.From, asset: in.Asset}
		if _, seen := required[h]; !seen {
			order = append(order, h)
		}
		required[h] = required[h].Add(decimal.NewFromBigInt(in.Amount, 0))
	}
	for _, h := range order {
		balance, err := l.balance(ctx, h.account, h.asset)
		if err != nil {
			return nil, err
		}
		if balance.LessThan(required[h]) {
			return nil, fmt.Errorf("%w: %s holds %s of %s, needs %s",
				ErrInsufficientBalance, h.account.Hex(), balance, h.asset.Hex(), required[h])
		}
	}

	now := l.clock.Now()
	txs := make([]models.Transaction, 0, len(instructions))
	entries := make([]models.LedgerEntry, 0, 2*len(instructions))
	for i, in := range instructions {
		tx := models.Transaction{
			ID:          uuid.New().String(),
			Asset:       in.Asset,
			FromAccount: in.From,
			ToAccount:   in.To,
			Amount:      new(big.Int).Set(in.Amount),
			CreatedAt:   now,
		}
		// the batch key marks the last transaction; earlier ones get derived keys
		if idempotencyKey != "" {
			tx.IdempotencyKey = idempotencyKey
			if i < len(instructions)-1 {
				tx.IdempotencyKey = fmt.Sprintf("%s#%d", idempotencyKey, i)
			}
		}
		amount := decimal.NewFromBigInt(in.Amount, 0)

		// Create the debit entry (money leaving the sender's account)
		debit := models.LedgerEntry{
			ID:            tx.ID + "-debit",
			TransactionID: tx.ID,
			AccountID:     in.From,
			Asset:         in.Asset,
			Amount:        amount.Neg(),
			CreatedAt:     now,
		}

		// Create the credit entry (money entering the receiver's account)
		credit := models.LedgerEntry{
			ID:            tx.ID + "-credit",
			TransactionID: tx.ID,
			AccountID:     in.To,
			Asset:         in.Asset,
			Amount:        amount,
			CreatedAt:     now,
		}

		txs = append(txs, tx)
		entries = append(entries, debit, credit)
	}

	// Save the transactions with both sides of every transfer in one call
	if err := l.store.SaveTransactions(ctx, txs, entries); err != nil {
		return nil, fmt.Errorf("failed to save transactions: %w", err)
	}

	for _, tx := range txs {
		log.WithFields(log.Fields{
			"transactionId": tx.ID,
			"asset":         tx.Asset.Hex(),
			"from":          tx.FromAccount.Hex(),
			"to":            tx.ToAccount.Hex(),
			"amount":        tx.Amount.String(),
		}).Info("Transfer applied")
	}

	// If everything succeeded, return the recorded transactions
	return txs, nil
}

func (l *Ledger) balance(ctx context.Context, accountId, asset common.Address) (decimal.Decimal, error) {
	ledgerEntries, err := l.store.GetEntriesByAccount(ctx, accountId)

	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero

	for _, ledgerEntry := range ledgerEntries {
		if ledgerEntry.Asset == asset {
			balance = balance.Add(ledgerEntry.Amount)
		}
	}
	return balance, nil
}

func (l *Ledger) GetBalance(ctx context.Context, accountId, asset common.Address) (decimal.Decimal, error) {
	return l.balance(ctx, accountId, asset)
}

func (l *Ledger) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	ledgerEntries, err := l.store.GetLedgerEntries(ctx)

	if err != nil {
		return []models.LedgerEntry{}, err
	}
	return ledgerEntries, nil
}

// Applied reports whether a batch with idempotencyKey has been recorded.
func (l *Ledger) Applied(ctx context.Context, idempotencyKey string) (bool, error) {
	if idempotencyKey == "" {
		return false, nil
	}
	return l.store.TransactionExists(ctx, idempotencyKey)
}
