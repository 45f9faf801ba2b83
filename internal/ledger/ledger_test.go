package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca401")
	token = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func newTestLedger() *Ledger {
	clock := testhelpers.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	return NewLedger(memory.NewMemoryLedgerStore(), clock)
}

func transfer(asset, from, to common.Address, amount int64) models.TransferInstruction {
	return models.TransferInstruction{Asset: asset, From: from, To: to, Amount: big.NewInt(amount)}
}

func balanceOf(t *testing.T, l *Ledger, account, asset common.Address) string {
	t.Helper()
	b, err := l.GetBalance(context.Background(), account, asset)
	require.NoError(t, err)
	return b.String()
}

func TestLedger_ApplyMovesValue(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	require.NoError(t, l.Deposit(ctx, alice, token, big.NewInt(1000)))

	tx, err := l.Apply(ctx, transfer(token, alice, bob, 300), "")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "300", tx.Amount.String())

	assert.Equal(t, "700", balanceOf(t, l, alice, token))
	assert.Equal(t, "300", balanceOf(t, l, bob, token))
	assert.Equal(t, "0", balanceOf(t, l, bob, models.NativeAsset), "balances are per asset")

	entries, err := l.GetLedgerEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestLedger_ApplyRejects(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		in      models.TransferInstruction
		wantErr error
	}{
		{name: "overdraft", in: transfer(token, alice, bob, 101), wantErr: ErrInsufficientBalance},
		{name: "wrong asset", in: transfer(models.NativeAsset, alice, bob, 1), wantErr: ErrInsufficientBalance},
		{name: "negative", in: transfer(token, alice, bob, -1), wantErr: ErrInvalidAmount},
		{name: "nil amount", in: models.TransferInstruction{Asset: token, From: alice, To: bob}, wantErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger()
			require.NoError(t, l.Deposit(ctx, alice, token, big.NewInt(100)))

			_, err := l.Apply(ctx, tt.in, "")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, "100", balanceOf(t, l, alice, token))
			assert.Equal(t, "0", balanceOf(t, l, bob, token))
		})
	}
}

func TestLedger_ApplyBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	require.NoError(t, l.Deposit(ctx, alice, token, big.NewInt(1000)))

	// each transfer fits on its own, together they overdraw
	_, err := l.ApplyBatch(ctx, []models.TransferInstruction{
		transfer(token, alice, carol, 200),
		transfer(token, alice, bob, 900),
	}, "")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "1000", balanceOf(t, l, alice, token))
	assert.Equal(t, "0", balanceOf(t, l, carol, token))

	txs, err := l.ApplyBatch(ctx, []models.TransferInstruction{
		transfer(token, alice, carol, 100),
		transfer(token, alice, bob, 900),
	}, "")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	assert.Equal(t, "0", balanceOf(t, l, alice, token))
	assert.Equal(t, "100", balanceOf(t, l, carol, token))
	assert.Equal(t, "900", balanceOf(t, l, bob, token))
}

func TestLedger_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	require.NoError(t, l.Deposit(ctx, alice, token, big.NewInt(1000)))

	first, err := l.Apply(ctx, transfer(token, alice, bob, 10), "collect-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	replay, err := l.Apply(ctx, transfer(token, alice, bob, 10), "collect-1")
	require.NoError(t, err)
	assert.Nil(t, replay)
	assert.Equal(t, "10", balanceOf(t, l, bob, token))
}

func TestLedger_DepositValidation(t *testing.T) {
	l := newTestLedger()
	assert.ErrorIs(t, l.Deposit(context.Background(), alice, token, big.NewInt(0)), ErrInvalidAmount)
	assert.ErrorIs(t, l.Deposit(context.Background(), alice, token, nil), ErrInvalidAmount)
}

func TestLedger_ConcurrentTransfersNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()
	require.NoError(t, l.Deposit(ctx, alice, token, big.NewInt(50)))
	require.NoError(t, l.Deposit(ctx, bob, token, big.NewInt(50)))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = l.Apply(ctx, transfer(token, alice, bob, 1), "")
		}()
		go func() {
			defer wg.Done()
			_, _ = l.Apply(ctx, transfer(token, bob, alice, 1), "")
		}()
	}
	wg.Wait()

	a, err := l.GetBalance(ctx, alice, token)
	require.NoError(t, err)
	b, err := l.GetBalance(ctx, bob, token)
	require.NoError(t, err)
	assert.True(t, a.Sign() >= 0)
	assert.True(t, b.Sign() >= 0)
	assert.Equal(t, "100", a.Add(b).String())
}

func TestLedger_StoreErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("database error")
	clock := testhelpers.NewFakeClock(time.Now())

	t.Run("save", func(t *testing.T) {
		store := new(testhelpers.MockLedgerStore)
		store.On("GetEntriesByAccount", mock.Anything, alice).Return([]models.LedgerEntry{}, nil)
		store.On("SaveTransactions", mock.Anything, mock.Anything, mock.Anything).Return(boom)

		_, err := NewLedger(store, clock).Apply(ctx, transfer(token, alice, bob, 0), "")
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "failed to save transactions")
		store.AssertExpectations(t)
	})

	t.Run("idempotency lookup", func(t *testing.T) {
		store := new(testhelpers.MockLedgerStore)
		store.On("TransactionExists", mock.Anything, "k").Return(false, boom)

		_, err := NewLedger(store, clock).Apply(ctx, transfer(token, alice, bob, 1), "k")
		assert.ErrorIs(t, err, boom)
		store.AssertNotCalled(t, "SaveTransactions", mock.Anything, mock.Anything, mock.Anything)
	})
}
