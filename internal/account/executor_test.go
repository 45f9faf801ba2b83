package account

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/calldata"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/ledger"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models/events"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/roundup"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/subscription"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	owner     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	vault     = common.HexToAddress("0x2000000000000000000000000000000000000002")
	recipient = common.HexToAddress("0x3000000000000000000000000000000000000003")
	payee     = common.HexToAddress("0x5000000000000000000000000000000000000005")
	usdc      = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	t0        = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	clock     *testhelpers.FakeClock
	ledger    *ledger.Ledger
	roundups  *roundup.Engine
	subs      *subscription.Ledger
	publisher *testhelpers.RecordingPublisher
	executor  *Executor
}

func newHarness(t *testing.T, policy FailurePolicy) *harness {
	t.Helper()
	clock := testhelpers.NewFakeClock(t0)
	h := &harness{
		clock:     clock,
		ledger:    ledger.NewLedger(memory.NewMemoryLedgerStore(), clock),
		roundups:  roundup.NewEngine(memory.NewMemoryAutomationStore(), roundup.SlotPolicyPrimary),
		subs:      subscription.NewLedger(memory.NewMemorySubscriptionStore(), clock, subscription.DefaultAccrualInterval),
		publisher: &testhelpers.RecordingPublisher{},
	}
	h.executor = NewExecutor(h.ledger, h.subs, h.publisher, clock, policy, h.roundups)
	return h
}

func (h *harness) balance(t *testing.T, account, asset common.Address) string {
	t.Helper()
	b, err := h.ledger.GetBalance(context.Background(), account, asset)
	require.NoError(t, err)
	return b.String()
}

func usdcTransfer(t *testing.T, amount int64) []byte {
	t.Helper()
	payload, err := calldata.EncodeTokenTransfer(usdc, recipient, big.NewInt(amount))
	require.NoError(t, err)
	return payload
}

func TestExecute_RoundUpScenario(t *testing.T) {
	for _, policy := range []FailurePolicy{FailureIsolated, FailureAtomic} {
		t.Run(string(policy), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, policy)
			require.NoError(t, h.ledger.Deposit(ctx, owner, usdc, big.NewInt(5_000_000)))
			require.NoError(t, h.roundups.Register(ctx, owner, 0, vault, big.NewInt(1_000_000)))

			result, err := h.executor.Execute(ctx, owner, usdcTransfer(t, 900000), "")
			require.NoError(t, err)
			require.NotNil(t, result.Primary)
			require.Len(t, result.Secondary, 1)
			assert.Empty(t, result.Failed)

			assert.Equal(t, "900000", h.balance(t, recipient, usdc))
			assert.Equal(t, "100000", h.balance(t, vault, usdc))
			assert.Equal(t, "4000000", h.balance(t, owner, usdc))

			assert.Equal(t, []string{
				events.TypeRoundUpApplied,
				events.TypeTransferCompleted,
				events.TypeTransferCompleted,
			}, h.publisher.Topics)
			applied := h.publisher.Events[0].(events.RoundUpApplied)
			assert.Equal(t, "100000", applied.SavingsAmount.String())
			assert.Equal(t, "900000", applied.TransferAmount.String())
		})
	}
}

func TestExecute_NoAutomationMovesOnlyPrimary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, FailureIsolated)
	require.NoError(t, h.ledger.Deposit(ctx, owner, usdc, big.NewInt(1_000_000)))

	result, err := h.executor.Execute(ctx, owner, usdcTransfer(t, 900000), "")
	require.NoError(t, err)
	assert.Empty(t, result.Secondary)
	assert.Equal(t, "900000", h.balance(t, recipient, usdc))
	assert.Equal(t, "0", h.balance(t, vault, usdc))
}

func TestExecute_SavingsFailurePolicies(t *testing.T) {
	tests := []struct {
		name          string
		policy        FailurePolicy
		wantErr       error
		wantRecipient string
		wantOwner     string
	}{
		{name: "isolated keeps primary", policy: FailureIsolated, wantRecipient: "900000", wantOwner: "50000"},
		{name: "atomic rejects both", policy: FailureAtomic, wantErr: ledger.ErrInsufficientBalance, wantRecipient: "0", wantOwner: "950000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, tt.policy)
			// enough for the transfer, not for transfer plus savings
			require.NoError(t, h.ledger.Deposit(ctx, owner, usdc, big.NewInt(950000)))
			require.NoError(t, h.roundups.Register(ctx, owner, 0, vault, big.NewInt(1_000_000)))

			result, err := h.executor.Execute(ctx, owner, usdcTransfer(t, 900000), "")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, h.publisher.Topics)
			} else {
				require.NoError(t, err)
				require.Len(t, result.Failed, 1)
				assert.ErrorIs(t, result.Failed[0].Err, ledger.ErrInsufficientBalance)
				assert.Contains(t, h.publisher.Topics, events.TypeRoundUpFailed)
				assert.NotContains(t, h.publisher.Topics, events.TypeRoundUpApplied)
			}

			assert.Equal(t, tt.wantRecipient, h.balance(t, recipient, usdc))
			assert.Equal(t, tt.wantOwner, h.balance(t, owner, usdc))
			assert.Equal(t, "0", h.balance(t, vault, usdc))
		})
	}
}

func TestExecute_NativeValueSend(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, FailureIsolated)
	require.NoError(t, h.ledger.Deposit(ctx, owner, models.NativeAsset, big.NewInt(100)))
	require.NoError(t, h.roundups.Register(ctx, owner, 0, vault, big.NewInt(1_000_000)))

	payload, err := calldata.EncodeExecute(recipient, big.NewInt(40), nil)
	require.NoError(t, err)

	result, err := h.executor.Execute(ctx, owner, payload, "")
	require.NoError(t, err)
	assert.Empty(t, result.Secondary, "round-ups only apply to token transfers")
	assert.Equal(t, "40", h.balance(t, recipient, models.NativeAsset))
}

func TestExecute_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, FailureIsolated)
	require.NoError(t, h.roundups.Register(ctx, owner, 0, vault, big.NewInt(1_000_000)))

	approve, err := calldata.EncodeExecute(usdc, big.NewInt(0), []byte{0x09, 0x5e, 0xa7, 0xb3, 0x00})
	require.NoError(t, err)
	inner, err := calldata.EncodeTransfer(recipient, big.NewInt(1))
	require.NoError(t, err)
	valueWithTransfer, err := calldata.EncodeExecute(usdc, big.NewInt(1), inner)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{name: "malformed", payload: []byte{0x01, 0x02}, wantErr: calldata.ErrMalformedInstructionPayload},
		{name: "not execute", payload: []byte{0x01, 0x02, 0x03, 0x04}, wantErr: ErrUnsupportedInstruction},
		{name: "non-transfer inner call", payload: approve, wantErr: ErrUnsupportedInstruction},
		{name: "token transfer with value", payload: valueWithTransfer, wantErr: ErrUnsupportedInstruction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.executor.Execute(ctx, owner, tt.payload, "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExecute_InterceptorErrorBlocksPrimary(t *testing.T) {
	ctx := context.Background()
	clock := testhelpers.NewFakeClock(t0)
	l := ledger.NewLedger(memory.NewMemoryLedgerStore(), clock)
	require.NoError(t, l.Deposit(ctx, owner, usdc, big.NewInt(1_000_000)))

	store := new(testhelpers.MockAutomationStore)
	store.On("GetAutomation", mock.Anything, owner, roundup.PrimarySlot).Return(nil, errors.New("database error"))

	x := NewExecutor(l, nil, nil, clock, FailureIsolated, roundup.NewEngine(store, roundup.SlotPolicyPrimary))
	_, err := x.Execute(ctx, owner, usdcTransfer(t, 900000), "")
	assert.ErrorContains(t, err, "interceptor rejected instruction")

	b, err := l.GetBalance(ctx, recipient, usdc)
	require.NoError(t, err)
	assert.True(t, b.IsZero())
}

func TestExecute_IdempotencyKey(t *testing.T) {
	for _, policy := range []FailurePolicy{FailureIsolated, FailureAtomic} {
		t.Run(string(policy), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, policy)
			require.NoError(t, h.ledger.Deposit(ctx, owner, usdc, big.NewInt(5_000_000)))
			require.NoError(t, h.roundups.Register(ctx, owner, 0, vault, big.NewInt(1_000_000)))

			_, err := h.executor.Execute(ctx, owner, usdcTransfer(t, 900000), "req-1")
			require.NoError(t, err)
			replay, err := h.executor.Execute(ctx, owner, usdcTransfer(t, 900000), "req-1")
			require.NoError(t, err)
			assert.True(t, replay.Replayed)

			assert.Equal(t, "900000", h.balance(t, recipient, usdc))
			assert.Equal(t, "100000", h.balance(t, vault, usdc))
		})
	}
}

func TestCollect_SubscriptionScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, FailureIsolated)
	require.NoError(t, h.ledger.Deposit(ctx, owner, models.NativeAsset, big.NewInt(100)))
	require.NoError(t, h.subs.Subscribe(ctx, payee, owner, big.NewInt(10)))

	h.clock.Advance(4 * 7 * 24 * time.Hour)
	tx, err := h.executor.Collect(ctx, payee, owner, big.NewInt(10), "")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, "10", h.balance(t, payee, models.NativeAsset))
	assert.Equal(t, "90", h.balance(t, owner, models.NativeAsset))

	sub, err := h.subs.Subscription(ctx, payee, owner)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(subscription.DefaultAccrualInterval), sub.LastPaid)
	assert.Equal(t, []string{events.TypeSubscriptionCollected, events.TypeTransferCompleted}, h.publisher.Topics)

	_, err = h.executor.Collect(ctx, payee, owner, big.NewInt(10), "")
	assert.ErrorIs(t, err, subscription.ErrPrematureCollection)
	assert.Equal(t, "10", h.balance(t, payee, models.NativeAsset))
}

func TestCollect_InsufficientBalanceDoesNotRearm(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, FailureIsolated)
	require.NoError(t, h.subs.Subscribe(ctx, payee, owner, big.NewInt(10)))
	h.clock.Advance(subscription.DefaultAccrualInterval)

	_, err := h.executor.Collect(ctx, payee, owner, big.NewInt(10), "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	require.NoError(t, h.ledger.Deposit(ctx, owner, models.NativeAsset, big.NewInt(10)))
	_, err = h.executor.Collect(ctx, payee, owner, big.NewInt(10), "")
	require.NoError(t, err)
	assert.Equal(t, "10", h.balance(t, payee, models.NativeAsset))
}

func TestCollect_ReplayedKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, FailureIsolated)
	require.NoError(t, h.ledger.Deposit(ctx, owner, models.NativeAsset, big.NewInt(100)))
	require.NoError(t, h.subs.Subscribe(ctx, payee, owner, big.NewInt(10)))
	h.clock.Advance(subscription.DefaultAccrualInterval)

	first, err := h.executor.Collect(ctx, payee, owner, big.NewInt(10), "collect-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	replay, err := h.executor.Collect(ctx, payee, owner, big.NewInt(10), "collect-1")
	require.NoError(t, err)
	assert.Nil(t, replay)
	assert.Equal(t, "10", h.balance(t, payee, models.NativeAsset))
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("atomic")
	require.NoError(t, err)
	assert.Equal(t, FailureAtomic, p)

	_, err = ParseFailurePolicy("best-effort")
	assert.Error(t, err)
}

func TestExecute_PublishFailureDoesNotFailCommittedTransfer(t *testing.T) {
	ctx := context.Background()
	clock := testhelpers.NewFakeClock(t0)
	l := ledger.NewLedger(memory.NewMemoryLedgerStore(), clock)
	publisher := new(testhelpers.MockEventPublisher)
	publisher.On("Publish", events.TypeTransferCompleted, mock.Anything).Return(errors.New("broker down"))

	executor := NewExecutor(l, nil, publisher, clock, FailureIsolated)
	require.NoError(t, l.Deposit(ctx, owner, usdc, big.NewInt(1_000_000)))

	result, err := executor.Execute(ctx, owner, usdcTransfer(t, 900000), "")
	require.NoError(t, err)
	require.NotNil(t, result.Primary)

	b, err := l.GetBalance(ctx, recipient, usdc)
	require.NoError(t, err)
	assert.Equal(t, "900000", b.String())
	publisher.AssertNumberOfCalls(t, "Publish", 1)
}

// racingLedgerStore reports keys ending in racingSuffix as committed from
// the second lookup on, as if another request committed them between the
// executor's check and the ledger's own check under the account locks.
type racingLedgerStore struct {
	*memory.MemoryLedgerStore
	racingSuffix string
	mu           sync.Mutex
	lookups      map[string]int
}

func (s *racingLedgerStore) TransactionExists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups[key]++
	if strings.HasSuffix(key, s.racingSuffix) && s.lookups[key] > 1 {
		return true, nil
	}
	return s.MemoryLedgerStore.TransactionExists(ctx, key)
}

func TestCollect_KeyCommittedConcurrentlyKeepsInterval(t *testing.T) {
	ctx := context.Background()
	clock := testhelpers.NewFakeClock(t0)
	store := &racingLedgerStore{
		MemoryLedgerStore: memory.NewMemoryLedgerStore(),
		racingSuffix:      ":k",
		lookups:           map[string]int{},
	}
	l := ledger.NewLedger(store, clock)
	subs := subscription.NewLedger(memory.NewMemorySubscriptionStore(), clock, subscription.DefaultAccrualInterval)
	executor := NewExecutor(l, subs, &testhelpers.RecordingPublisher{}, clock, FailureIsolated)

	require.NoError(t, l.Deposit(ctx, owner, models.NativeAsset, big.NewInt(100)))
	require.NoError(t, subs.Subscribe(ctx, payee, owner, big.NewInt(10)))
	clock.Advance(subscription.DefaultAccrualInterval)

	tx, err := executor.Collect(ctx, payee, owner, big.NewInt(10), "k")
	require.NoError(t, err)
	assert.Nil(t, tx)

	sub, err := subs.Subscription(ctx, payee, owner)
	require.NoError(t, err)
	assert.True(t, sub.LastPaid.Equal(t0), "LastPaid moved to %s without a payment", sub.LastPaid)

	b, err := l.GetBalance(ctx, payee, models.NativeAsset)
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	// the period is still collectable under a fresh key
	tx, err = executor.Collect(ctx, payee, owner, big.NewInt(10), "k2")
	require.NoError(t, err)
	require.NotNil(t, tx)
	b, err = l.GetBalance(ctx, payee, models.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, "10", b.String())
}

func TestCollect_KeysAreScopedToPayeeAndAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, FailureIsolated)
	otherPayee := common.HexToAddress("0x6000000000000000000000000000000000000006")

	require.NoError(t, h.ledger.Deposit(ctx, owner, models.NativeAsset, big.NewInt(100)))
	require.NoError(t, h.subs.Subscribe(ctx, payee, owner, big.NewInt(10)))
	require.NoError(t, h.subs.Subscribe(ctx, otherPayee, owner, big.NewInt(7)))
	h.clock.Advance(subscription.DefaultAccrualInterval)

	first, err := h.executor.Collect(ctx, payee, owner, big.NewInt(10), "monthly")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := h.executor.Collect(ctx, otherPayee, owner, big.NewInt(7), "monthly")
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, "10", h.balance(t, payee, models.NativeAsset))
	assert.Equal(t, "7", h.balance(t, otherPayee, models.NativeAsset))

	replay, err := h.executor.Collect(ctx, payee, owner, big.NewInt(10), "monthly")
	require.NoError(t, err)
	assert.Nil(t, replay)
}

func TestExecute_KeysAreScopedToAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, FailureIsolated)
	other := common.HexToAddress("0x7000000000000000000000000000000000000007")

	require.NoError(t, h.ledger.Deposit(ctx, owner, usdc, big.NewInt(1_000_000)))
	require.NoError(t, h.ledger.Deposit(ctx, other, usdc, big.NewInt(1_000_000)))

	first, err := h.executor.Execute(ctx, owner, usdcTransfer(t, 300000), "pay-1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := h.executor.Execute(ctx, other, usdcTransfer(t, 300000), "pay-1")
	require.NoError(t, err)
	assert.False(t, second.Replayed)

	assert.Equal(t, "600000", h.balance(t, recipient, usdc))
}
