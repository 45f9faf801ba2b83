// Package subscription tracks recurring pull payments: a payee registers a
// periodic native-currency amount against an account and may collect it once
// per accrual interval.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	interfaces "github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
	log "github.com/sirupsen/logrus"
)

// DefaultAccrualInterval is four weeks.
const DefaultAccrualInterval = 4 * 7 * 24 * time.Hour

var (
	ErrPrematureCollection           = errors.New("premature collection: accrual interval has not elapsed")
	ErrUnknownOrDisabledSubscription = errors.New("unknown or disabled subscription")
	ErrNegativeAmount                = errors.New("subscription amount must not be negative")
)

// ApplyFunc executes a collection transfer. Collection commits only if it returns nil.
type ApplyFunc func(ctx context.Context, instruction models.TransferInstruction) error

// Ledger owns the subscription table.
type Ledger struct {
	store    interfaces.SubscriptionStore
	clock    interfaces.Clock
	interval time.Duration

	mapMu sync.Mutex
	muMap map[[2]common.Address]*sync.Mutex
}

func NewLedger(store interfaces.SubscriptionStore, clock interfaces.Clock, interval time.Duration) *Ledger {
	if interval <= 0 {
		interval = DefaultAccrualInterval
	}
	return &Ledger{
		store:    store,
		clock:    clock,
		interval: interval,
		muMap:    make(map[[2]common.Address]*sync.Mutex),
	}
}

// Interval returns the accrual interval.
func (l *Ledger) Interval() time.Duration {
	return l.interval
}

func (l *Ledger) pairLock(payee, account common.Address) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	key := [2]common.Address{payee, account}
	if _, exists := l.muMap[key]; !exists {
		l.muMap[key] = &sync.Mutex{}
	}
	return l.muMap[key]
}

// Subscribe creates or replaces the (payee, account) subscription and starts
// its accrual interval now. The caller is trusted to be authorized by account.
func (l *Ledger) Subscribe(ctx context.Context, payee, account common.Address, amount *big.Int) error {
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	mu := l.pairLock(payee, account)
	mu.Lock()
	defer mu.Unlock()

	sub := models.Subscription{
		Payee:    payee,
		Account:  account,
		Amount:   new(big.Int).Set(amount),
		LastPaid: l.clock.Now(),
		Enabled:  true,
	}
	if err := l.store.PutSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}

	log.WithFields(log.Fields{
		"payee":   payee.Hex(),
		"account": account.Hex(),
		"amount":  amount.String(),
	}).Debug("Subscription registered")
	return nil
}

// Cancel disables the subscription. Subscribe re-arms it.
func (l *Ledger) Cancel(ctx context.Context, payee, account common.Address) error {
	mu := l.pairLock(payee, account)
	mu.Lock()
	defer mu.Unlock()

	sub, err := l.store.GetSubscription(ctx, payee, account)
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil || !sub.Enabled {
		return ErrUnknownOrDisabledSubscription
	}

	sub.Enabled = false
	if err := l.store.PutSubscription(ctx, *sub); err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}
	return nil
}

// Subscription returns the stored record, or nil.
func (l *Ledger) Subscription(ctx context.Context, payee, account common.Address) (*models.Subscription, error) {
	return l.store.GetSubscription(ctx, payee, account)
}

// CheckCollect reports whether payee may collect amount from account now,
// without changing any state.
func (l *Ledger) CheckCollect(ctx context.Context, payee, account common.Address, amount *big.Int) error {
	_, err := l.eligible(ctx, payee, account, amount, l.clock.Now())
	return err
}

func (l *Ledger) eligible(ctx context.Context, payee, account common.Address, amount *big.Int, now time.Time) (*models.Subscription, error) {
	sub, err := l.store.GetSubscription(ctx, payee, account)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil || !sub.Enabled || amount == nil || sub.Amount.Cmp(amount) != 0 {
		return nil, ErrUnknownOrDisabledSubscription
	}
	if now.Sub(sub.LastPaid) < l.interval {
		return nil, fmt.Errorf("%w: next collection at %s", ErrPrematureCollection, sub.LastPaid.Add(l.interval).Format(time.RFC3339))
	}
	return sub, nil
}

// Collect is CollectWith without an apply step: the returned instruction is
// the caller's to execute.
func (l *Ledger) Collect(ctx context.Context, payee, account common.Address, amount *big.Int) (models.TransferInstruction, error) {
	return l.CollectWith(ctx, payee, account, amount, nil)
}

// CollectWith checks that payee may collect amount from account, runs apply
// on the resulting native transfer and then advances LastPaid to now. If apply
// fails nothing is recorded and the error is returned.
func (l *Ledger) CollectWith(ctx context.Context, payee, account common.Address, amount *big.Int, apply ApplyFunc) (models.TransferInstruction, error) {
	mu := l.pairLock(payee, account)
	mu.Lock()
	defer mu.Unlock()

	now := l.clock.Now()
	sub, err := l.eligible(ctx, payee, account, amount, now)
	if err != nil {
		return models.TransferInstruction{}, err
	}

	instruction := models.TransferInstruction{
		Asset:  models.NativeAsset,
		From:   account,
		To:     payee,
		Amount: new(big.Int).Set(sub.Amount),
	}
	if apply != nil {
		if err := apply(ctx, instruction); err != nil {
			return models.TransferInstruction{}, err
		}
	}

	sub.LastPaid = now
	if err := l.store.PutSubscription(ctx, *sub); err != nil {
		return models.TransferInstruction{}, fmt.Errorf("failed to store subscription: %w", err)
	}

	log.WithFields(log.Fields{
		"payee":    payee.Hex(),
		"account":  account.Hex(),
		"amount":   sub.Amount.String(),
		"lastPaid": now.Format(time.RFC3339),
	}).Debug("Subscription collected")
	return instruction, nil
}
