// Package account is the host side of the savings layer: it executes the
// instructions an account submits, running interceptors before the primary
// transfer and applying what they propose according to a failure policy.
package account

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/calldata"
	interfaces "github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/ledger"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models/events"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/subscription"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// FailurePolicy decides what happens to the primary transfer when a
// secondary transfer cannot be applied.
type FailurePolicy string

const (
	// FailureIsolated tries secondaries and primary together and, if that
	// fails, applies the primary alone. Savings never block the primary.
	FailureIsolated FailurePolicy = "isolated"
	// FailureAtomic applies secondaries and the primary as one batch.
	FailureAtomic FailurePolicy = "atomic"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case FailureIsolated, FailureAtomic:
		return p, nil
	}
	return "", fmt.Errorf("unknown secondary failure policy %q", s)
}

var ErrUnsupportedInstruction = errors.New("instruction does not move value")

// Interceptor is consulted synchronously before a primary transfer commits.
// It only describes additional transfers; the Executor applies them.
type Interceptor interface {
	Intercept(ctx context.Context, account common.Address, payload []byte) ([]models.SecondaryTransfer, error)
}

// FailedTransfer is a secondary transfer that was dropped under FailureIsolated.
type FailedTransfer struct {
	Transfer models.SecondaryTransfer
	Err      error
}

// Result describes what Execute committed.
type Result struct {
	Primary   *models.Transaction
	Secondary []models.Transaction
	Failed    []FailedTransfer
	Replayed  bool
}

type Executor struct {
	ledger        *ledger.Ledger
	subscriptions *subscription.Ledger
	interceptors  []Interceptor
	publisher     interfaces.EventPublisher
	clock         interfaces.Clock
	policy        FailurePolicy
}

func NewExecutor(l *ledger.Ledger, subscriptions *subscription.Ledger, publisher interfaces.EventPublisher,
	clock interfaces.Clock, policy FailurePolicy, interceptors ...Interceptor) *Executor {
	if policy == "" {
		policy = FailureIsolated
	}
	return &Executor{
		ledger:        l,
		subscriptions: subscriptions,
		interceptors:  interceptors,
		publisher:     publisher,
		clock:         clock,
		policy:        policy,
	}
}

// PrimaryInstruction derives the value movement an encoded instruction performs:
// a wrapped token transfer, or a plain native-value send with no inner call.
func PrimaryInstruction(account common.Address, payload []byte) (models.TransferInstruction, error) {
	ins, err := calldata.Decode(payload)
	if err != nil {
		return models.TransferInstruction{}, err
	}
	exec, ok := ins.(calldata.Execute)
	if !ok {
		return models.TransferInstruction{}, ErrUnsupportedInstruction
	}

	call, err := exec.Call()
	if err != nil {
		return models.TransferInstruction{}, err
	}
	switch c := call.(type) {
	case calldata.TransferCall:
		if exec.Value.Sign() != 0 {
			return models.TransferInstruction{}, fmt.Errorf("%w: token transfer carrying native value", ErrUnsupportedInstruction)
		}
		return models.TransferInstruction{Asset: exec.Target, From: account, To: c.Recipient, Amount: c.Amount}, nil
	case calldata.OtherCall:
		if len(exec.InnerCall) == 0 {
			return models.TransferInstruction{Asset: models.NativeAsset, From: account, To: exec.Target, Amount: exec.Value}, nil
		}
	}
	return models.TransferInstruction{}, ErrUnsupportedInstruction
}

// Execute runs the interceptors against payload, then applies their secondary
// transfers and the primary transfer according to the failure policy.
func (x *Executor) Execute(ctx context.Context, account common.Address, payload []byte, idempotencyKey string) (*Result, error) {
	idempotencyKey = scopedKey(idempotencyKey, "execute", account)
	applied, err := x.ledger.Applied(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if applied {
		return &Result{Replayed: true}, nil
	}

	primary, err := PrimaryInstruction(account, payload)
	if err != nil {
		return nil, err
	}

	var secondary []models.SecondaryTransfer
	for _, interceptor := range x.interceptors {
		proposed, err := interceptor.Intercept(ctx, account, payload)
		if err != nil {
			return nil, fmt.Errorf("interceptor rejected instruction: %w", err)
		}
		secondary = append(secondary, proposed...)
	}

	var result *Result
	if x.policy == FailureAtomic {
		result, err = x.applyAtomic(ctx, primary, secondary, idempotencyKey)
	} else {
		result, err = x.applyIsolated(ctx, primary, secondary, idempotencyKey)
	}
	if err != nil {
		return nil, err
	}

	x.publishResult(account, secondary, result)
	return result, nil
}

func (x *Executor) applyAtomic(ctx context.Context, primary models.TransferInstruction, secondary []models.SecondaryTransfer, key string) (*Result, error) {
	batch := make([]models.TransferInstruction, 0, len(secondary)+1)
	for _, s := range secondary {
		batch = append(batch, s.Instruction)
	}
	batch = append(batch, primary)

	txs, err := x.ledger.ApplyBatch(ctx, batch, key)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return &Result{Replayed: true}, nil
	}

	return &Result{
		Primary:   &txs[len(txs)-1],
		Secondary: txs[:len(txs)-1],
	}, nil
}

func (x *Executor) applyIsolated(ctx context.Context, primary models.TransferInstruction, secondary []models.SecondaryTransfer, key string) (*Result, error) {
	result, err := x.applyAtomic(ctx, primary, secondary, key)
	if err == nil || len(secondary) == 0 {
		return result, err
	}

	log.WithFields(log.Fields{
		"account":   primary.From.Hex(),
		"secondary": len(secondary),
		"error":     err,
	}).Warn("Savings transfers failed, applying primary transfer alone")

	tx, primaryErr := x.ledger.Apply(ctx, primary, key)
	if primaryErr != nil {
		return nil, primaryErr
	}

	result = &Result{Primary: tx, Replayed: tx == nil}
	for _, s := range secondary {
		result.Failed = append(result.Failed, FailedTransfer{Transfer: s, Err: err})
	}
	return result, nil
}

// Collect lets payee pull its subscription amount from account. The
// subscription's interval only re-arms if the ledger transfer succeeds.
// A replayed idempotency key returns (nil, nil).
func (x *Executor) Collect(ctx context.Context, payee, account common.Address, amount *big.Int, idempotencyKey string) (*models.Transaction, error) {
	idempotencyKey = scopedKey(idempotencyKey, "collect", payee, account)
	applied, err := x.ledger.Applied(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if applied {
		return nil, nil
	}

	var tx *models.Transaction
	_, err = x.subscriptions.CollectWith(ctx, payee, account, amount, func(ctx context.Context, in models.TransferInstruction) error {
		var applyErr error
		tx, applyErr = x.ledger.Apply(ctx, in, idempotencyKey)
		if applyErr == nil && tx == nil {
			// committed by a concurrent request; LastPaid must stay put
			return ledger.ErrAlreadyApplied
		}
		return applyErr
	})
	if errors.Is(err, ledger.ErrAlreadyApplied) {
		log.WithFields(log.Fields{
			"payee":   payee.Hex(),
			"account": account.Hex(),
		}).Info("Subscription collection already applied")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"payee":   payee.Hex(),
		"account": account.Hex(),
		"amount":  amount.String(),
	}).Info("Subscription collected")

	if tx != nil {
		x.publish(events.TypeSubscriptionCollected, events.SubscriptionCollected{
			EventID:    uuid.New().String(),
			Payee:      payee.Hex(),
			Account:    account.Hex(),
			Amount:     decimal.NewFromBigInt(tx.Amount, 0),
			OccurredAt: tx.CreatedAt,
		})
		x.publishTransfer(*tx)
	}
	return tx, nil
}

func (x *Executor) publishResult(account common.Address, proposed []models.SecondaryTransfer, result *Result) {
	if result.Primary == nil {
		return
	}

	failed := make(map[uint64]bool, len(result.Failed))
	for _, f := range result.Failed {
		failed[f.Transfer.Slot] = true
		x.publish(events.TypeRoundUpFailed, events.RoundUpFailed{
			EventID:       uuid.New().String(),
			Account:       account.Hex(),
			Slot:          f.Transfer.Slot,
			SavingsAmount: decimal.NewFromBigInt(f.Transfer.Instruction.Amount, 0),
			Reason:        f.Err.Error(),
			OccurredAt:    x.clock.Now(),
		})
	}

	for _, s := range proposed {
		if failed[s.Slot] {
			continue
		}
		x.publish(events.TypeRoundUpApplied, events.RoundUpApplied{
			EventID:            uuid.New().String(),
			Account:            account.Hex(),
			Slot:               s.Slot,
			Asset:              s.Instruction.Asset.Hex(),
			SavingsDestination: s.Instruction.To.Hex(),
			TransferAmount:     decimal.NewFromBigInt(s.TransferAmount, 0),
			SavingsAmount:      decimal.NewFromBigInt(s.Instruction.Amount, 0),
			OccurredAt:         result.Primary.CreatedAt,
		})
	}

	for _, tx := range result.Secondary {
		x.publishTransfer(tx)
	}
	x.publishTransfer(*result.Primary)
}

func (x *Executor) publishTransfer(tx models.Transaction) {
	x.publish(events.TypeTransferCompleted, events.TransferCompleted{
		EventID:       uuid.New().String(),
		TransactionID: tx.ID,
		Asset:         tx.Asset.Hex(),
		FromAccount:   tx.FromAccount.Hex(),
		ToAccount:     tx.ToAccount.Hex(),
		Amount:        decimal.NewFromBigInt(tx.Amount, 0),
		OccurredAt:    tx.CreatedAt,
	})
}

// publish never fails the caller: the ledger has already committed.
func (x *Executor) publish(eventType string, event any) {
	if x.publisher == nil {
		return
	}
	if err := x.publisher.Publish(eventType, event); err != nil {
		log.WithFields(log.Fields{
			"eventType": eventType,
			"error":     err,
		}).Error("Failed to publish event")
	}
}

// scopedKey ties a caller's idempotency key to the operation and the parties
// it acts for, so the same key sent for another account is a new request.
func scopedKey(key, op string, parties ...common.Address) string {
	if key == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(op)
	for _, p := range parties {
		b.WriteByte(':')
		b.WriteString(p.Hex())
	}
	b.WriteByte(':')
	b.WriteString(key)
	return b.String()
}
