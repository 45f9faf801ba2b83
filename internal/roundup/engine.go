// Package roundup implements the round-up savings policy: given the
// instruction an account is about to execute, it proposes a separate transfer
// of the difference between the transfer amount and the next multiple of the
// configured unit to the account's savings destination.
package roundup

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/calldata"
	interfaces "github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
	log "github.com/sirupsen/logrus"
)

// PrimarySlot is the slot consulted under SlotPolicyPrimary.
const PrimarySlot uint64 = 0

// SlotPolicy selects which automations Intercept consults.
type SlotPolicy string

const (
	// SlotPolicyPrimary consults only PrimarySlot.
	SlotPolicyPrimary SlotPolicy = "primary"
	// SlotPolicyAll consults every enabled slot in ascending order.
	SlotPolicyAll SlotPolicy = "all"
)

func ParseSlotPolicy(s string) (SlotPolicy, error) {
	switch p := SlotPolicy(s); p {
	case SlotPolicyPrimary, SlotPolicyAll:
		return p, nil
	}
	return "", fmt.Errorf("unknown round-up slot policy %q", s)
}

var ErrNoAutomation = errors.New("no round-up automation at slot")

// Engine owns the round-up automation table.
type Engine struct {
	store  interfaces.AutomationStore
	policy SlotPolicy
}

func NewEngine(store interfaces.AutomationStore, policy SlotPolicy) *Engine {
	if policy == "" {
		policy = SlotPolicyPrimary
	}
	return &Engine{store: store, policy: policy}
}

// Register creates or replaces the automation at slot. The unit is not
// validated here; a non-positive unit makes the automation inert.
func (e *Engine) Register(ctx context.Context, account common.Address, slot uint64, destination common.Address, unit *big.Int) error {
	automation := models.RoundUpAutomation{
		Account:            account,
		Slot:               slot,
		SavingsDestination: destination,
		RoundUpUnit:        new(big.Int),
		Enabled:            true,
	}
	if unit != nil {
		automation.RoundUpUnit.Set(unit)
	}

	if err := e.store.PutAutomation(ctx, automation); err != nil {
		return fmt.Errorf("failed to store round-up automation: %w", err)
	}

	log.WithFields(log.Fields{
		"account":     account.Hex(),
		"slot":        slot,
		"destination": destination.Hex(),
		"unit":        automation.RoundUpUnit.String(),
	}).Debug("Round-up automation registered")
	return nil
}

// SetEnabled toggles an existing automation.
func (e *Engine) SetEnabled(ctx context.Context, account common.Address, slot uint64, enabled bool) error {
	automation, err := e.store.GetAutomation(ctx, account, slot)
	if err != nil {
		return fmt.Errorf("failed to load round-up automation: %w", err)
	}
	if automation == nil {
		return fmt.Errorf("%w %d", ErrNoAutomation, slot)
	}

	automation.Enabled = enabled
	if err := e.store.PutAutomation(ctx, *automation); err != nil {
		return fmt.Errorf("failed to store round-up automation: %w", err)
	}
	return nil
}

// Automation returns the automation at slot, or nil if none is registered.
func (e *Engine) Automation(ctx context.Context, account common.Address, slot uint64) (*models.RoundUpAutomation, error) {
	return e.store.GetAutomation(ctx, account, slot)
}

func (e *Engine) Automations(ctx context.Context, account common.Address) ([]models.RoundUpAutomation, error) {
	return e.store.ListAutomations(ctx, account)
}

func (e *Engine) candidates(ctx context.Context, account common.Address) ([]models.RoundUpAutomation, error) {
	var all []models.RoundUpAutomation
	switch e.policy {
	case SlotPolicyAll:
		list, err := e.store.ListAutomations(ctx, account)
		if err != nil {
			return nil, err
		}
		all = list
	default:
		a, err := e.store.GetAutomation(ctx, account, PrimarySlot)
		if err != nil {
			return nil, err
		}
		if a != nil {
			all = append(all, *a)
		}
	}

	active := all[:0]
	for i := range all {
		if all[i].Active() {
			active = append(active, all[i])
		}
	}
	return active, nil
}

// Intercept inspects the instruction account is about to execute and returns
// the savings transfers to run before it. It returns no transfers when no
// automation is active, when the instruction is not a wrapped token transfer,
// or when the amount is already a multiple of the unit. The primary transfer
// is never modified.
func (e *Engine) Intercept(ctx context.Context, account common.Address, payload []byte) ([]models.SecondaryTransfer, error) {
	automations, err := e.candidates(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to load round-up automations: %w", err)
	}
	if len(automations) == 0 {
		return nil, nil
	}

	ins, err := calldata.Decode(payload)
	if err != nil {
		return nil, err
	}
	exec, ok := ins.(calldata.Execute)
	if !ok {
		return nil, nil
	}
	call, err := exec.Call()
	if err != nil {
		return nil, err
	}
	transfer, ok := call.(calldata.TransferCall)
	if !ok {
		return nil, nil
	}

	var out []models.SecondaryTransfer
	for _, a := range automations {
		savings := Savings(transfer.Amount, a.RoundUpUnit)
		if savings.Sign() == 0 {
			continue
		}
		out = append(out, models.SecondaryTransfer{
			Slot:           a.Slot,
			TransferAmount: new(big.Int).Set(transfer.Amount),
			Instruction: models.TransferInstruction{
				Asset:  exec.Target,
				From:   account,
				To:     a.SavingsDestination,
				Amount: savings,
			},
		})
	}

	log.WithFields(log.Fields{
		"account":   account.Hex(),
		"token":     exec.Target.Hex(),
		"amount":    transfer.Amount.String(),
		"secondary": len(out),
	}).Debug("Transfer intercepted")
	return out, nil
}
