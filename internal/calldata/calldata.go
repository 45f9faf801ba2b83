// Package calldata decodes the encoded instructions an account executes.
//
// Two shapes are recognized. The outer instruction is an
// execute(address,uint256,bytes) call carrying the target, the native value
// and an inner call. The inner call is recognized when it is an ERC-20
// transfer(address,uint256). Anything else decodes to Other or OtherCall so
// callers can ignore it; shapes that claim a known selector but do not fit it
// fail with ErrMalformedInstructionPayload.
package calldata

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// SchemaVersion is bumped whenever the recognized instruction shapes change.
const SchemaVersion = 1

const (
	selectorLen     = 4
	transferCallLen = selectorLen + 2*32
)

var ErrMalformedInstructionPayload = errors.New("malformed instruction payload")

type Selector [selectorLen]byte

func (s Selector) String() string {
	return fmt.Sprintf("0x%x", s[:])
}

func selectorOf(signature string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(signature))[:selectorLen])
	return s
}

var (
	ExecuteSelector  = selectorOf("execute(address,uint256,bytes)")
	TransferSelector = selectorOf("transfer(address,uint256)")
)

var (
	addressType = mustType("address")
	uint256Type = mustType("uint256")
	bytesType   = mustType("bytes")

	executeArgs  = abi.Arguments{{Type: addressType}, {Type: uint256Type}, {Type: bytesType}}
	transferArgs = abi.Arguments{{Type: addressType}, {Type: uint256Type}}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Instruction is an outer instruction: Execute or Other.
type Instruction interface {
	isInstruction()
}

// Execute is an execute(target, value, innerCall) instruction.
type Execute struct {
	Target    common.Address
	Value     *big.Int
	InnerCall []byte
}

// Other is any outer instruction that is not an execute call.
type Other struct {
	Selector Selector
	Data     []byte
}

func (Execute) isInstruction() {}
func (Other) isInstruction()   {}

// Call decodes the inner call carried by the execute instruction.
func (e Execute) Call() (Call, error) {
	return DecodeCall(e.InnerCall)
}

// Call is an inner call: TransferCall or OtherCall.
type Call interface {
	isCall()
}

// TransferCall is transfer(recipient, amount) addressed to a token contract.
type TransferCall struct {
	Recipient common.Address
	Amount    *big.Int
}

// OtherCall is any inner call that is not a token transfer.
type OtherCall struct {
	Selector Selector
	Data     []byte
}

func (TransferCall) isCall() {}
func (OtherCall) isCall()    {}

func readSelector(payload []byte) (Selector, error) {
	var s Selector
	if len(payload) < selectorLen {
		return s, fmt.Errorf("%w: %d bytes is shorter than a selector", ErrMalformedInstructionPayload, len(payload))
	}
	copy(s[:], payload[:selectorLen])
	return s, nil
}

// Decode decodes an outer instruction payload.
func Decode(payload []byte) (Instruction, error) {
	sel, err := readSelector(payload)
	if err != nil {
		return nil, err
	}
	if sel != ExecuteSelector {
		return Other{Selector: sel, Data: payload[selectorLen:]}, nil
	}

	values, err := executeArgs.Unpack(payload[selectorLen:])
	if err != nil {
		return nil, fmt.Errorf("%w: execute: %v", ErrMalformedInstructionPayload, err)
	}
	target, ok1 := values[0].(common.Address)
	value, ok2 := values[1].(*big.Int)
	inner, ok3 := values[2].([]byte)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%w: execute: unexpected argument types", ErrMalformedInstructionPayload)
	}

	return Execute{Target: target, Value: value, InnerCall: inner}, nil
}

// DecodeCall decodes an inner call payload.
func DecodeCall(data []byte) (Call, error) {
	// plain value send
	if len(data) == 0 {
		return OtherCall{}, nil
	}
	sel, err := readSelector(data)
	if err != nil {
		return nil, err
	}
	if sel != TransferSelector {
		return OtherCall{Selector: sel, Data: data[selectorLen:]}, nil
	}
	if len(data) != transferCallLen {
		return nil, fmt.Errorf("%w: transfer call is %d bytes, want %d", ErrMalformedInstructionPayload, len(data), transferCallLen)
	}

	values, err := transferArgs.Unpack(data[selectorLen:])
	if err != nil {
		return nil, fmt.Errorf("%w: transfer: %v", ErrMalformedInstructionPayload, err)
	}
	recipient, ok1 := values[0].(common.Address)
	amount, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: transfer: unexpected argument types", ErrMalformedInstructionPayload)
	}

	return TransferCall{Recipient: recipient, Amount: amount}, nil
}

func checkUint256(name string, v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.Cmp(math.MaxBig256) > 0 {
		return fmt.Errorf("%s %v is not a uint256", name, v)
	}
	return nil
}

// EncodeExecute builds execute(target, value, inner) calldata.
func EncodeExecute(target common.Address, value *big.Int, inner []byte) ([]byte, error) {
	if err := checkUint256("value", value); err != nil {
		return nil, err
	}
	packed, err := executeArgs.Pack(target, value, inner)
	if err != nil {
		return nil, err
	}
	return append(ExecuteSelector[:], packed...), nil
}

// EncodeTransfer builds transfer(recipient, amount) calldata.
func EncodeTransfer(recipient common.Address, amount *big.Int) ([]byte, error) {
	if err := checkUint256("amount", amount); err != nil {
		return nil, err
	}
	packed, err := transferArgs.Pack(recipient, amount)
	if err != nil {
		return nil, err
	}
	return append(TransferSelector[:], packed...), nil
}

// EncodeTokenTransfer wraps a token transfer in an execute instruction.
func EncodeTokenTransfer(token, recipient common.Address, amount *big.Int) ([]byte, error) {
	inner, err := EncodeTransfer(recipient, amount)
	if err != nil {
		return nil, err
	}
	return EncodeExecute(token, new(big.Int), inner)
}
