// Package hooks implements the Hook Validator Registry (C3): per-hook-type
// decoding and semantic validation of hookData against a hookAmount budget.
package hooks

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	errMalformedRecipients = errors.New("hooks: malformed recipients array")
	errMalformedAmounts    = errors.New("hooks: malformed amounts array")
)

// Result is a validator's verdict, matching §4.3's {isValid, errorReason?}.
type Result struct {
	IsValid     bool
	ErrorReason string
}

func invalid(reason string) Result { return Result{IsValid: false, ErrorReason: reason} }

var valid = Result{IsValid: true}

// Validator decodes and validates hookData for one hook type.
type Validator func(network string, hookAddress common.Address, hookData []byte, hookAmount *big.Int) Result

// Kind names the built-in hook types this spec requires validators for.
type Kind string

const (
	KindTransfer     Kind = "transfer"
	KindRevenueSplit Kind = "revenue_split"
	KindNFTMint      Kind = "nft_mint"
	KindReward       Kind = "reward"
)

// Registry maps a per-network hook address to its validator. Addresses not
// present are "deferred to gas estimation" (§4.3) — not rejected here.
type Registry struct {
	validators map[string]Validator // network|hookAddress -> Validator
}

// New builds an empty registry; call RegisterBuiltins once per network to
// wire that network's built-in hook addresses (kind -> address, matching
// NetworkConfig.BuiltinHookAddresses) to their validators.
func New() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// RegisterBuiltins wires every kind present in addressesByKind for the given
// network to its corresponding built-in Validator.
func (r *Registry) RegisterBuiltins(network string, addressesByKind map[string]common.Address) {
	builtins := map[Kind]Validator{
		KindTransfer:     ValidateTransferHook,
		KindRevenueSplit: ValidateRevenueSplitHook,
		KindNFTMint:      ValidateNFTMintHook,
		KindReward:       ValidateRewardHook,
	}
	for kindStr, addr := range addressesByKind {
		if v, ok := builtins[Kind(kindStr)]; ok {
			r.register(network, addr, v)
		}
	}
}

func (r *Registry) register(network string, addr common.Address, v Validator) {
	r.validators[key(network, addr)] = v
}

func key(network string, addr common.Address) string {
	return strings.ToLower(network) + "|" + strings.ToLower(addr.Hex())
}

// Lookup returns the validator registered for (network, hookAddress), and
// false if the address is unknown (custom hook, deferred to §4.4).
func (r *Registry) Lookup(network string, hookAddress common.Address) (Validator, bool) {
	v, ok := r.validators[key(network, hookAddress)]
	return v, ok
}

// IsBuiltin reports whether hookAddress has a registered validator on
// network — used by the hook whitelist check (§9 open question #2).
func (r *Registry) IsBuiltin(network string, hookAddress common.Address) bool {
	_, ok := r.Lookup(network, hookAddress)
	return ok
}

var transferHookArgTypes = func() abi.Arguments {
	addressesTy, _ := abi.NewType("address[]", "", nil)
	amountsTy, _ := abi.NewType("uint256[]", "", nil)
	return abi.Arguments{{Type: addressesTy}, {Type: amountsTy}}
}()

// ValidateTransferHook implements §4.3's Transfer hook: empty hookData means
// a single transfer of the whole hook amount; otherwise hookData decodes to
// (address[] recipients, uint256[] amounts) with conservation against
// hookAmount.
func ValidateTransferHook(network string, hookAddress common.Address, hookData []byte, hookAmount *big.Int) Result {
	if len(hookData) == 0 {
		return valid
	}

	recipients, amounts, err := DecodeTransferHookData(hookData)
	if err != nil {
		return invalid("malformed transfer hook data")
	}

	if len(recipients) != len(amounts) {
		return invalid("recipients and amounts length mismatch")
	}
	if len(recipients) == 0 {
		return invalid("transfer hook requires at least one recipient")
	}

	sum := new(big.Int)
	for i, recipient := range recipients {
		if recipient == (common.Address{}) {
			return invalid("recipient must be a non-zero address")
		}
		amount := amounts[i]
		if amount == nil || amount.Sign() <= 0 {
			return invalid("amount must be strictly positive")
		}
		sum.Add(sum, amount)
	}

	if sum.Cmp(hookAmount) != 0 {
		return invalid("Total transfer amount mismatch")
	}
	return valid
}

// ValidateRevenueSplitHook decodes the same (recipients, amounts) shape as
// the transfer hook — a revenue split is a transfer with more than one
// recipient by convention — and applies the same conservation check.
func ValidateRevenueSplitHook(network string, hookAddress common.Address, hookData []byte, hookAmount *big.Int) Result {
	result := ValidateTransferHook(network, hookAddress, hookData, hookAmount)
	if result.IsValid && len(hookData) == 0 {
		return invalid("revenue split hook requires explicit recipients")
	}
	return result
}

var nftMintArgTypes = func() abi.Arguments {
	addressTy, _ := abi.NewType("address", "", nil)
	uintTy, _ := abi.NewType("uint256", "", nil)
	return abi.Arguments{{Type: addressTy}, {Type: uintTy}}
}()

// ValidateNFTMintHook decodes (address recipient, uint256 price) and checks
// price equals hookAmount exactly (conservation for a single-item sale).
func ValidateNFTMintHook(network string, hookAddress common.Address, hookData []byte, hookAmount *big.Int) Result {
	values, err := nftMintArgTypes.Unpack(hookData)
	if err != nil {
		return invalid("malformed nft mint hook data")
	}
	recipient, ok := values[0].(common.Address)
	if !ok || recipient == (common.Address{}) {
		return invalid("recipient must be a non-zero address")
	}
	price, ok := values[1].(*big.Int)
	if !ok || price == nil {
		return invalid("malformed price")
	}
	if price.Cmp(hookAmount) != 0 {
		return invalid("mint price must equal hook amount")
	}
	return valid
}

var rewardArgTypes = func() abi.Arguments {
	addressTy, _ := abi.NewType("address", "", nil)
	uintTy, _ := abi.NewType("uint256", "", nil)
	return abi.Arguments{{Type: addressTy}, {Type: uintTy}}
}()

// ValidateRewardHook decodes (address beneficiary, uint256 amount) and
// checks amount equals hookAmount exactly.
func ValidateRewardHook(network string, hookAddress common.Address, hookData []byte, hookAmount *big.Int) Result {
	values, err := rewardArgTypes.Unpack(hookData)
	if err != nil {
		return invalid("malformed reward hook data")
	}
	beneficiary, ok := values[0].(common.Address)
	if !ok || beneficiary == (common.Address{}) {
		return invalid("beneficiary must be a non-zero address")
	}
	amount, ok := values[1].(*big.Int)
	if !ok || amount == nil {
		return invalid("malformed reward amount")
	}
	if amount.Cmp(hookAmount) != 0 {
		return invalid("reward amount must equal hook amount")
	}
	return valid
}

// DecodeTransferHookData unpacks a non-empty transfer-hook payload into its
// (recipients, amounts) pair without applying any semantic validation.
func DecodeTransferHookData(hookData []byte) ([]common.Address, []*big.Int, error) {
	values, err := transferHookArgTypes.Unpack(hookData)
	if err != nil {
		return nil, nil, err
	}
	recipients, ok := values[0].([]common.Address)
	if !ok {
		return nil, nil, errMalformedRecipients
	}
	amounts, ok := values[1].([]*big.Int)
	if !ok {
		return nil, nil, errMalformedAmounts
	}
	return recipients, amounts, nil
}

// EncodeTransferHookData ABI-encodes a (recipients, amounts) pair, the
// inverse of ValidateTransferHook's decode step — used by tests and by
// /calculate-fee style tooling that needs to round-trip hookData.
func EncodeTransferHookData(recipients []common.Address, amounts []*big.Int) ([]byte, error) {
	return transferHookArgTypes.Pack(recipients, amounts)
}
