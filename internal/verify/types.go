// Package verify implements the Verification Pipeline (C8): the ordered,
// short-circuiting checks that decide whether a payment intent is valid.
package verify

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reason enumerates §7's Validation error taxonomy, as returned by the
// pipeline in invalidReason.
type Reason string

const (
	ReasonSchemeMismatch          Reason = "SCHEME_MISMATCH"
	ReasonUnsupportedNetwork      Reason = "UNSUPPORTED_NETWORK"
	ReasonNetworkMismatch         Reason = "NETWORK_MISMATCH"
	ReasonUnsupportedToken        Reason = "UNSUPPORTED_TOKEN"
	ReasonDecodingError           Reason = "DECODING_ERROR"
	ReasonInvalidAddress          Reason = "INVALID_ADDRESS"
	ReasonRouterNotAllowed        Reason = "ROUTER_NOT_ALLOWED"
	ReasonHookNotAllowed          Reason = "HOOK_NOT_ALLOWED"
	ReasonFeeBelowMin             Reason = "FEE_BELOW_MIN"
	ReasonReceiverMismatch        Reason = "RECEIVER_MISMATCH"
	ReasonInvalidSignature        Reason = "INVALID_SIGNATURE"
	ReasonAuthorizationNotYetValid Reason = "AUTHORIZATION_NOT_YET_VALID"
	ReasonAuthorizationExpired    Reason = "AUTHORIZATION_EXPIRED"
	ReasonInvalidCommitment       Reason = "INVALID_COMMITMENT"
	ReasonInsufficientFunds       Reason = "INSUFFICIENT_FUNDS"
	ReasonInsufficientValue       Reason = "INSUFFICIENT_VALUE"
)

// PaymentRequirements mirrors §3's PaymentRequirements entity for the
// router-settlement (v2) path.
type PaymentRequirements struct {
	Scheme            string
	Network            string
	Asset              common.Address
	PayTo              common.Address // equals Extra.SettlementRouter, per §3's invariant
	MaxAmountRequired  *big.Int
	MaxTimeoutSeconds  int64
	Resource           string
	Extra              SettlementExtra
}

// SettlementExtra is §3's `extra` bag for a router settlement.
type SettlementExtra struct {
	SettlementRouter common.Address
	Salt             [32]byte
	FinalPayTo       common.Address
	FacilitatorFee   *big.Int
	Hook             common.Address
	HookData         []byte
	AssetName        string
	AssetVersion     string
}

// Authorization is the EIP-3009 authorization carried in the payload.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// PaymentPayload mirrors §3's PaymentPayload for the EVM exact scheme.
type PaymentPayload struct {
	Scheme        string
	Network       string
	X402Version   int
	Signature     []byte
	Authorization Authorization
}

// Result is §4.8's {isValid, invalidReason?, payer} output.
type Result struct {
	IsValid       bool
	InvalidReason Reason
	Detail        string
	Payer         common.Address
}

func invalid(reason Reason, detail string) Result {
	return Result{IsValid: false, InvalidReason: reason, Detail: detail}
}
