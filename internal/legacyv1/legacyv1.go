// Package legacyv1 implements the v1 compatibility shim: a genuinely
// reduced settlement path that predates the settlement router. It skips
// commitment, router whitelisting, and hook dispatch; it exists because the
// original x402 "exact" scheme settled a bare EIP-3009
// transferWithAuthorization straight to the resource server, with no
// facilitator fee and no hook.
package legacyv1

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402x/facilitator/internal/accountpool"
	"github.com/x402x/facilitator/internal/balance"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/network"
)

// Reason enumerates the v1 path's (smaller) validation error taxonomy.
type Reason string

const (
	ReasonSchemeMismatch     Reason = "SCHEME_MISMATCH"
	ReasonUnsupportedNetwork Reason = "UNSUPPORTED_NETWORK"
	ReasonUnsupportedToken   Reason = "UNSUPPORTED_TOKEN"
	ReasonInvalidSignature   Reason = "INVALID_SIGNATURE"
	ReasonAuthorizationNotYetValid Reason = "AUTHORIZATION_NOT_YET_VALID"
	ReasonAuthorizationExpired     Reason = "AUTHORIZATION_EXPIRED"
	ReasonInsufficientFunds  Reason = "INSUFFICIENT_FUNDS"
)

// Authorization is the bare EIP-3009 authorization carried by a v1 payload.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// PaymentPayload is v1's payload: no x402Version-2 extras.
type PaymentPayload struct {
	Scheme        string
	Network       string
	Signature     []byte
	Authorization Authorization
}

// PaymentRequirements is v1's requirements: payTo is the resource server
// itself, not a router.
type PaymentRequirements struct {
	Scheme            string
	Network           string
	Asset             common.Address
	PayTo             common.Address
	MaxAmountRequired *big.Int
	MaxTimeoutSeconds int64
}

// Result mirrors the v2 pipeline's {isValid, invalidReason, payer} shape.
type Result struct {
	IsValid       bool
	InvalidReason Reason
	Detail        string
	Payer         common.Address
}

// SettleResponse mirrors settlement.Response, minus the fee/profit fields
// that don't exist on this path.
type SettleResponse struct {
	Success     bool
	Transaction string
	Network     string
	Payer       common.Address
	ErrorReason string
}

// ChainReaderFunc resolves a read-capable signer for signature/balance checks.
type ChainReaderFunc func(network string) (evmchain.Signer, error)

// Pools resolves the account pool for a network.
type Pools interface {
	Pool(network string) (*accountpool.Pool, bool)
}

// Engine implements the full v1 verify+settle path.
type Engine struct {
	networks       *network.Registry
	balances       *balance.Checker
	pools          Pools
	chainReader    ChainReaderFunc
	receiptTimeout time.Duration
}

func New(networks *network.Registry, balances *balance.Checker, pools Pools, chainReader ChainReaderFunc, receiptTimeout time.Duration) *Engine {
	return &Engine{networks: networks, balances: balances, pools: pools, chainReader: chainReader, receiptTimeout: receiptTimeout}
}

func invalid(reason Reason, detail string) Result {
	return Result{IsValid: false, InvalidReason: reason, Detail: detail}
}

// Verify runs v1's reduced check sequence: scheme + network + token +
// signature + timing + balance. No commitment, no router, no hook.
func (e *Engine) Verify(ctx context.Context, payload PaymentPayload, req PaymentRequirements) Result {
	if payload.Scheme != req.Scheme || payload.Scheme != "exact" {
		return invalid(ReasonSchemeMismatch, "payload scheme does not match facilitator scheme")
	}
	cfg, err := e.networks.Resolve(req.Network)
	if err != nil {
		return invalid(ReasonUnsupportedNetwork, err.Error())
	}
	if !strings.EqualFold(req.Asset.Hex(), cfg.DefaultAsset.Address.Hex()) {
		return invalid(ReasonUnsupportedToken, "asset is not the network's configured default asset")
	}

	auth := payload.Authorization
	if auth.To != req.PayTo {
		return invalid(ReasonInvalidSignature, "authorization.to does not equal payTo")
	}
	if auth.Value == nil || auth.Value.Cmp(req.MaxAmountRequired) < 0 {
		return invalid(ReasonInvalidSignature, "authorization.value is below maxAmountRequired")
	}

	digest, err := evmchain.HashEIP3009Authorization(
		auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce,
		cfg.ChainID, cfg.DefaultAsset.Address, cfg.DefaultAsset.EIP712Name, cfg.DefaultAsset.EIP712Version,
	)
	if err != nil {
		return invalid(ReasonInvalidSignature, "failed to build EIP-712 digest")
	}

	reader, err := e.chainReader(cfg.CAIP2)
	if err != nil {
		return invalid(ReasonInvalidSignature, "no chain reader available for signature verification")
	}
	ok, err := evmchain.VerifyUniversalSignature(ctx, reader, reader, auth.From, digest, payload.Signature, true)
	if err != nil || !ok {
		return invalid(ReasonInvalidSignature, "signature does not recover to authorization.from")
	}

	now := big.NewInt(time.Now().Unix())
	if auth.ValidAfter != nil && now.Cmp(auth.ValidAfter) <= 0 {
		return invalid(ReasonAuthorizationNotYetValid, "authorization is not yet valid")
	}
	if auth.ValidBefore != nil && now.Cmp(auth.ValidBefore) >= 0 {
		return invalid(ReasonAuthorizationExpired, "authorization has expired")
	}

	result, err := e.balances.Check(ctx, reader, cfg.CAIP2, cfg.DefaultAsset.Address, auth.From, auth.Value)
	if err == nil && !result.HasSufficient {
		return invalid(ReasonInsufficientFunds, "payer balance is below the required amount")
	}

	return Result{IsValid: true, Payer: auth.From}
}

// Settle re-verifies, then submits a direct transferWithAuthorization
// through the account pool; there is no router, so there is nothing to
// budget gas for beyond the token transfer itself.
func (e *Engine) Settle(ctx context.Context, payload PaymentPayload, req PaymentRequirements) (SettleResponse, error) {
	payer := payload.Authorization.From

	verdict := e.Verify(ctx, payload, req)
	if !verdict.IsValid {
		return SettleResponse{Success: false, Network: req.Network, Payer: payer, ErrorReason: string(verdict.InvalidReason)}, nil
	}

	cfg, err := e.networks.Resolve(req.Network)
	if err != nil {
		return SettleResponse{}, err
	}
	pool, ok := e.pools.Pool(cfg.CAIP2)
	if !ok {
		return SettleResponse{Success: false, Network: req.Network, Payer: payer, ErrorReason: "no_account_pool_for_network"}, nil
	}

	auth := payload.Authorization
	var txHash common.Hash
	_, submitErr := pool.Submit(ctx, payer, func(ctx context.Context, signer evmchain.Signer) (any, error) {
		calldata, packErr := evmchain.PackTransferWithAuthorization(auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce, payload.Signature)
		if packErr != nil {
			return nil, packErr
		}
		gasLimit, estErr := signer.EstimateGas(ctx, cfg.DefaultAsset.Address, calldata)
		if estErr != nil {
			gasLimit = 100_000
		}
		hash, sendErr := signer.SendTransaction(ctx, cfg.DefaultAsset.Address, calldata, gasLimit)
		if sendErr != nil {
			return nil, sendErr
		}
		txHash = hash
		_, waitErr := signer.WaitForReceipt(ctx, hash, e.receiptTimeout)
		return hash, waitErr
	})

	if submitErr != nil {
		return SettleResponse{Success: false, Network: req.Network, Payer: payer, ErrorReason: "transaction_failed: " + submitErr.Error()}, nil
	}

	e.balances.Invalidate(cfg.CAIP2, req.Asset, payer)
	return SettleResponse{Success: true, Transaction: txHash.Hex(), Network: req.Network, Payer: payer}, nil
}
