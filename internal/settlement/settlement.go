// Package settlement implements the Settlement Engine (C9): re-verification,
// gas budgeting, submission through the account pool, and receipt
// reclassification for a single payment settlement.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/x402x/facilitator/internal/accountpool"
	"github.com/x402x/facilitator/internal/balance"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/gas"
	"github.com/x402x/facilitator/internal/logging"
	"github.com/x402x/facilitator/internal/network"
	"github.com/x402x/facilitator/internal/pricing"
	"github.com/x402x/facilitator/internal/verify"
)

// Response is §4.9's output contract, also used verbatim as the HTTP body
// for POST /settle (§6): a failed settlement is never an HTTP error, only a
// populated errorReason with success=false.
type Response struct {
	Success     bool
	Transaction string
	Network     string
	Payer       common.Address
	ErrorReason string
	GasUsed     uint64
	GasCostUSD  float64
	FeeUSD      float64
	ProfitUSD   float64
}

func failure(network string, payer common.Address, reason string) Response {
	return Response{Success: false, Network: network, Payer: payer, ErrorReason: reason}
}

// Pools resolves the account pool for a network; one pool per network, each
// holding every signing account enabled for it.
type Pools interface {
	Pool(network string) (*accountpool.Pool, bool)
}

// Engine wires C1-C7 together to execute a single settlement, per §4.9.
type Engine struct {
	networks       *network.Registry
	verifier       *verify.Pipeline
	gas            *gas.Estimator
	gasPrices      *pricing.GasPriceCache
	tokenPrices    *pricing.TokenPriceCache
	balances       *balance.Checker
	pools          Pools
	receiptTimeout time.Duration
	logger         zerolog.Logger
}

// New builds an Engine.
func New(
	networks *network.Registry,
	verifier *verify.Pipeline,
	gasEstimator *gas.Estimator,
	gasPrices *pricing.GasPriceCache,
	tokenPrices *pricing.TokenPriceCache,
	balances *balance.Checker,
	pools Pools,
	receiptTimeout time.Duration,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		networks:       networks,
		verifier:       verifier,
		gas:            gasEstimator,
		gasPrices:      gasPrices,
		tokenPrices:    tokenPrices,
		balances:       balances,
		pools:          pools,
		receiptTimeout: receiptTimeout,
		logger:         logger,
	}
}

// Settle runs §4.9 steps a-e. The returned error is reserved for unexpected
// internal faults (§7); every deterministic business failure is reported
// inside Response.
func (e *Engine) Settle(ctx context.Context, payload verify.PaymentPayload, req verify.PaymentRequirements) (Response, error) {
	payer := payload.Authorization.From

	// a. Re-verify (defense-in-depth).
	verdict := e.verifier.Verify(ctx, payload, req)
	if !verdict.IsValid {
		return failure(req.Network, payer, string(verdict.InvalidReason)), nil
	}

	cfg, err := e.networks.Resolve(req.Network)
	if err != nil {
		return Response{}, err
	}

	log := logging.WithCorrelation(e.logger, cfg.CAIP2, payer.Hex(), req.Extra.SettlementRouter.Hex(), req.Extra.Hook.Hex(), "")

	params := evmchain.SettlementParams{
		ChainID:        cfg.ChainID,
		Router:         req.Extra.SettlementRouter,
		Asset:          req.Asset,
		From:           payer,
		Value:          payload.Authorization.Value,
		ValidAfter:     payload.Authorization.ValidAfter,
		ValidBefore:    payload.Authorization.ValidBefore,
		Salt:           req.Extra.Salt,
		FinalPayTo:     req.Extra.FinalPayTo,
		FacilitatorFee: req.Extra.FacilitatorFee,
		Hook:           req.Extra.Hook,
		HookData:       req.Extra.HookData,
		Nonce:          payload.Authorization.Nonce,
		Signature:      payload.Signature,
	}

	pool, ok := e.pools.Pool(cfg.CAIP2)
	if !ok {
		return failure(req.Network, payer, "no_account_pool_for_network"), nil
	}

	var gasResult gas.Result
	var receipt *evmchain.TransactionReceipt
	var txHash common.Hash

	// b+c+d. Gas budget, submit, and await receipt all run inside the
	// account-pool task so estimation and submission see the same account's
	// nonce and pending state.
	_, submitErr := pool.Submit(ctx, payer, func(ctx context.Context, signer evmchain.Signer) (any, error) {
		gasResult = e.gas.Estimate(ctx, signer, cfg.CAIP2, params.Router, params.Hook, params.HookData, hookAmount(req), params)
		if !gasResult.IsValid {
			return nil, &GasEstimationError{Reason: gasResult.ErrorReason}
		}

		calldata, packErr := evmchain.PackSettleAndExecute(params)
		if packErr != nil {
			return nil, &RpcError{Cause: packErr}
		}

		hash, sendErr := signer.SendTransaction(ctx, params.Router, calldata, gasResult.GasLimit)
		if sendErr != nil {
			return nil, classifySubmitError(sendErr)
		}
		txHash = hash

		r, waitErr := signer.WaitForReceipt(ctx, hash, e.receiptTimeout)
		if waitErr != nil {
			if errors.Is(waitErr, evmchain.ErrReceiptTimeout) {
				return nil, &TransactionTimeout{TxHash: hash}
			}
			return nil, &RpcError{Cause: waitErr}
		}
		receipt = r
		return nil, nil
	})

	gasCostUSD, feeUSD := e.profitability(cfg, req, gasResult)
	profitUSD := feeUSD - gasCostUSD
	if gasResult.IsValid && profitUSD < 0 {
		log.Warn().Float64("gasCostUSD", gasCostUSD).Float64("feeUSD", feeUSD).Msg("settlement is loss-making")
	}

	if submitErr != nil {
		var dup *accountpool.DuplicatePayerError
		var overload *accountpool.QueueOverloadError
		if errors.As(submitErr, &dup) || errors.As(submitErr, &overload) {
			return Response{}, submitErr // HTTP layer maps these to 429/503 directly
		}

		var gasErr *GasEstimationError
		var timeoutErr *TransactionTimeout
		var nonceErr *NonceError
		var rpcErr *RpcError
		switch {
		case errors.As(submitErr, &gasErr):
			return failure(req.Network, payer, "gas_estimation_error: "+gasErr.Reason), nil
		case errors.As(submitErr, &timeoutErr):
			resp := failure(req.Network, payer, "transaction_timeout")
			resp.Transaction = timeoutErr.TxHash.Hex()
			return resp, nil
		case errors.As(submitErr, &nonceErr):
			return failure(req.Network, payer, "nonce_error"), nil
		case errors.As(submitErr, &rpcErr):
			return failure(req.Network, payer, "rpc_error"), nil
		default:
			return failure(req.Network, payer, "transaction_failed"), nil
		}
	}

	e.balances.Invalidate(cfg.CAIP2, req.Asset, payer)

	if receipt.Status != evmchain.TxStatusSuccess {
		return Response{
			Success:     false,
			ErrorReason: "invalid_transaction_state",
			Transaction: txHash.Hex(),
			Network:     req.Network,
			Payer:       payer,
			GasUsed:     receipt.GasUsed,
			GasCostUSD:  gasCostUSD,
			FeeUSD:      feeUSD,
			ProfitUSD:   profitUSD,
		}, nil
	}

	log.Info().Str("tx", txHash.Hex()).Uint64("gasUsed", receipt.GasUsed).Msg("settlement succeeded")

	return Response{
		Success:     true,
		Transaction: txHash.Hex(),
		Network:     req.Network,
		Payer:       payer,
		GasUsed:     receipt.GasUsed,
		GasCostUSD:  gasCostUSD,
		FeeUSD:      feeUSD,
		ProfitUSD:   profitUSD,
	}, nil
}

// hookAmount is the amount the hook actually distributes: the combined
// authorization value minus the facilitator's own cut.
func hookAmount(req verify.PaymentRequirements) *big.Int {
	return new(big.Int).Set(req.MaxAmountRequired)
}

// profitability computes the expected gas cost and facilitator fee in USD,
// per §4.9 step e. Never refuses an unprofitable settlement; only reports.
func (e *Engine) profitability(cfg *evmchain.NetworkConfig, req verify.PaymentRequirements, gasResult gas.Result) (gasCostUSD, feeUSD float64) {
	if !gasResult.IsValid {
		return 0, 0
	}
	gasPrice, err := e.gasPrices.Get(context.Background(), cfg.CAIP2)
	if err != nil {
		return 0, 0
	}
	tokenPriceUSD, err := e.tokenPrices.Get(context.Background(), cfg.Metadata.NativeToken)
	if err != nil {
		return 0, 0
	}

	gasCostWei := new(big.Int).Mul(big.NewInt(int64(gasResult.GasLimit)), gasPrice)
	gasCostEth := new(big.Float).Quo(new(big.Float).SetInt(gasCostWei), big.NewFloat(1e18))
	gasCostUSD, _ = new(big.Float).Mul(gasCostEth, big.NewFloat(tokenPriceUSD)).Float64()

	divisor := new(big.Float).SetFloat64(1)
	for i := uint8(0); i < cfg.DefaultAsset.Decimals; i++ {
		divisor.Mul(divisor, big.NewFloat(10))
	}
	feeFloat := new(big.Float).SetInt(req.Extra.FacilitatorFee)
	feeUSD, _ = feeFloat.Quo(feeFloat, divisor).Float64()

	return gasCostUSD, feeUSD
}

// GasEstimationError wraps a failed gas estimation (§4.9 step b).
type GasEstimationError struct{ Reason string }

func (e *GasEstimationError) Error() string { return "settlement: gas estimation failed: " + e.Reason }

// NonceError classifies a submission error caused by a stale or conflicting
// nonce; recoverable by retry.
type NonceError struct{ Cause error }

func (e *NonceError) Error() string { return "settlement: nonce error: " + e.Cause.Error() }
func (e *NonceError) Unwrap() error { return e.Cause }

// RpcError classifies any other transport/node-level submission failure.
type RpcError struct{ Cause error }

func (e *RpcError) Error() string { return "settlement: rpc error: " + e.Cause.Error() }
func (e *RpcError) Unwrap() error { return e.Cause }

// TransactionTimeout reports that no receipt was observed within the
// configured window; the transaction may still mine later, and the next
// poll of the same commitment is idempotent since the on-chain nonce is
// derived from it.
type TransactionTimeout struct{ TxHash common.Hash }

func (e *TransactionTimeout) Error() string { return "settlement: timed out waiting for receipt" }

func classifySubmitError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce too high") || strings.Contains(msg, "replacement transaction underpriced") {
		return &NonceError{Cause: err}
	}
	return &RpcError{Cause: err}
}
