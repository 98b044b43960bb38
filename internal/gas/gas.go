// Package gas implements the Gas Estimation Strategy (C4): producing a safe
// gasLimit and validity verdict for a proposed settlement, by static code
// calculation for built-in hooks or RPC simulation for arbitrary ones.
package gas

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402x/facilitator/internal/config"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/hooks"
)

// Strategy names the selection in §4.4.
type Strategy string

const (
	StrategyCode       Strategy = "code"
	StrategySimulation Strategy = "simulation"
	StrategySmart      Strategy = "smart"
)

// Per-hook gas overhead constants for the code path (§4.4).
const (
	baseTxCost           uint64 = 80_000
	baseHookOverhead     uint64 = 30_000
	perTransferOverhead  uint64 = 20_000
	conservativeFallback uint64 = 300_000
)

// Result is §4.4's output contract.
type Result struct {
	GasLimit     uint64
	IsValid      bool
	ErrorReason  string
	StrategyUsed Strategy
	Metadata     map[string]any
}

// Estimator computes gas budgets using the configured strategy.
type Estimator struct {
	hookRegistry *hooks.Registry
	cfg          config.GasCostConfig
	rpcTimeout   time.Duration
}

// New builds an Estimator bound to a hook registry (for the code path) and
// the gas-cost configuration from §6.
func New(hookRegistry *hooks.Registry, cfg config.GasCostConfig, rpcTimeout time.Duration) *Estimator {
	return &Estimator{hookRegistry: hookRegistry, cfg: cfg, rpcTimeout: rpcTimeout}
}

func clamp(gasLimit, min, max uint64) uint64 {
	if gasLimit < min {
		return min
	}
	if gasLimit > max {
		return max
	}
	return gasLimit
}

// Estimate runs the configured strategy (code | simulation | smart).
func (e *Estimator) Estimate(ctx context.Context, signer evmchain.Signer, network string, router, hookAddress common.Address, hookData []byte, hookAmount *big.Int, params evmchain.SettlementParams) Result {
	strategy := Strategy(e.cfg.GasEstimationStrategy)
	builtin := e.hookRegistry.IsBuiltin(network, hookAddress)

	switch strategy {
	case StrategyCode:
		return e.estimateCode(network, hookAddress, hookData, hookAmount)
	case StrategySimulation:
		return e.estimateSimulation(ctx, signer, router, params)
	case StrategySmart:
		if builtin && e.cfg.CodeValidationEnabled {
			return e.estimateCode(network, hookAddress, hookData, hookAmount)
		}
		return e.estimateSimulation(ctx, signer, router, params)
	default:
		return e.estimateSimulation(ctx, signer, router, params)
	}
}

func (e *Estimator) estimateCode(network string, hookAddress common.Address, hookData []byte, hookAmount *big.Int) Result {
	validator, ok := e.hookRegistry.Lookup(network, hookAddress)
	if !ok {
		return Result{IsValid: false, ErrorReason: "unknown hook for code estimation path", StrategyUsed: StrategyCode}
	}
	verdict := validator(network, hookAddress, hookData, hookAmount)
	if !verdict.IsValid {
		return Result{IsValid: false, ErrorReason: verdict.ErrorReason, StrategyUsed: StrategyCode}
	}

	recipientCount := transferHookRecipientCount(hookData)
	overhead := baseHookOverhead + perTransferOverhead*uint64(recipientCount)

	gasLimit := clamp(baseTxCost+overhead, e.cfg.MinGasLimit, e.cfg.MaxGasLimit)
	return Result{
		GasLimit:     gasLimit,
		IsValid:      true,
		StrategyUsed: StrategyCode,
		Metadata:     map[string]any{"recipientCount": recipientCount},
	}
}

// transferHookRecipientCount best-effort decodes a transfer-hook-shaped
// hookData to size the per-recipient overhead; zero (including a decode
// failure) falls back to the flat base overhead, matching the "single
// transfer" empty-hookData case.
func transferHookRecipientCount(hookData []byte) int {
	if len(hookData) == 0 {
		return 0
	}
	recipients, _, err := hooks.DecodeTransferHookData(hookData)
	if err != nil {
		return 0
	}
	return len(recipients)
}

func (e *Estimator) estimateSimulation(ctx context.Context, signer evmchain.Signer, router common.Address, params evmchain.SettlementParams) Result {
	calldata, err := evmchain.PackSettleAndExecute(params)
	if err != nil {
		return Result{IsValid: false, ErrorReason: "failed to encode settlement calldata", StrategyUsed: StrategySimulation}
	}

	ctx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
	defer cancel()

	estimated, err := signer.EstimateGas(ctx, router, calldata)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{
				GasLimit:     clamp(conservativeFallback, e.cfg.MinGasLimit, e.cfg.MaxGasLimit),
				IsValid:      true,
				StrategyUsed: StrategySimulation,
				Metadata:     map[string]any{"fallback": true, "error": "gas_estimation_timeout"},
			}
		}
		return Result{IsValid: false, ErrorReason: classifyRevertReason(err), StrategyUsed: StrategySimulation}
	}

	adjusted := uint64(float64(estimated) * e.cfg.SafetyMultiplier)
	gasLimit := clamp(adjusted, e.cfg.MinGasLimit, e.cfg.MaxGasLimit)
	return Result{GasLimit: gasLimit, IsValid: true, StrategyUsed: StrategySimulation}
}

// classifyRevertReason turns an estimateGas error into an error reason: the
// fixed prefix "gas_estimation_reverted: " followed by the RPC error text
// verbatim. Node-specific error text is not mapped to shorter codes.
func classifyRevertReason(err error) string {
	if err == nil {
		return ""
	}
	return "gas_estimation_reverted: " + err.Error()
}
