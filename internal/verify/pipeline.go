package verify

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402x/facilitator/internal/balance"
	"github.com/x402x/facilitator/internal/commitment"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/hooks"
	"github.com/x402x/facilitator/internal/network"
	"github.com/x402x/facilitator/internal/pricing"
)

// Deps bundles C1–C6 as the pipeline's dependencies, per §2's data-flow
// description ("C11 -> C8 (verify)").
type Deps struct {
	Networks     *network.Registry
	Hooks        *hooks.Registry
	Balances     *balance.Checker
	TokenPrices  *pricing.TokenPriceCache
	AllowedHooks   map[string][]common.Address // network -> allow-listed non-builtin hook addresses
	AllowedRouters map[string][]common.Address // network -> whitelisted settlement routers (§4.8 step 4)
	HookWhitelistMode string // "strict" | "deferred"
	MinFacilitatorFeeUSD float64
	ChainReader  func(network string) (evmchain.Signer, error) // resolves a read-capable signer for a network
}

// Pipeline composes C1–C6 to decide isValid for a payment, per §4.8.
type Pipeline struct {
	deps Deps
}

// New builds a Pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// Verify runs the ten-step ordered, short-circuiting check sequence.
func (p *Pipeline) Verify(ctx context.Context, payload PaymentPayload, req PaymentRequirements) Result {
	// 1. Structural.
	if payload.Scheme != req.Scheme || payload.Scheme != "exact" {
		return invalid(ReasonSchemeMismatch, "payload scheme does not match facilitator scheme")
	}
	cfg, err := p.deps.Networks.Resolve(req.Network)
	if err != nil {
		return invalid(ReasonUnsupportedNetwork, err.Error())
	}
	if payload.Network != req.Network {
		return invalid(ReasonNetworkMismatch, "payload network does not match requirements network")
	}

	// 2. Token policy: USDC-only for now.
	if !strings.EqualFold(req.Asset.Hex(), cfg.DefaultAsset.Address.Hex()) {
		return invalid(ReasonUnsupportedToken, "asset is not the network's configured default asset")
	}

	// 3. Settlement extra: syntactic validation.
	extra := req.Extra
	if extra.SettlementRouter == (common.Address{}) {
		return invalid(ReasonInvalidAddress, "missing settlementRouter")
	}
	if req.PayTo != extra.SettlementRouter {
		return invalid(ReasonInvalidAddress, "top-level payTo must equal extra.settlementRouter")
	}
	if extra.FinalPayTo == (common.Address{}) {
		return invalid(ReasonInvalidAddress, "missing extra.payTo")
	}
	if extra.FacilitatorFee == nil || extra.FacilitatorFee.Sign() < 0 {
		return invalid(ReasonInvalidAddress, "facilitatorFee must be a non-negative integer")
	}

	// 4. Router whitelist.
	if !p.isRouterAllowed(cfg.CAIP2, extra.SettlementRouter) {
		return invalid(ReasonRouterNotAllowed, "settlement router is not in the allowed set for this network")
	}

	// Hook whitelist (strict mode rejects unknown, non-allow-listed hooks
	// outright; deferred mode defers the decision to gas estimation). A zero
	// hook address means "no hook" and needs no whitelisting.
	if extra.Hook != (common.Address{}) && !p.deps.Hooks.IsBuiltin(cfg.CAIP2, extra.Hook) && !p.isHookAllowed(cfg.CAIP2, extra.Hook) {
		if p.deps.HookWhitelistMode == "" || p.deps.HookWhitelistMode == "strict" {
			return invalid(ReasonHookNotAllowed, "hook is not a registered built-in and not allow-listed")
		}
	}

	// 5. Fee policy.
	tokenPriceUSD, err := p.deps.TokenPrices.Get(ctx, cfg.Metadata.NativeToken)
	if err == nil && extra.FacilitatorFee != nil {
		feeUSD := facilitatorFeeUSD(extra.FacilitatorFee, cfg.DefaultAsset.Decimals, tokenPriceUSD)
		if feeUSD < p.deps.MinFacilitatorFeeUSD {
			return invalid(ReasonFeeBelowMin, "facilitatorFee is below the configured minimum USD threshold")
		}
	}

	if payload.Authorization.Value == nil {
		return invalid(ReasonInsufficientValue, "missing authorization.value")
	}

	// 6. Signature.
	if payload.Authorization.To != extra.SettlementRouter {
		return invalid(ReasonReceiverMismatch, "authorization.to does not equal extra.settlementRouter")
	}
	if len(payload.Signature) == 0 {
		return invalid(ReasonInvalidSignature, "missing signature")
	}

	digest, err := evmchain.HashEIP3009Authorization(
		payload.Authorization.From,
		payload.Authorization.To,
		payload.Authorization.Value,
		payload.Authorization.ValidAfter,
		payload.Authorization.ValidBefore,
		payload.Authorization.Nonce,
		cfg.ChainID,
		cfg.DefaultAsset.Address,
		coalesce(extra.AssetName, cfg.DefaultAsset.EIP712Name),
		coalesce(extra.AssetVersion, cfg.DefaultAsset.EIP712Version),
	)
	if err != nil {
		return invalid(ReasonInvalidSignature, "failed to build EIP-712 digest")
	}

	reader, err := p.deps.ChainReader(cfg.CAIP2)
	if err != nil {
		return invalid(ReasonInvalidSignature, "no chain reader available for signature verification")
	}
	ok, err := evmchain.VerifyUniversalSignature(ctx, reader, reader, payload.Authorization.From, digest, payload.Signature, true)
	if err != nil || !ok {
		return invalid(ReasonInvalidSignature, "signature does not recover to authorization.from")
	}

	// 7. Timing: strict inequality both ends (§8 invariant 11).
	now := big.NewInt(time.Now().Unix())
	if payload.Authorization.ValidAfter != nil && now.Cmp(payload.Authorization.ValidAfter) <= 0 {
		return invalid(ReasonAuthorizationNotYetValid, "authorization is not yet valid")
	}
	if payload.Authorization.ValidBefore != nil && now.Cmp(payload.Authorization.ValidBefore) >= 0 {
		return invalid(ReasonAuthorizationExpired, "authorization has expired")
	}

	// 8. Commitment.
	commitParams := commitment.Params{
		ChainID:        cfg.ChainID,
		Router:         extra.SettlementRouter,
		Asset:          cfg.DefaultAsset.Address,
		From:           payload.Authorization.From,
		Value:          payload.Authorization.Value,
		ValidAfter:     payload.Authorization.ValidAfter,
		ValidBefore:    payload.Authorization.ValidBefore,
		Salt:           extra.Salt,
		FinalPayTo:     extra.FinalPayTo,
		FacilitatorFee: extra.FacilitatorFee,
		Hook:           extra.Hook,
		HookData:       extra.HookData,
	}
	if !commitment.Matches(commitParams, payload.Authorization.Nonce) {
		return invalid(ReasonInvalidCommitment, "recomputed commitment does not match authorization.nonce")
	}

	// authorization.value must equal maxAmountRequired + facilitatorFee
	// exactly. Checked after the commitment so a tampered fee reports as the
	// commitment mismatch it is; this only fires when the client signed a
	// self-consistent commitment over the wrong arithmetic.
	expectedValue := new(big.Int).Add(req.MaxAmountRequired, extra.FacilitatorFee)
	if payload.Authorization.Value.Cmp(expectedValue) != 0 {
		return invalid(ReasonInsufficientValue, "authorization.value does not equal maxAmountRequired + facilitatorFee")
	}

	// 9. Balance: required = value + facilitatorFee when the router expects
	// them separately; here value already contains the fee (decision #1), so
	// required is simply the authorization value.
	result, err := p.deps.Balances.Check(ctx, reader, cfg.CAIP2, cfg.DefaultAsset.Address, payload.Authorization.From, payload.Authorization.Value)
	if err == nil && !result.HasSufficient {
		return invalid(ReasonInsufficientFunds, "payer balance is below the required amount")
	}

	// 10. Hook data.
	hookAmount := new(big.Int).Sub(payload.Authorization.Value, extra.FacilitatorFee)
	if validator, ok := p.deps.Hooks.Lookup(cfg.CAIP2, extra.Hook); ok {
		verdict := validator(cfg.CAIP2, extra.Hook, extra.HookData, hookAmount)
		if !verdict.IsValid {
			return invalid(ReasonHookNotAllowed, verdict.ErrorReason)
		}
	}

	return Result{IsValid: true, Payer: payload.Authorization.From}
}

// isRouterAllowed checks extra.settlementRouter against the per-network
// ALLOWED_ROUTERS whitelist (§4.8 step 4, §6). A network with no configured
// whitelist allows nothing — an empty ALLOWED_ROUTERS entry is a
// misconfiguration, not an implicit wildcard.
func (p *Pipeline) isRouterAllowed(network string, router common.Address) bool {
	for _, a := range p.deps.AllowedRouters[network] {
		if a == router {
			return true
		}
	}
	return false
}

func (p *Pipeline) isHookAllowed(network string, hook common.Address) bool {
	for _, a := range p.deps.AllowedHooks[network] {
		if a == hook {
			return true
		}
	}
	return false
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// facilitatorFeeUSD converts a facilitatorFee in token base units to USD by
// decimal scaling alone, treating the token as 1:1 with USD (USDC-style
// stablecoins only); nativeTokenPriceUSD does not enter the result.
func facilitatorFeeUSD(feeBaseUnits *big.Int, decimals uint8, nativeTokenPriceUSD float64) float64 {
	divisor := new(big.Float).SetFloat64(1)
	for i := uint8(0); i < decimals; i++ {
		divisor.Mul(divisor, big.NewFloat(10))
	}
	feeFloat := new(big.Float).SetInt(feeBaseUnits)
	feeFloat.Quo(feeFloat, divisor)
	result, _ := feeFloat.Float64()
	return result
}
