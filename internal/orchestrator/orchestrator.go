// Package orchestrator implements the version-dispatch facilitator (C11):
// a single Verify/Settle surface that routes between the v1 compatibility
// shim and the v2 router-settlement path by x402Version, running lifecycle
// hooks around each call the way the upstream t402Facilitator does.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/x402x/facilitator/internal/legacyv1"
	"github.com/x402x/facilitator/internal/network"
	"github.com/x402x/facilitator/internal/settlement"
	"github.com/x402x/facilitator/internal/verify"
)

// VerifyContext is passed to before/after/failure verify hooks.
type VerifyContext struct {
	Ctx         context.Context
	X402Version int
	Network     string
	Scheme      string
}

// SettleContext is passed to before/after/failure settle hooks.
type SettleContext struct {
	Ctx         context.Context
	X402Version int
	Network     string
	Scheme      string
}

// BeforeHookResult lets a before-hook abort the operation outright.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// VerifyFailureHookResult lets an on-failure hook substitute a recovered
// result instead of propagating the error.
type VerifyFailureHookResult struct {
	Recovered bool
	Result    *verify.Result
}

// SettleFailureHookResult is the settle-path equivalent.
type SettleFailureHookResult struct {
	Recovered bool
	Result    *settlement.Response
}

type (
	BeforeVerifyHook    func(VerifyContext) (*BeforeHookResult, error)
	AfterVerifyHook     func(VerifyContext, verify.Result) error
	OnVerifyFailureHook func(VerifyContext, error) (*VerifyFailureHookResult, error)
	BeforeSettleHook    func(SettleContext) (*BeforeHookResult, error)
	AfterSettleHook     func(SettleContext, settlement.Response) error
	OnSettleFailureHook func(SettleContext, error) (*SettleFailureHookResult, error)
)

// AbortedError is returned when a before-hook aborts an operation.
type AbortedError struct{ Reason string }

func (e *AbortedError) Error() string { return "orchestrator: aborted: " + e.Reason }

// SupportedKind is one entry of GET /supported's {kinds: [...]}.
type SupportedKind struct {
	X402Version int
	Scheme      string
	Network     string
}

// Facilitator composes the v1 and v2 engines behind a single dispatch
// surface, with before/after hooks around verify and before/after/failure
// hooks around settle.
type Facilitator struct {
	networks  *network.Registry
	v1        *legacyv1.Engine
	v2Verify  *verify.Pipeline
	v2Settle  *settlement.Engine
	v1Enabled bool
	v2Enabled bool

	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// New builds a Facilitator. Either engine may be nil to disable that
// version entirely (§6's FACILITATOR_ENABLE_V2 toggle).
func New(networks *network.Registry, v1 *legacyv1.Engine, v2Verify *verify.Pipeline, v2Settle *settlement.Engine) *Facilitator {
	return &Facilitator{
		networks:  networks,
		v1:        v1,
		v2Verify:  v2Verify,
		v2Settle:  v2Settle,
		v1Enabled: v1 != nil,
		v2Enabled: v2Verify != nil && v2Settle != nil,
	}
}

func (f *Facilitator) OnBeforeVerify(h BeforeVerifyHook) *Facilitator {
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, h)
	return f
}
func (f *Facilitator) OnAfterVerify(h AfterVerifyHook) *Facilitator {
	f.afterVerifyHooks = append(f.afterVerifyHooks, h)
	return f
}
// OnVerifyFailure registers a verify failure hook. Neither verify path calls
// these hooks: an invalid payment is reported in the Result that the
// after-verify hooks receive, not as an error.
func (f *Facilitator) OnVerifyFailure(h OnVerifyFailureHook) *Facilitator {
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, h)
	return f
}
func (f *Facilitator) OnBeforeSettle(h BeforeSettleHook) *Facilitator {
	f.beforeSettleHooks = append(f.beforeSettleHooks, h)
	return f
}
func (f *Facilitator) OnAfterSettle(h AfterSettleHook) *Facilitator {
	f.afterSettleHooks = append(f.afterSettleHooks, h)
	return f
}
func (f *Facilitator) OnSettleFailure(h OnSettleFailureHook) *Facilitator {
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, h)
	return f
}

// VerifyV2 runs the router-settlement verification path with lifecycle
// hooks. The HTTP layer is responsible for deciding, from x402Version in
// the request body, whether to call this or VerifyV1.
func (f *Facilitator) VerifyV2(ctx context.Context, payload verify.PaymentPayload, req verify.PaymentRequirements) (verify.Result, error) {
	if !f.v2Enabled {
		return verify.Result{}, fmt.Errorf("orchestrator: v2 is disabled")
	}
	hookCtx := VerifyContext{Ctx: ctx, X402Version: 2, Network: req.Network, Scheme: req.Scheme}

	if result, err, handled := f.runBeforeVerify(hookCtx); handled {
		return result, err
	}

	result := f.v2Verify.Verify(ctx, payload, req)
	return f.finishVerify(hookCtx, result)
}

// VerifyV1 runs the legacy verification path with the same hook surface.
func (f *Facilitator) VerifyV1(ctx context.Context, payload legacyv1.PaymentPayload, req legacyv1.PaymentRequirements) (legacyv1.Result, error) {
	if !f.v1Enabled {
		return legacyv1.Result{}, fmt.Errorf("orchestrator: v1 is disabled")
	}
	hookCtx := VerifyContext{Ctx: ctx, X402Version: 1, Network: req.Network, Scheme: req.Scheme}

	if result, err, handled := f.runBeforeVerify(hookCtx); handled {
		return legacyv1.Result{IsValid: result.IsValid, InvalidReason: legacyv1.Reason(result.InvalidReason), Detail: result.Detail, Payer: result.Payer}, err
	}

	v1Result := f.v1.Verify(ctx, payload, req)
	asGeneric := verify.Result{IsValid: v1Result.IsValid, InvalidReason: verify.Reason(v1Result.InvalidReason), Detail: v1Result.Detail, Payer: v1Result.Payer}
	generic, err := f.finishVerify(hookCtx, asGeneric)
	return legacyv1.Result{IsValid: generic.IsValid, InvalidReason: legacyv1.Reason(generic.InvalidReason), Detail: generic.Detail, Payer: generic.Payer}, err
}

func (f *Facilitator) runBeforeVerify(hookCtx VerifyContext) (verify.Result, error, bool) {
	for _, hook := range f.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return verify.Result{}, err, true
		}
		if result != nil && result.Abort {
			return verify.Result{}, &AbortedError{Reason: result.Reason}, true
		}
	}
	return verify.Result{}, nil, false
}

func (f *Facilitator) finishVerify(hookCtx VerifyContext, result verify.Result) (verify.Result, error) {
	for _, hook := range f.afterVerifyHooks {
		_ = hook(hookCtx, result)
	}
	return result, nil
}

// SettleV2 runs router-settlement with before/after/failure hooks, per
// §4.9 plus the hook contract above.
func (f *Facilitator) SettleV2(ctx context.Context, payload verify.PaymentPayload, req verify.PaymentRequirements) (settlement.Response, error) {
	if !f.v2Enabled {
		return settlement.Response{}, fmt.Errorf("orchestrator: v2 is disabled")
	}
	hookCtx := SettleContext{Ctx: ctx, X402Version: 2, Network: req.Network, Scheme: req.Scheme}

	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return settlement.Response{}, err
		}
		if result != nil && result.Abort {
			return settlement.Response{}, &AbortedError{Reason: result.Reason}
		}
	}

	resp, err := f.v2Settle.Settle(ctx, payload, req)
	if err != nil {
		for _, hook := range f.onSettleFailureHooks {
			recovery, hookErr := hook(hookCtx, err)
			if hookErr == nil && recovery != nil && recovery.Recovered {
				return *recovery.Result, nil
			}
		}
		return settlement.Response{}, err
	}

	for _, hook := range f.afterSettleHooks {
		_ = hook(hookCtx, resp)
	}
	return resp, nil
}

// SettleV1 runs the legacy settlement path with the same hook contract.
func (f *Facilitator) SettleV1(ctx context.Context, payload legacyv1.PaymentPayload, req legacyv1.PaymentRequirements) (legacyv1.SettleResponse, error) {
	if !f.v1Enabled {
		return legacyv1.SettleResponse{}, fmt.Errorf("orchestrator: v1 is disabled")
	}
	hookCtx := SettleContext{Ctx: ctx, X402Version: 1, Network: req.Network, Scheme: req.Scheme}

	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return legacyv1.SettleResponse{}, err
		}
		if result != nil && result.Abort {
			return legacyv1.SettleResponse{}, &AbortedError{Reason: result.Reason}
		}
	}

	resp, err := f.v1.Settle(ctx, payload, req)
	if err != nil {
		for _, hook := range f.onSettleFailureHooks {
			recovery, hookErr := hook(hookCtx, err)
			if hookErr == nil && recovery != nil && recovery.Recovered {
				return legacyv1.SettleResponse{
					Success: recovery.Result.Success, Transaction: recovery.Result.Transaction,
					Network: recovery.Result.Network, Payer: recovery.Result.Payer, ErrorReason: recovery.Result.ErrorReason,
				}, nil
			}
		}
		return legacyv1.SettleResponse{}, err
	}

	generic := settlement.Response{Success: resp.Success, Transaction: resp.Transaction, Network: resp.Network, Payer: resp.Payer, ErrorReason: resp.ErrorReason}
	for _, hook := range f.afterSettleHooks {
		_ = hook(hookCtx, generic)
	}
	return resp, nil
}

// GetSupported lists every {x402Version, scheme, network} kind the
// facilitator currently serves, per §6.
func (f *Facilitator) GetSupported() []SupportedKind {
	var out []SupportedKind
	for _, cfg := range f.networks.Supported() {
		if f.v2Enabled {
			out = append(out, SupportedKind{X402Version: 2, Scheme: "exact", Network: cfg.CAIP2})
		}
		if f.v1Enabled {
			out = append(out, SupportedKind{X402Version: 1, Scheme: "exact", Network: cfg.CAIP2})
		}
	}
	return out
}
