package orchestrator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/x402x/facilitator/internal/accountpool"
	"github.com/x402x/facilitator/internal/balance"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/hooks"
	"github.com/x402x/facilitator/internal/legacyv1"
	"github.com/x402x/facilitator/internal/network"
	"github.com/x402x/facilitator/internal/pricing"
	"github.com/x402x/facilitator/internal/verify"
)

func testCfg() *evmchain.NetworkConfig {
	return &evmchain.NetworkConfig{
		CAIP2:   "eip155:84532",
		ChainID: big.NewInt(84532),
		Kind:    evmchain.NetworkKindTestnet,
		DefaultAsset: evmchain.AssetInfo{
			Address:       common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
			Decimals:      6,
			EIP712Name:    "USDC",
			EIP712Version: "2",
		},
		Metadata: evmchain.NetworkMetadata{GasModel: evmchain.GasModelEIP1559, NativeToken: "ETH"},
	}
}

func buildFacilitator(t *testing.T) *Facilitator {
	t.Helper()
	registry := network.New()
	registry.Register(testCfg(), "base-sepolia")

	tokenPrices := pricing.NewTokenPriceCache(
		func(ctx context.Context, s string) (float64, error) { return 3000, nil },
		map[string]float64{"ETH": 3000},
	)

	v2Deps := verify.Deps{
		Networks:             registry,
		Hooks:                hooks.New(),
		Balances:              balance.New(),
		TokenPrices:           tokenPrices,
		AllowedHooks:          map[string][]common.Address{},
		AllowedRouters:        map[string][]common.Address{},
		HookWhitelistMode:     "strict",
		MinFacilitatorFeeUSD:  0,
		ChainReader: func(n string) (evmchain.Signer, error) { return nil, nil },
	}
	v2Verify := verify.New(v2Deps)

	v1Engine := legacyv1.New(registry, balance.New(), &emptyPools{}, func(n string) (evmchain.Signer, error) { return nil, nil }, 5*time.Second)

	return New(registry, v1Engine, v2Verify, nil)
}

type emptyPools struct{}

func (p *emptyPools) Pool(n string) (*accountpool.Pool, bool) { return nil, false }

func TestGetSupportedListsOnlyV1WhenV2HasNoSettleEngine(t *testing.T) {
	f := buildFacilitator(t)
	kinds := f.GetSupported()
	require.Len(t, kinds, 1) // v2 is disabled (nil settle engine), only v1 shows

	var sawV1 bool
	for _, k := range kinds {
		if k.X402Version == 1 {
			sawV1 = true
		}
	}
	require.True(t, sawV1)
}

func TestBeforeVerifyHookCanAbortTheOperation(t *testing.T) {
	f := buildFacilitator(t)
	f.OnBeforeVerify(func(VerifyContext) (*BeforeHookResult, error) {
		return &BeforeHookResult{Abort: true, Reason: "maintenance"}, nil
	})

	payload := legacyv1.PaymentPayload{Scheme: "exact", Network: "eip155:84532"}
	req := legacyv1.PaymentRequirements{Scheme: "exact", Network: "eip155:84532", MaxAmountRequired: big.NewInt(1)}

	_, err := f.VerifyV1(context.Background(), payload, req)
	require.Error(t, err)
	var aborted *AbortedError
	require.ErrorAs(t, err, &aborted)
	require.Equal(t, "maintenance", aborted.Reason)
}

func TestAfterVerifyHookObservesTheResultWithoutAlteringIt(t *testing.T) {
	f := buildFacilitator(t)

	var observedValid bool
	f.OnAfterVerify(func(ctx VerifyContext, result verify.Result) error {
		observedValid = result.IsValid
		return nil
	})

	payload := legacyv1.PaymentPayload{Scheme: "exact", Network: "eip155:84532"}
	req := legacyv1.PaymentRequirements{Scheme: "exact", Network: "eip155:84532", MaxAmountRequired: big.NewInt(1)}

	result, err := f.VerifyV1(context.Background(), payload, req)
	require.NoError(t, err)
	require.False(t, result.IsValid) // zero asset address fails the token check
	require.False(t, observedValid)
}
