package settlement

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/x402x/facilitator/internal/accountpool"
	"github.com/x402x/facilitator/internal/balance"
	"github.com/x402x/facilitator/internal/config"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/gas"
	"github.com/x402x/facilitator/internal/hooks"
	"github.com/x402x/facilitator/internal/logging"
	"github.com/x402x/facilitator/internal/network"
	"github.com/x402x/facilitator/internal/pricing"
	"github.com/x402x/facilitator/internal/verify"
)

type poolSet struct {
	pools map[string]*accountpool.Pool
}

func (p *poolSet) Pool(network string) (*accountpool.Pool, bool) {
	pool, ok := p.pools[network]
	return pool, ok
}

type fakeSettlementSigner struct {
	addr         common.Address
	balance      *big.Int
	receiptReady *evmchain.TransactionReceipt
	sendErr      error
}

func (s *fakeSettlementSigner) Address() common.Address { return s.addr }
func (s *fakeSettlementSigner) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(84532), nil
}
func (s *fakeSettlementSigner) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out := make([]byte, 32)
	s.balance.FillBytes(out)
	return out, nil
}
func (s *fakeSettlementSigner) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	return nil, nil
}
func (s *fakeSettlementSigner) GetNativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *fakeSettlementSigner) EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	return 200_000, nil
}
func (s *fakeSettlementSigner) SendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	if s.sendErr != nil {
		return common.Hash{}, s.sendErr
	}
	return common.HexToHash("0xabc123"), nil
}
func (s *fakeSettlementSigner) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*evmchain.TransactionReceipt, error) {
	return s.receiptReady, nil
}

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

func buildEngine(t *testing.T, signer *fakeSettlementSigner) (*Engine, verify.PaymentPayload, verify.PaymentRequirements) {
	t.Helper()

	registry := network.New()
	registry.Register(testCfg(), "base-sepolia")

	hookRegistry := hooks.New()
	gasEstimator := gas.New(hookRegistry, config.GasCostConfig{
		MinGasLimit: 100_000, MaxGasLimit: 1_000_000, SafetyMultiplier: 1.5,
		GasEstimationStrategy: "code", CodeValidationEnabled: true,
	}, 5*time.Second)

	gasPrices := pricing.NewGasPriceCache(
		func(ctx context.Context, n string) (*big.Int, error) { return big.NewInt(1_000_000_000), nil },
		map[string]*big.Int{"eip155:84532": big.NewInt(1_000_000_000)},
	)
	tokenPrices := pricing.NewTokenPriceCache(
		func(ctx context.Context, s string) (float64, error) { return 3000, nil },
		map[string]float64{"ETH": 3000},
	)

	deps := verify.Deps{
		Networks:             registry,
		Hooks:                hookRegistry,
		Balances:              balance.New(),
		TokenPrices:           tokenPrices,
		AllowedHooks:          map[string][]common.Address{},
		AllowedRouters:        map[string][]common.Address{"eip155:84532": {common.HexToAddress("0x2222222222222222222222222222222222222222")}},
		HookWhitelistMode:     "strict",
		MinFacilitatorFeeUSD:  0,
		ChainReader: func(n string) (evmchain.Signer, error) { return signer, nil },
	}
	pipeline := verify.New(deps)

	pools := &poolSet{pools: map[string]*accountpool.Pool{
		"eip155:84532": accountpool.New("eip155:84532", []evmchain.Signer{signer}, 10),
	}}

	engine := New(registry, pipeline, gasEstimator, gasPrices, tokenPrices, balance.New(), pools, 5*time.Second, logging.New("development"))

	router := common.HexToAddress("0x2222222222222222222222222222222222222222")
	finalTo := common.HexToAddress("0x3333333333333333333333333333333333333333")
	maxAmount := big.NewInt(1_000_000)
	fee := big.NewInt(10_000)
	cfg := testCfg()

	extra := verify.SettlementExtra{
		SettlementRouter: router,
		Salt:             [32]byte{9},
		FinalPayTo:       finalTo,
		FacilitatorFee:   fee,
		AssetName:        cfg.DefaultAsset.EIP712Name,
		AssetVersion:     cfg.DefaultAsset.EIP712Version,
	}

	return engine, verify.PaymentPayload{}, verify.PaymentRequirements{
		Scheme: "exact", Network: cfg.CAIP2, Asset: cfg.DefaultAsset.Address, PayTo: router,
		MaxAmountRequired: maxAmount, MaxTimeoutSeconds: 600, Extra: extra,
	}
}

func TestSettleFailsClosedWhenReverificationFails(t *testing.T) {
	signer := &fakeSettlementSigner{addr: common.HexToAddress("0x1111111111111111111111111111111111111111"), balance: big.NewInt(10_000_000)}
	engine, payload, req := buildEngine(t, signer)

	// payload is the zero value: it will fail structural checks immediately.
	resp, err := engine.Settle(context.Background(), payload, req)
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.NotEmpty(t, resp.ErrorReason)
}
