package feeclaim

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/x402x/facilitator/internal/accountpool"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/logging"
	"github.com/x402x/facilitator/internal/network"
)

type poolSet struct {
	pools map[string]*accountpool.Pool
}

func (p *poolSet) Pool(n string) (*accountpool.Pool, bool) {
	pool, ok := p.pools[n]
	return pool, ok
}

// fakeSigner answers getPendingFees with a fixed amount and claimFees with
// a configurable outcome.
type fakeSigner struct {
	addr        common.Address
	pendingFees *big.Int
	sendErr     error
	receipt     *evmchain.TransactionReceipt
}

func (s *fakeSigner) Address() common.Address { return s.addr }
func (s *fakeSigner) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(84532), nil
}
func (s *fakeSigner) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out := make([]byte, 32)
	s.pendingFees.FillBytes(out)
	return out, nil
}
func (s *fakeSigner) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	return nil, nil
}
func (s *fakeSigner) GetNativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *fakeSigner) EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	return 150_000, nil
}
func (s *fakeSigner) SendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	if s.sendErr != nil {
		return common.Hash{}, s.sendErr
	}
	return common.HexToHash("0xfee1"), nil
}
func (s *fakeSigner) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*evmchain.TransactionReceipt, error) {
	return s.receipt, nil
}

func testCfg(caip2 string) *evmchain.NetworkConfig {
	return &evmchain.NetworkConfig{
		CAIP2:                   caip2,
		ChainID:                 big.NewInt(84532),
		Kind:                    evmchain.NetworkKindTestnet,
		SettlementRouterAddress: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		DefaultAsset: evmchain.AssetInfo{
			Address:  common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
			Decimals: 6,
		},
		Metadata: evmchain.NetworkMetadata{GasModel: evmchain.GasModelEIP1559, NativeToken: "ETH"},
	}
}

func TestClaimSucceedsAcrossANetworkWithPendingFees(t *testing.T) {
	registry := network.New()
	registry.Register(testCfg("eip155:84532"), "base-sepolia")

	signer := &fakeSigner{
		addr:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		pendingFees: big.NewInt(5_000_000),
		receipt:     &evmchain.TransactionReceipt{Status: evmchain.TxStatusSuccess, GasUsed: 100_000},
	}
	pools := &poolSet{pools: map[string]*accountpool.Pool{
		"eip155:84532": accountpool.New("eip155:84532", []evmchain.Signer{signer}, 10),
	}}

	claimer := New(registry, pools, func(n string) (evmchain.Signer, error) { return signer, nil },
		big.NewInt(1_000_000), logging.New("development"))

	resp := claimer.Claim(context.Background(), Filter{})
	require.True(t, resp.Success)
	require.Len(t, resp.Groups, 1)
	require.Equal(t, StatusSuccess, resp.Groups[0].Status)
	require.Equal(t, 0, resp.Groups[0].TotalClaimed.Cmp(big.NewInt(5_000_000)))
	require.Equal(t, 0, resp.TotalClaimed.Cmp(big.NewInt(5_000_000)))
}

func TestClaimTokenFilterExcludesNonMatchingNetworks(t *testing.T) {
	registry := network.New()
	registry.Register(testCfg("eip155:84532"), "base-sepolia")

	signer := &fakeSigner{
		addr:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		pendingFees: big.NewInt(5_000_000),
		receipt:     &evmchain.TransactionReceipt{Status: evmchain.TxStatusSuccess, GasUsed: 100_000},
	}
	pools := &poolSet{pools: map[string]*accountpool.Pool{
		"eip155:84532": accountpool.New("eip155:84532", []evmchain.Signer{signer}, 10),
	}}

	claimer := New(registry, pools, func(n string) (evmchain.Signer, error) { return signer, nil },
		big.NewInt(1_000_000), logging.New("development"))

	resp := claimer.Claim(context.Background(), Filter{Tokens: []string{"0x000000000000000000000000000000000000dEaD"}})
	require.False(t, resp.Success) // nothing attempted
	require.Empty(t, resp.Groups)
	require.Equal(t, 0, resp.TotalClaimed.Sign())
}

func TestPendingFeesListsDiscoveredBalancesWithoutClaiming(t *testing.T) {
	registry := network.New()
	registry.Register(testCfg("eip155:84532"), "base-sepolia")

	signer := &fakeSigner{
		addr:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		pendingFees: big.NewInt(250), // below minClaim, still reported
	}
	pools := &poolSet{pools: map[string]*accountpool.Pool{
		"eip155:84532": accountpool.New("eip155:84532", []evmchain.Signer{signer}, 10),
	}}

	claimer := New(registry, pools, func(n string) (evmchain.Signer, error) { return signer, nil },
		big.NewInt(1_000_000), logging.New("development"))

	fees := claimer.PendingFees(context.Background(), Filter{Networks: []string{"base-sepolia"}})
	require.Len(t, fees, 1)
	require.Equal(t, "eip155:84532", fees[0].Network)
	require.Equal(t, signer.addr, fees[0].Facilitator)
	require.Equal(t, 0, fees[0].Amount.Cmp(big.NewInt(250)))
}

func TestClaimSkipsBelowMinimumAndReportsPartialFailureAcrossNetworks(t *testing.T) {
	registry := network.New()
	registry.Register(testCfg("eip155:84532"), "base-sepolia")
	registry.Register(testCfg("eip155:11155111"), "sepolia")

	smallSigner := &fakeSigner{
		addr:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		pendingFees: big.NewInt(100), // below the minimum
	}
	failingSigner := &fakeSigner{
		addr:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		pendingFees: big.NewInt(5_000_000),
		sendErr:     context.DeadlineExceeded,
	}

	pools := &poolSet{pools: map[string]*accountpool.Pool{
		"eip155:84532":    accountpool.New("eip155:84532", []evmchain.Signer{smallSigner}, 10),
		"eip155:11155111": accountpool.New("eip155:11155111", []evmchain.Signer{failingSigner}, 10),
	}}

	claimer := New(registry, pools, func(n string) (evmchain.Signer, error) {
		if n == "eip155:84532" {
			return smallSigner, nil
		}
		return failingSigner, nil
	}, big.NewInt(1_000_000), logging.New("development"))

	resp := claimer.Claim(context.Background(), Filter{})
	require.False(t, resp.Success) // one group failed, so overall success is false
	require.Len(t, resp.Groups, 2)

	var sawSkipped, sawFailed bool
	for _, g := range resp.Groups {
		switch g.Status {
		case StatusSkipped:
			sawSkipped = true
		case StatusFailed:
			sawFailed = true
		}
	}
	require.True(t, sawSkipped)
	require.True(t, sawFailed)
}
