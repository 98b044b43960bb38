package network

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/x402x/facilitator/internal/evmchain"
)

func baseSepolia() *evmchain.NetworkConfig {
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
		SettlementRouterAddress: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
}

func TestRegistryResolvesCanonicalAndAlias(t *testing.T) {
	r := New()
	r.Register(baseSepolia(), "base-sepolia")

	cfg, err := r.Resolve("eip155:84532")
	require.NoError(t, err)
	require.Equal(t, "eip155:84532", cfg.CAIP2)

	cfg2, err := r.Resolve("base-sepolia")
	require.NoError(t, err)
	require.Same(t, cfg, cfg2)

	cfg3, err := r.Resolve("Base-Sepolia")
	require.NoError(t, err)
	require.Same(t, cfg, cfg3)
}

func TestRegistryUnsupportedNetwork(t *testing.T) {
	r := New()
	r.Register(baseSepolia(), "base-sepolia")

	_, err := r.Resolve("polygon-mainnet")
	require.Error(t, err)
	var unsupported *UnsupportedNetworkError
	require.ErrorAs(t, err, &unsupported)
}

func TestRegistrySupportedListsAll(t *testing.T) {
	r := New()
	r.Register(baseSepolia(), "base-sepolia")
	require.Len(t, r.Supported(), 1)
}
