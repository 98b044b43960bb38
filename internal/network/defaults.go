package network

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402x/facilitator/internal/config"
	"github.com/x402x/facilitator/internal/evmchain"
)

// catalogEntry is one entry of the built-in network catalog: everything
// about a network that isn't operator configuration (RPC endpoint, allowed
// routers, hook addresses) and therefore doesn't belong in §6's environment
// surface.
type catalogEntry struct {
	alias         string
	chainID       int64
	kind          evmchain.NetworkKind
	usdc          string
	eip712Name    string
	eip712Version string
	nativeToken   string
	gasModel      evmchain.GasModel
	defaultRPC    string
}

// catalog lists the networks this facilitator knows how to price USDC on
// out of the box. Base Sepolia's USDC address and EIP-712 domain match the
// ones the verify/settlement test fixtures use.
var catalog = []catalogEntry{
	{
		alias: "base", chainID: 8453, kind: evmchain.NetworkKindMainnet,
		usdc: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", eip712Name: "USD Coin", eip712Version: "2",
		nativeToken: "ETH", gasModel: evmchain.GasModelEIP1559, defaultRPC: "https://mainnet.base.org",
	},
	{
		alias: "base-sepolia", chainID: 84532, kind: evmchain.NetworkKindTestnet,
		usdc: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", eip712Name: "USDC", eip712Version: "2",
		nativeToken: "ETH", gasModel: evmchain.GasModelEIP1559, defaultRPC: "https://sepolia.base.org",
	},
	{
		alias: "ethereum", chainID: 1, kind: evmchain.NetworkKindMainnet,
		usdc: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", eip712Name: "USD Coin", eip712Version: "2",
		nativeToken: "ETH", gasModel: evmchain.GasModelEIP1559, defaultRPC: "https://eth.llamarpc.com",
	},
	{
		alias: "arbitrum", chainID: 42161, kind: evmchain.NetworkKindMainnet,
		usdc: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", eip712Name: "USD Coin", eip712Version: "2",
		nativeToken: "ETH", gasModel: evmchain.GasModelEIP1559, defaultRPC: "https://arb1.arbitrum.io/rpc",
	},
	{
		alias: "optimism", chainID: 10, kind: evmchain.NetworkKindMainnet,
		usdc: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", eip712Name: "USD Coin", eip712Version: "2",
		nativeToken: "ETH", gasModel: evmchain.GasModelEIP1559, defaultRPC: "https://mainnet.optimism.io",
	},
}

// BuildRegistry constructs a Registry from the operator's EVM_NETWORKS
// selection, applying RPC_URL_<network> overrides, the first ALLOWED_ROUTERS
// entry as each network's settlement router address, and the built-in hook
// address map, per §4.1/§6. Hook allow-lists are not applied here. Unknown
// entries in EVM_NETWORKS are a configuration error (fatal at startup, per
// §7's Configuration error class).
func BuildRegistry(cfg *config.Config) (*Registry, error) {
	registry := New()

	enabled := cfg.EVMNetworks
	if len(enabled) == 0 {
		enabled = []string{"base", "base-sepolia"}
	}

	for _, alias := range enabled {
		entry, ok := lookupCatalog(alias)
		if !ok {
			return nil, fmt.Errorf("network: unknown network %q in EVM_NETWORKS", alias)
		}

		rpcURL := entry.defaultRPC
		if override, ok := cfg.RPCOverrides[entry.alias]; ok && override != "" {
			rpcURL = override
		}

		builtinHooks := map[string]common.Address{}
		for kind, addr := range cfg.HookAddresses[entry.alias] {
			builtinHooks[kind] = common.HexToAddress(addr)
		}

		var router common.Address
		if addrs := cfg.AllowedRouters[entry.alias]; len(addrs) > 0 {
			router = common.HexToAddress(addrs[0])
		}

		netCfg := &evmchain.NetworkConfig{
			CAIP2:   fmt.Sprintf("eip155:%d", entry.chainID),
			ChainID: big.NewInt(entry.chainID),
			Kind:    entry.kind,
			DefaultAsset: evmchain.AssetInfo{
				Address:       common.HexToAddress(entry.usdc),
				Decimals:      6,
				EIP712Name:    entry.eip712Name,
				EIP712Version: entry.eip712Version,
			},
			SettlementRouterAddress: router,
			BuiltinHookAddresses:    builtinHooks,
			Metadata: evmchain.NetworkMetadata{
				GasModel:    entry.gasModel,
				NativeToken: entry.nativeToken,
			},
			RPCURL: rpcURL,
		}

		registry.Register(netCfg, entry.alias)
	}

	return registry, nil
}

func lookupCatalog(alias string) (catalogEntry, bool) {
	for _, e := range catalog {
		if e.alias == alias {
			return e, true
		}
	}
	return catalogEntry{}, false
}
