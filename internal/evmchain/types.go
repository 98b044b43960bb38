// Package evmchain holds the EVM primitives shared by every settlement
// component: network configuration, EIP-712 hashing, ERC-6492/EIP-1271
// signature verification, and the signer interface the account pool drives.
package evmchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// GasModel distinguishes fee markets a network uses for submission.
type GasModel string

const (
	GasModelEIP1559 GasModel = "eip1559"
	GasModelLegacy  GasModel = "legacy"
)

// NetworkKind marks whether a network is production or a test network.
type NetworkKind string

const (
	NetworkKindMainnet NetworkKind = "mainnet"
	NetworkKindTestnet NetworkKind = "testnet"
)

// AssetInfo describes the single supported settlement token on a network
// (USDC-only per §4.8 step 2).
type AssetInfo struct {
	Address      common.Address
	Decimals     uint8
	EIP712Name   string
	EIP712Version string
}

// NetworkMetadata carries informational, non-resolution fields.
type NetworkMetadata struct {
	GasModel    GasModel
	NativeToken string // symbol used to look up a token-price fallback
}

// NetworkConfig is §3's NetworkConfig entity: immutable for the process
// lifetime once the registry finishes startup.
type NetworkConfig struct {
	CAIP2                  string
	ChainID                *big.Int
	Kind                   NetworkKind
	DefaultAsset           AssetInfo
	SettlementRouterAddress common.Address
	BuiltinHookAddresses   map[string]common.Address // hook type -> address
	Metadata               NetworkMetadata
	RPCURL                 string
}

// SettlementParams is the full set of parameters a settleAndExecute call
// needs, matching §6's on-chain ABI and §3's Commitment entity.
type SettlementParams struct {
	ChainID           *big.Int
	Router            common.Address
	Asset             common.Address
	From              common.Address
	Value             *big.Int
	ValidAfter        *big.Int
	ValidBefore       *big.Int
	Salt              [32]byte
	FinalPayTo        common.Address
	FacilitatorFee    *big.Int
	Hook              common.Address
	HookData          []byte
	Nonce             [32]byte // authorization.nonce == commitment
	Signature         []byte
}

// TransactionReceipt is the subset of an on-chain receipt the settlement
// engine needs, decoupled from go-ethereum's full types.Receipt so mechanism
// code and tests can construct it directly.
type TransactionReceipt struct {
	Status      uint64
	BlockNumber uint64
	TxHash      common.Hash
	GasUsed     uint64
}

const (
	TxStatusSuccess = uint64(1)
	TxStatusFailed  = uint64(0)
)
