package evmchain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPackSettleAndExecuteUsesTheRouterSelector(t *testing.T) {
	params := SettlementParams{
		ChainID:        big.NewInt(84532),
		Router:         common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Asset:          common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		From:           common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Value:          big.NewInt(1_010_000),
		ValidAfter:     big.NewInt(0),
		ValidBefore:    big.NewInt(2_000_000_000),
		Salt:           [32]byte{1},
		FinalPayTo:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		FacilitatorFee: big.NewInt(10_000),
		Hook:           common.HexToAddress("0x4444444444444444444444444444444444444444"),
		HookData:       []byte{0xde, 0xad},
		Nonce:          [32]byte{9},
		Signature:      make([]byte, 65),
	}

	calldata, err := PackSettleAndExecute(params)
	require.NoError(t, err)
	require.Equal(t, routerABI.Methods["settleAndExecute"].ID, calldata[:4])

	// Every argument must round-trip through the ABI unchanged.
	decoded, err := routerABI.Methods["settleAndExecute"].Inputs.Unpack(calldata[4:])
	require.NoError(t, err)
	require.Equal(t, params.Asset, decoded[0])
	require.Equal(t, params.From, decoded[1])
	require.Equal(t, 0, params.Value.Cmp(decoded[2].(*big.Int)))
	require.Equal(t, params.Nonce, decoded[5])
	require.Equal(t, params.FinalPayTo, decoded[8])
	require.Equal(t, params.HookData, decoded[11])
}

func TestGetPendingFeesRoundTrip(t *testing.T) {
	calldata, err := PackGetPendingFees(
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
	)
	require.NoError(t, err)
	require.Equal(t, routerABI.Methods["getPendingFees"].ID, calldata[:4])

	// A single uint256 return value is one 32-byte big-endian word.
	out := make([]byte, 32)
	big.NewInt(5_000_000).FillBytes(out)
	amount, err := UnpackGetPendingFees(out)
	require.NoError(t, err)
	require.Equal(t, 0, amount.Cmp(big.NewInt(5_000_000)))
}

func TestPackClaimFeesEncodesTheTokenList(t *testing.T) {
	tokens := []common.Address{
		common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
	}
	calldata, err := PackClaimFees(tokens)
	require.NoError(t, err)
	require.Equal(t, routerABI.Methods["claimFees"].ID, calldata[:4])

	decoded, err := routerABI.Methods["claimFees"].Inputs.Unpack(calldata[4:])
	require.NoError(t, err)
	require.Equal(t, tokens, decoded[0])
}
