package evmchain

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var errNotBigInt = errors.New("evmchain: call did not return a uint256")

// routerABIJSON implements §6's on-chain interface: settleAndExecute plus
// the fee-claim pair, the getPendingFees view and the claimFees call.
const routerABIJSON = `[
{"type":"function","name":"settleAndExecute","stateMutability":"nonpayable","inputs":[
 {"name":"token","type":"address"},
 {"name":"from","type":"address"},
 {"name":"value","type":"uint256"},
 {"name":"validAfter","type":"uint256"},
 {"name":"validBefore","type":"uint256"},
 {"name":"nonce","type":"bytes32"},
 {"name":"signature","type":"bytes"},
 {"name":"salt","type":"bytes32"},
 {"name":"payTo","type":"address"},
 {"name":"facilitatorFee","type":"uint256"},
 {"name":"hook","type":"address"},
 {"name":"hookData","type":"bytes"}
],"outputs":[]},
{"type":"function","name":"getPendingFees","stateMutability":"view","inputs":[
 {"name":"facilitator","type":"address"},
 {"name":"token","type":"address"}
],"outputs":[{"name":"amount","type":"uint256"}]},
{"type":"function","name":"claimFees","stateMutability":"nonpayable","inputs":[
 {"name":"tokens","type":"address[]"}
],"outputs":[]}
]`

var routerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic("evmchain: invalid router ABI: " + err.Error())
	}
	return parsed
}()

// PackSettleAndExecute ABI-encodes a call to the router's settleAndExecute,
// per §4.9c and §6's on-chain interface.
func PackSettleAndExecute(p SettlementParams) ([]byte, error) {
	return routerABI.Pack(
		"settleAndExecute",
		p.Asset,
		p.From,
		p.Value,
		p.ValidAfter,
		p.ValidBefore,
		p.Nonce,
		p.Signature,
		p.Salt,
		p.FinalPayTo,
		p.FacilitatorFee,
		p.Hook,
		p.HookData,
	)
}

// PackGetPendingFees ABI-encodes the getPendingFees view call.
func PackGetPendingFees(facilitator, token common.Address) ([]byte, error) {
	return routerABI.Pack("getPendingFees", facilitator, token)
}

// UnpackGetPendingFees decodes the uint256 return value.
func UnpackGetPendingFees(data []byte) (*big.Int, error) {
	out, err := routerABI.Unpack("getPendingFees", data)
	if err != nil {
		return nil, err
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, errNotBigInt
	}
	return amount, nil
}

// PackClaimFees ABI-encodes a claimFees(address[]) call.
func PackClaimFees(tokens []common.Address) ([]byte, error) {
	return routerABI.Pack("claimFees", tokens)
}
