package evmchain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc3009ABIJSON is the standard EIP-3009 transferWithAuthorization
// surface, used directly by the v1 legacy settlement path (no router, no
// commitment, no hook — settlement predates all three).
const erc3009ABIJSON = `[
{"type":"function","name":"transferWithAuthorization","stateMutability":"nonpayable","inputs":[
 {"name":"from","type":"address"},
 {"name":"to","type":"address"},
 {"name":"value","type":"uint256"},
 {"name":"validAfter","type":"uint256"},
 {"name":"validBefore","type":"uint256"},
 {"name":"nonce","type":"bytes32"},
 {"name":"signature","type":"bytes"}
],"outputs":[]}
]`

var erc3009ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc3009ABIJSON))
	if err != nil {
		panic("evmchain: invalid ERC-3009 ABI: " + err.Error())
	}
	return parsed
}()

// PackTransferWithAuthorization ABI-encodes a direct EIP-3009
// transferWithAuthorization call on the token contract itself, for the v1
// legacy settlement path.
func PackTransferWithAuthorization(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, signature []byte) ([]byte, error) {
	return erc3009ABI.Pack("transferWithAuthorization", from, to, value, validAfter, validBefore, nonce, signature)
}
