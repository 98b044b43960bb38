package evmchain

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const eip1271ABIJSON = `[{"constant":true,"inputs":[{"name":"_hash","type":"bytes32"},{"name":"_signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"magicValue","type":"bytes4"}],"payable":false,"stateMutability":"view","type":"function"}]`

// ContractReader is the minimal read interface the EIP-1271 check needs;
// satisfied by every Signer, including EthSigner, which wraps an
// ethclient.Client.
type ContractReader interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// VerifyEIP1271Signature calls isValidSignature(bytes32,bytes) on a smart
// contract wallet and compares the returned magic value.
func VerifyEIP1271Signature(ctx context.Context, reader ContractReader, wallet common.Address, hash [32]byte, signature []byte) (bool, error) {
	parsed, err := abi.JSON(strings.NewReader(eip1271ABIJSON))
	if err != nil {
		return false, err
	}
	data, err := parsed.Pack("isValidSignature", hash, signature)
	if err != nil {
		return false, err
	}
	out, err := reader.CallContract(ctx, wallet, data)
	if err != nil {
		return false, err
	}
	if len(out) < 4 {
		return false, errors.New("evmchain: isValidSignature returned short data")
	}
	var magic [4]byte
	copy(magic[:], out[:4])
	return bytes.Equal(magic[:], eip1271MagicValue[:]), nil
}
