package evmchain

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc6492MagicBytes is the fixed 32-byte suffix ERC-6492 appends to a
// wrapped signature so verifiers can detect the wrapper unambiguously.
var erc6492MagicBytes = common.FromHex("6492649264926492649264926492649264926492649264926492649264926492")

// ERC6492SignatureData is the unwrapped payload of an ERC-6492 signature.
type ERC6492SignatureData struct {
	Factory         common.Address
	FactoryCalldata []byte
	InnerSignature  []byte
}

// IsERC6492Signature reports whether signature carries the ERC-6492 magic
// suffix, i.e. it wraps a counterfactual (possibly undeployed) smart
// contract wallet's signature.
func IsERC6492Signature(signature []byte) bool {
	if len(signature) < len(erc6492MagicBytes) {
		return false
	}
	return bytes.Equal(signature[len(signature)-len(erc6492MagicBytes):], erc6492MagicBytes)
}

var erc6492ArgTypes = func() abi.Arguments {
	addressTy, _ := abi.NewType("address", "", nil)
	bytesTy, _ := abi.NewType("bytes", "", nil)
	return abi.Arguments{
		{Type: addressTy},
		{Type: bytesTy},
		{Type: bytesTy},
	}
}()

// ParseERC6492Signature strips the magic suffix and ABI-decodes the
// (address factory, bytes factoryCalldata, bytes innerSignature) tuple.
func ParseERC6492Signature(signature []byte) (*ERC6492SignatureData, error) {
	if !IsERC6492Signature(signature) {
		return nil, errors.New("evmchain: not an ERC-6492 signature")
	}
	encoded := signature[:len(signature)-len(erc6492MagicBytes)]

	values, err := erc6492ArgTypes.Unpack(encoded)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, errors.New("evmchain: unexpected ERC-6492 tuple arity")
	}
	factory, ok := values[0].(common.Address)
	if !ok {
		return nil, errors.New("evmchain: malformed ERC-6492 factory field")
	}
	calldata, ok := values[1].([]byte)
	if !ok {
		return nil, errors.New("evmchain: malformed ERC-6492 factoryCalldata field")
	}
	inner, ok := values[2].([]byte)
	if !ok {
		return nil, errors.New("evmchain: malformed ERC-6492 innerSignature field")
	}
	return &ERC6492SignatureData{Factory: factory, FactoryCalldata: calldata, InnerSignature: inner}, nil
}
