package evmchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// transferWithAuthorizationTypes is the EIP-712 type set for EIP-3009's
// TransferWithAuthorization struct, per §6's "EIP-712 domain" section.
func transferWithAuthorizationTypes() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// HashTypedData computes keccak256(0x19 0x01 || domainSeparator || structHash)
// for the given typed-data document, matching EIP-712's digest construction.
func HashTypedData(domain apitypes.TypedDataDomain, types apitypes.Types, primaryType string, message apitypes.TypedDataMessage) ([32]byte, error) {
	td := apitypes.TypedData{
		Types:       types,
		PrimaryType: primaryType,
		Domain:      domain,
		Message:     message,
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], digest)
	return out, nil
}

// HashEIP3009Authorization builds the TransferWithAuthorization typed-data
// digest for a settlement: from the payer to the router, for the combined
// value (authorization.value, see §3's invariant), keyed by the commitment
// hash as nonce.
func HashEIP3009Authorization(
	from, to common.Address,
	value, validAfter, validBefore *big.Int,
	nonce [32]byte,
	chainID *big.Int,
	verifyingContract common.Address,
	tokenName, tokenVersion string,
) ([32]byte, error) {
	domain := apitypes.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainId:           math.NewHexOrDecimal256(chainID.Int64()),
		VerifyingContract: verifyingContract.Hex(),
	}
	message := apitypes.TypedDataMessage{
		"from":        from.Hex(),
		"to":          to.Hex(),
		"value":       value.String(),
		"validAfter":  validAfter.String(),
		"validBefore": validBefore.String(),
		"nonce":       nonce[:],
	}
	return HashTypedData(domain, transferWithAuthorizationTypes(), "TransferWithAuthorization", message)
}
