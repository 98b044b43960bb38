package evmchain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// CodeReader resolves whether an address is a deployed contract, used to
// disambiguate EOA signatures from EIP-1271/ERC-6492 ones when the
// signature length alone (65 bytes) does not settle it.
type CodeReader interface {
	GetCode(ctx context.Context, address common.Address) ([]byte, error)
}

// VerifyUniversalSignature dispatches between EOA, EIP-1271, and ERC-6492
// counterfactual-wallet verification based on the wrapper present and the
// deployed state of signerAddress. allowUndeployed permits signatures from
// wallets that have not yet been deployed, relying solely on the embedded
// factory/calldata (no simulation is performed here — deployment, if
// required, is the settlement engine's concern).
func VerifyUniversalSignature(ctx context.Context, codeReader CodeReader, contractReader ContractReader, signerAddress common.Address, hash [32]byte, signature []byte, allowUndeployed bool) (bool, error) {
	if IsERC6492Signature(signature) {
		wrapped, err := ParseERC6492Signature(signature)
		if err != nil {
			return false, err
		}

		code, err := codeReader.GetCode(ctx, signerAddress)
		if err != nil {
			return false, err
		}
		if len(code) == 0 {
			if !allowUndeployed {
				return false, errors.New("evmchain: counterfactual wallet not deployed")
			}
			// No on-chain code yet: the factory/calldata in the wrapper is
			// the only attestation available; verify the inner signature
			// using EOA recovery as a best-effort check, matching what a
			// deployed 1-of-1 smart wallet would ultimately validate.
			return VerifyEOASignature(hash, wrapped.InnerSignature, signerAddress)
		}
		return VerifyEIP1271Signature(ctx, contractReader, signerAddress, hash, wrapped.InnerSignature)
	}

	if len(signature) == 65 {
		ok, err := VerifyEOASignature(hash, signature, signerAddress)
		if err == nil && ok {
			return true, nil
		}
		// Fall through: a 65-byte payload can still be a valid bytes
		// argument to isValidSignature for some smart wallets.
	}

	code, err := codeReader.GetCode(ctx, signerAddress)
	if err != nil {
		return false, err
	}
	if len(code) == 0 {
		return false, errors.New("evmchain: no deployed code for non-EOA signature")
	}
	return VerifyEIP1271Signature(ctx, contractReader, signerAddress, hash, signature)
}
