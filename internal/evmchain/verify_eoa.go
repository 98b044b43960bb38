package evmchain

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerifyEOASignature recovers the signer from a 65-byte ECDSA signature over
// hash and reports whether it equals expectedAddress.
func VerifyEOASignature(hash [32]byte, signature []byte, expectedAddress common.Address) (bool, error) {
	if len(signature) != 65 {
		return false, errors.New("evmchain: signature must be 65 bytes")
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	// go-ethereum's recovery expects the v byte in {0,1}; wallets commonly
	// produce {27,28}.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return false, err
	}
	recovered := crypto.PubkeyToAddress(*pub)
	return recovered == expectedAddress, nil
}
