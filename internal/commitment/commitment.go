// Package commitment implements the Commitment Calculator (C2): a pure,
// deterministic keccak256 over packed settlement parameters. The packing
// order here must bit-exact match the on-chain Settlement Router contract;
// any deviation is a consensus bug (§4.2).
package commitment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// protocolTag is the fixed ASCII prefix baked into every commitment, so a
// commitment can never collide across protocol versions even if all other
// fields happened to match.
const protocolTag = "X402/settle/v1"

// Params is the full set of commitment inputs enumerated in §3's Commitment
// entity.
type Params struct {
	ChainID        *big.Int
	Router         common.Address
	Asset          common.Address
	From           common.Address
	Value          *big.Int
	ValidAfter     *big.Int
	ValidBefore    *big.Int
	Salt           [32]byte
	FinalPayTo     common.Address
	FacilitatorFee *big.Int
	Hook           common.Address
	HookData       []byte
}

// Compute produces the 32-byte commitment digest. It is pure: the same
// Params always yields the same digest, and a single-bit change to any
// field changes the digest with overwhelming probability, by construction
// of keccak256.
func Compute(p Params) [32]byte {
	var buf []byte
	buf = append(buf, []byte(protocolTag)...)
	buf = append(buf, uint256Bytes(p.ChainID)...)
	buf = append(buf, p.Router.Bytes()...)
	buf = append(buf, p.Asset.Bytes()...)
	buf = append(buf, p.From.Bytes()...)
	buf = append(buf, uint256Bytes(p.Value)...)
	buf = append(buf, uint256Bytes(p.ValidAfter)...)
	buf = append(buf, uint256Bytes(p.ValidBefore)...)
	buf = append(buf, p.Salt[:]...)
	buf = append(buf, p.FinalPayTo.Bytes()...)
	buf = append(buf, uint256Bytes(p.FacilitatorFee)...)
	buf = append(buf, p.Hook.Bytes()...)

	hookDataHash := crypto.Keccak256(p.HookData)
	buf = append(buf, hookDataHash...)

	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

// uint256Bytes left-pads v into a 32-byte big-endian word, matching
// Solidity's packed encoding of a uint256 (no length prefix, fixed width).
func uint256Bytes(v *big.Int) []byte {
	out := make([]byte, 32)
	if v == nil {
		return out
	}
	v.FillBytes(out)
	return out
}

// Matches reports whether the commitment computed from params equals the
// signed authorization nonce — §4.8 step 8's single-fact anti-tampering
// check, and §8 invariant 2.
func Matches(p Params, authorizationNonce [32]byte) bool {
	return Compute(p) == authorizationNonce
}
