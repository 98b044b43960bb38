package evmchain

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// fakeChainState serves GetCode and CallContract for the universal verifier.
type fakeChainState struct {
	code       []byte
	callResult []byte
}

func (f *fakeChainState) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	return f.code, nil
}

func (f *fakeChainState) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return f.callResult, nil
}

func TestVerifyUniversalAcceptsAPlainEOASignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	var hash [32]byte
	copy(hash[:], crypto.Keccak256([]byte("payload")))
	sig, err := crypto.Sign(hash[:], key)
	require.NoError(t, err)

	state := &fakeChainState{}
	ok, err := VerifyUniversalSignature(context.Background(), state, state, signer, hash, sig, true)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyUniversalUnwrapsERC6492ForUndeployedWallet(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	var hash [32]byte
	copy(hash[:], crypto.Keccak256([]byte("counterfactual")))
	inner, err := crypto.Sign(hash[:], key)
	require.NoError(t, err)

	wrapped := wrapERC6492(t, common.HexToAddress("0x7777777777777777777777777777777777777777"), []byte{0x01}, inner)

	state := &fakeChainState{code: nil} // wallet not deployed yet
	ok, err := VerifyUniversalSignature(context.Background(), state, state, signer, hash, wrapped, true)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyUniversalRejectsUndeployedWalletWhenDisallowed(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	var hash [32]byte
	inner, err := crypto.Sign(hash[:], key)
	require.NoError(t, err)
	wrapped := wrapERC6492(t, common.Address{}, nil, inner)

	state := &fakeChainState{code: nil}
	_, err = VerifyUniversalSignature(context.Background(), state, state, signer, hash, wrapped, false)
	require.Error(t, err)
}

func TestVerifyUniversalFallsBackToEIP1271ForDeployedWallet(t *testing.T) {
	wallet := common.HexToAddress("0x8888888888888888888888888888888888888888")

	var hash [32]byte
	// isValidSignature's magic return value, left-padded into a 32-byte word.
	magic := make([]byte, 32)
	copy(magic, eip1271MagicValue[:])

	state := &fakeChainState{code: []byte{0x60}, callResult: magic}
	sig := make([]byte, 64) // not 65 bytes, so EOA recovery is skipped
	ok, err := VerifyUniversalSignature(context.Background(), state, state, wallet, hash, sig, true)
	require.NoError(t, err)
	require.True(t, ok)
}
