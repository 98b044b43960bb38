package legacyv1

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/x402x/facilitator/internal/accountpool"
	"github.com/x402x/facilitator/internal/balance"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/network"
)

type poolSet struct {
	pools map[string]*accountpool.Pool
}

func (p *poolSet) Pool(n string) (*accountpool.Pool, bool) {
	pool, ok := p.pools[n]
	return pool, ok
}

type fakeSigner struct {
	addr    common.Address
	balance *big.Int
	receipt *evmchain.TransactionReceipt
}

func (s *fakeSigner) Address() common.Address { return s.addr }
func (s *fakeSigner) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(84532), nil
}
func (s *fakeSigner) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out := make([]byte, 32)
	s.balance.FillBytes(out)
	return out, nil
}
func (s *fakeSigner) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	return nil, nil
}
func (s *fakeSigner) GetNativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *fakeSigner) EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	return 100_000, nil
}
func (s *fakeSigner) SendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	return common.HexToHash("0x1e9ac1"), nil
}
func (s *fakeSigner) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*evmchain.TransactionReceipt, error) {
	return s.receipt, nil
}

func testCfg() *evmchain.NetworkConfig {
	return &evmchain.NetworkConfig{
		CAIP2:   "eip155:84532",
		ChainID: big.NewInt(84532),
		Kind:    evmchain.NetworkKindTestnet,
		DefaultAsset: evmchain.AssetInfo{
			Address:       common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
			Decimals:      6,
			EIP712Name:    "USDC",
			EIP712Version: "2",
		},
		Metadata: evmchain.NetworkMetadata{GasModel: evmchain.GasModelEIP1559, NativeToken: "ETH"},
	}
}

func buildFixture(t *testing.T, signer *fakeSigner) (*Engine, *ecdsa.PrivateKey, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payer := crypto.PubkeyToAddress(key.PublicKey)

	registry := network.New()
	registry.Register(testCfg(), "base-sepolia")

	pools := &poolSet{pools: map[string]*accountpool.Pool{
		"eip155:84532": accountpool.New("eip155:84532", []evmchain.Signer{signer}, 10),
	}}

	engine := New(registry, balance.New(), pools,
		func(n string) (evmchain.Signer, error) { return signer, nil }, 5*time.Second)
	return engine, key, payer
}

func signedPayment(t *testing.T, key *ecdsa.PrivateKey, payer common.Address) (PaymentPayload, PaymentRequirements) {
	t.Helper()
	cfg := testCfg()
	payTo := common.HexToAddress("0x5555555555555555555555555555555555555555")
	now := time.Now().Unix()

	auth := Authorization{
		From:        payer,
		To:          payTo,
		Value:       big.NewInt(1_000_000),
		ValidAfter:  big.NewInt(now - 60),
		ValidBefore: big.NewInt(now + 600),
		Nonce:       [32]byte{42},
	}
	digest, err := evmchain.HashEIP3009Authorization(
		auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce,
		cfg.ChainID, cfg.DefaultAsset.Address, cfg.DefaultAsset.EIP712Name, cfg.DefaultAsset.EIP712Version,
	)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)

	payload := PaymentPayload{Scheme: "exact", Network: cfg.CAIP2, Signature: sig, Authorization: auth}
	req := PaymentRequirements{
		Scheme: "exact", Network: cfg.CAIP2, Asset: cfg.DefaultAsset.Address,
		PayTo: payTo, MaxAmountRequired: big.NewInt(1_000_000), MaxTimeoutSeconds: 600,
	}
	return payload, req
}

func TestVerifyAcceptsABareTransferAuthorization(t *testing.T) {
	signer := &fakeSigner{
		addr:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		balance: big.NewInt(10_000_000),
	}
	engine, key, payer := buildFixture(t, signer)
	payload, req := signedPayment(t, key, payer)

	result := engine.Verify(context.Background(), payload, req)
	require.True(t, result.IsValid, result.Detail)
	require.Equal(t, payer, result.Payer)
}

func TestVerifyRejectsSchemeMismatch(t *testing.T) {
	signer := &fakeSigner{
		addr:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		balance: big.NewInt(10_000_000),
	}
	engine, key, payer := buildFixture(t, signer)
	payload, req := signedPayment(t, key, payer)
	payload.Scheme = "permit"

	result := engine.Verify(context.Background(), payload, req)
	require.False(t, result.IsValid)
	require.Equal(t, ReasonSchemeMismatch, result.InvalidReason)
}

func TestVerifyRejectsRecipientMismatch(t *testing.T) {
	signer := &fakeSigner{
		addr:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		balance: big.NewInt(10_000_000),
	}
	engine, key, payer := buildFixture(t, signer)
	payload, req := signedPayment(t, key, payer)
	req.PayTo = common.HexToAddress("0x6666666666666666666666666666666666666666")

	result := engine.Verify(context.Background(), payload, req)
	require.False(t, result.IsValid)
	require.Equal(t, ReasonInvalidSignature, result.InvalidReason)
}

func TestSettleSubmitsADirectTransfer(t *testing.T) {
	signer := &fakeSigner{
		addr:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		balance: big.NewInt(10_000_000),
		receipt: &evmchain.TransactionReceipt{Status: evmchain.TxStatusSuccess, GasUsed: 65_000},
	}
	engine, key, payer := buildFixture(t, signer)
	payload, req := signedPayment(t, key, payer)

	resp, err := engine.Settle(context.Background(), payload, req)
	require.NoError(t, err)
	require.True(t, resp.Success, resp.ErrorReason)
	require.NotEmpty(t, resp.Transaction)
	require.Equal(t, payer, resp.Payer)
}

func TestSettleReportsVerificationFailureWithoutSubmitting(t *testing.T) {
	signer := &fakeSigner{
		addr:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		balance: big.NewInt(1), // insufficient
	}
	engine, key, payer := buildFixture(t, signer)
	payload, req := signedPayment(t, key, payer)

	resp, err := engine.Settle(context.Background(), payload, req)
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, string(ReasonInsufficientFunds), resp.ErrorReason)
}
