package evmchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Signer is the chain-facing interface a single signing account exposes to
// the account pool and settlement engine. It wraps one ecdsa.PrivateKey and
// one RPC client; the account pool holds one Signer per configured account.
type Signer interface {
	Address() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	GetCode(ctx context.Context, address common.Address) ([]byte, error)
	GetNativeBalance(ctx context.Context, address common.Address) (*big.Int, error)
	EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error)
	SendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*TransactionReceipt, error)
}

// EthSigner is Signer backed by an ethclient.Client and a raw private key,
// adapted from the teacher's facilitatorEvmSigner (cmd/facilitator/main.go):
// PendingNonceAt + SuggestGasPrice + types.NewTransaction + types.SignTx +
// SendTransaction, and a polling WaitForReceipt loop.
type EthSigner struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewEthSigner builds an EthSigner from a hex-encoded private key and a
// connected client.
func NewEthSigner(client *ethclient.Client, privateKeyHex string) (*EthSigner, error) {
	key, err := crypto.HexToECDSA(trim0x(privateKeyHex))
	if err != nil {
		return nil, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &EthSigner{client: client, privateKey: key, address: addr}, nil
}

func trim0x(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (s *EthSigner) Address() common.Address { return s.address }

func (s *EthSigner) ChainID(ctx context.Context) (*big.Int, error) {
	return s.client.ChainID(ctx)
}

func (s *EthSigner) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (s *EthSigner) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	return s.client.CodeAt(ctx, address, nil)
}

func (s *EthSigner) GetNativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return s.client.BalanceAt(ctx, address, nil)
}

func (s *EthSigner) EstimateGas(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	return s.client.EstimateGas(ctx, ethereum.CallMsg{From: s.address, To: &to, Data: data})
}

// SendTransaction signs and submits a transaction calling `to` with `data`
// and the supplied gasLimit, mirroring the teacher's WriteContract flow:
// pending nonce, suggested gas price, sign, send.
func (s *EthSigner) SendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), s.privateKey)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

// WaitForReceipt polls for a mined receipt, matching the teacher's
// 30-attempt, 1-second-interval polling loop but bounded by a caller-
// supplied timeout instead of a fixed attempt count.
func (s *EthSigner) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*TransactionReceipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return &TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash,
				GasUsed:     receipt.GasUsed,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrReceiptTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ErrReceiptTimeout is returned by WaitForReceipt when the deadline elapses
// before a receipt is observed; the settlement engine maps this to the
// recoverable TransactionTimeout classification.
var ErrReceiptTimeout = errors.New("evmchain: timed out waiting for transaction receipt")

var _ bind.ContractCaller = (*ethclient.Client)(nil) // documents the interface EthSigner relies on
