// Package balance implements the Balance Checker (C6): ERC-20 balanceOf
// queries with a short-TTL cache, used defensively before submission even
// though verification already checked it (§4.6).
package balance

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402x/facilitator/internal/cache"
	"github.com/x402x/facilitator/internal/evmchain"
)

const defaultTTL = 5 * time.Second

// Result is §4.6's {hasSufficient, balance, required, cached} contract.
type Result struct {
	HasSufficient bool
	Balance       *big.Int
	Required      *big.Int
	Cached        bool
}

type cacheKey struct {
	network string
	token   common.Address
	owner   common.Address
}

// Checker queries and caches ERC-20 balances.
type Checker struct {
	cache *cache.TTLCache[cacheKey, *big.Int]
}

// New builds a Checker with the short default TTL.
func New() *Checker {
	return &Checker{cache: cache.New[cacheKey, *big.Int](1000, defaultTTL)}
}

// Check queries token.balanceOf(owner) on network via reader, using the
// cache when fresh, and compares against required.
func (c *Checker) Check(ctx context.Context, reader evmchain.ContractReader, network string, token, owner common.Address, required *big.Int) (Result, error) {
	key := cacheKey{network: network, token: token, owner: owner}

	if cached, ok := c.cache.Get(key); ok {
		return Result{
			HasSufficient: cached.Cmp(required) >= 0,
			Balance:       cached,
			Required:      required,
			Cached:        true,
		}, nil
	}

	data, err := evmchain.PackBalanceOf(owner)
	if err != nil {
		return Result{}, err
	}
	out, err := reader.CallContract(ctx, token, data)
	if err != nil {
		return Result{}, err
	}
	balance, err := evmchain.UnpackBalanceOf(out)
	if err != nil {
		return Result{}, err
	}

	c.cache.Set(key, balance)
	return Result{
		HasSufficient: balance.Cmp(required) >= 0,
		Balance:       balance,
		Required:      required,
		Cached:        false,
	}, nil
}

// Invalidate drops a cached balance, used after a settlement changes it.
func (c *Checker) Invalidate(network string, token, owner common.Address) {
	c.cache.Delete(cacheKey{network: network, token: token, owner: owner})
}
