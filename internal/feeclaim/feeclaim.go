// Package feeclaim implements the Fee Claim Module (C10): enumerating
// pending facilitator fees across networks and accounts, then batching
// claimFees submissions per (facilitator, network) group.
package feeclaim

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/x402x/facilitator/internal/accountpool"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/logging"
	"github.com/x402x/facilitator/internal/network"
)

// defaultReceiptTimeout bounds how long a claimFees submission waits for a
// receipt before giving up; claim batches are not latency-sensitive like
// settlements, so this is generous.
const defaultReceiptTimeout = 60 * time.Second

var errClaimReverted = errors.New("feeclaim: claimFees transaction reverted")

// Status is a group's outcome, per §4.10 step 4.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Fee is one token's pending amount discovered on a single account.
type Fee struct {
	Token  common.Address
	Amount *big.Int
}

// GroupResult is one (facilitator, network) group's claim outcome.
type GroupResult struct {
	Network     string
	Facilitator common.Address
	Status      Status
	Fees        []Fee
	TotalClaimed *big.Int
	Transaction string
	Error       string
}

// Response is the aggregate result returned to the HTTP layer for
// POST /claim-fees, per §4.10 step 4 and §6. TotalClaimed sums every
// successful group's claimed amount; with USDC-only settlement all groups
// share one unit scale, so a single aggregate is meaningful.
type Response struct {
	Success      bool
	Groups       []GroupResult
	TotalClaimed *big.Int
}

// PendingFee is one discovered (network, router, token, facilitator)
// balance, per §3's PendingFee entity; derived from a router view call, not
// stored.
type PendingFee struct {
	Network     string
	Router      common.Address
	Token       common.Address
	Facilitator common.Address
	Amount      *big.Int
}

// Filter restricts a sweep to specific networks and/or tokens. Empty slices
// mean "all configured". Network entries may use any identifier the registry
// accepts; token entries are hex addresses.
type Filter struct {
	Networks []string
	Tokens   []string
}

func (f Filter) allowsToken(token common.Address) bool {
	if len(f.Tokens) == 0 {
		return true
	}
	for _, t := range f.Tokens {
		if common.HexToAddress(t) == token {
			return true
		}
	}
	return false
}

// Pools resolves the account pool for a network.
type Pools interface {
	Pool(network string) (*accountpool.Pool, bool)
}

// Claimer implements §4.10's four-step procedure.
type Claimer struct {
	networks    *network.Registry
	pools       Pools
	chainReader func(network string) (evmchain.Signer, error)
	minClaim    *big.Int // in the network default asset's base units
	logger      zerolog.Logger
}

// New builds a Claimer. minClaimBaseUnits is the minimum pending-fee amount
// (in the settlement token's base units) worth claiming; smaller balances
// are skipped rather than spending gas on them.
func New(
	networks *network.Registry,
	pools Pools,
	chainReader func(network string) (evmchain.Signer, error),
	minClaimBaseUnits *big.Int,
	logger zerolog.Logger,
) *Claimer {
	return &Claimer{
		networks:    networks,
		pools:       pools,
		chainReader: chainReader,
		minClaim:    minClaimBaseUnits,
		logger:      logger,
	}
}

// Claim runs §4.10 steps 1-4. The filter restricts which networks and
// tokens participate; an empty filter sweeps everything configured.
//
// Step 1-2 (network/account/token enumeration) fan out one goroutine per
// network via errgroup, matching the concurrent-refresh shape
// internal/pricing uses for its own per-network fan-out; each network's own
// per-account pending-fee reads and claim submissions stay sequential since
// they all resolve to the same facilitator accounts and account-pool
// queues. A per-network failure never aborts the others: the errgroup here
// always returns nil so every network gets a chance to contribute groups.
func (c *Claimer) Claim(ctx context.Context, filter Filter) Response {
	cfgs := c.resolveNetworks(filter.Networks)

	var (
		mu           sync.Mutex
		groups       []GroupResult
		attempted    bool
		allSucceeded = true
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range cfgs {
		cfg := cfg
		if !filter.allowsToken(cfg.DefaultAsset.Address) {
			continue
		}
		g.Go(func() error {
			netGroups, netAttempted, netSucceeded := c.claimNetwork(gctx, cfg)

			mu.Lock()
			groups = append(groups, netGroups...)
			attempted = attempted || netAttempted
			allSucceeded = allSucceeded && netSucceeded
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	total := new(big.Int)
	for _, gr := range groups {
		if gr.Status == StatusSuccess && gr.TotalClaimed != nil {
			total.Add(total, gr.TotalClaimed)
		}
	}

	return Response{Success: attempted && allSucceeded, Groups: groups, TotalClaimed: total}
}

// PendingFees runs §4.10 steps 1-2 only: a discovery sweep with no claim
// submissions, backing GET /pending-fees. Zero balances are omitted; the
// minimum-claim threshold is not applied here so operators can see dust
// accruing before it becomes claimable.
func (c *Claimer) PendingFees(ctx context.Context, filter Filter) []PendingFee {
	cfgs := c.resolveNetworks(filter.Networks)

	var (
		mu   sync.Mutex
		fees []PendingFee
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range cfgs {
		cfg := cfg
		if !filter.allowsToken(cfg.DefaultAsset.Address) {
			continue
		}
		g.Go(func() error {
			pool, ok := c.pools.Pool(cfg.CAIP2)
			if !ok {
				return nil
			}
			reader, err := c.chainReader(cfg.CAIP2)
			if err != nil {
				return nil
			}
			for _, account := range pool.AccountAddresses() {
				fee, err := c.pendingFee(gctx, reader, cfg, account)
				if err != nil || fee.Amount.Sign() == 0 {
					continue
				}
				mu.Lock()
				fees = append(fees, PendingFee{
					Network:     cfg.CAIP2,
					Router:      cfg.SettlementRouterAddress,
					Token:       fee.Token,
					Facilitator: account,
					Amount:      fee.Amount,
				})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return fees
}

// claimNetwork runs §4.10 steps 2-4 for a single network: per-account
// pending-fee discovery followed by a claim submission for every account
// whose balance clears minClaim.
func (c *Claimer) claimNetwork(ctx context.Context, cfg *evmchain.NetworkConfig) ([]GroupResult, bool, bool) {
	pool, ok := c.pools.Pool(cfg.CAIP2)
	if !ok {
		return nil, false, true
	}
	reader, err := c.chainReader(cfg.CAIP2)
	if err != nil {
		return nil, false, true
	}

	var groups []GroupResult
	attempted := false
	allSucceeded := true

	for _, account := range pool.AccountAddresses() {
		fee, err := c.pendingFee(ctx, reader, cfg, account)
		if err != nil {
			groups = append(groups, GroupResult{
				Network: cfg.CAIP2, Facilitator: account, Status: StatusFailed,
				Error: "pending_fees_query_failed: " + err.Error(),
			})
			attempted = true
			allSucceeded = false
			continue
		}
		if fee.Amount.Sign() == 0 {
			continue
		}
		if c.minClaim != nil && fee.Amount.Cmp(c.minClaim) < 0 {
			groups = append(groups, GroupResult{
				Network: cfg.CAIP2, Facilitator: account, Status: StatusSkipped, Fees: []Fee{fee},
			})
			continue
		}

		attempted = true
		result := c.claimGroup(ctx, pool, cfg, account, []Fee{fee})
		if result.Status != StatusSuccess {
			allSucceeded = false
		}
		groups = append(groups, result)
	}

	return groups, attempted, allSucceeded
}

func (c *Claimer) resolveNetworks(filter []string) []*evmchain.NetworkConfig {
	if len(filter) == 0 {
		return c.networks.Supported()
	}
	out := make([]*evmchain.NetworkConfig, 0, len(filter))
	for _, id := range filter {
		cfg, err := c.networks.Resolve(id)
		if err != nil {
			continue
		}
		out = append(out, cfg)
	}
	return out
}

// pendingFee queries getPendingFees for the network's single supported
// token (USDC-only, per §4.8 step 2).
func (c *Claimer) pendingFee(ctx context.Context, reader evmchain.Signer, cfg *evmchain.NetworkConfig, account common.Address) (Fee, error) {
	calldata, err := evmchain.PackGetPendingFees(account, cfg.DefaultAsset.Address)
	if err != nil {
		return Fee{}, err
	}
	raw, err := reader.CallContract(ctx, cfg.SettlementRouterAddress, calldata)
	if err != nil {
		return Fee{}, err
	}
	amount, err := evmchain.UnpackGetPendingFees(raw)
	if err != nil {
		return Fee{}, err
	}
	return Fee{Token: cfg.DefaultAsset.Address, Amount: amount}, nil
}

// claimGroup submits a single claimFees batch for one (facilitator,
// network) group on that facilitator's own account-pool queue.
func (c *Claimer) claimGroup(ctx context.Context, pool *accountpool.Pool, cfg *evmchain.NetworkConfig, account common.Address, fees []Fee) GroupResult {
	log := logging.WithCorrelation(c.logger, cfg.CAIP2, account.Hex(), cfg.SettlementRouterAddress.Hex(), "", "")

	tokens := make([]common.Address, 0, len(fees))
	total := new(big.Int)
	for _, f := range fees {
		tokens = append(tokens, f.Token)
		total.Add(total, f.Amount)
	}

	raw, err := pool.SubmitTo(ctx, account, func(ctx context.Context, signer evmchain.Signer) (any, error) {
		calldata, packErr := evmchain.PackClaimFees(tokens)
		if packErr != nil {
			return nil, packErr
		}
		gasLimit, estErr := signer.EstimateGas(ctx, cfg.SettlementRouterAddress, calldata)
		if estErr != nil {
			gasLimit = 150_000
		}
		hash, sendErr := signer.SendTransaction(ctx, cfg.SettlementRouterAddress, calldata, gasLimit)
		if sendErr != nil {
			return nil, sendErr
		}
		receipt, waitErr := signer.WaitForReceipt(ctx, hash, defaultReceiptTimeout)
		if waitErr != nil {
			return hash, waitErr
		}
		if receipt.Status != evmchain.TxStatusSuccess {
			return hash, errClaimReverted
		}
		return hash, nil
	})

	if err != nil {
		log.Warn().Err(err).Msg("fee claim failed")
		result := GroupResult{Network: cfg.CAIP2, Facilitator: account, Status: StatusFailed, Fees: fees, Error: err.Error()}
		if hash, ok := raw.(common.Hash); ok {
			result.Transaction = hash.Hex()
		}
		return result
	}

	hash, _ := raw.(common.Hash)
	log.Info().Str("tx", hash.Hex()).Str("total", total.String()).Msg("fee claim succeeded")
	return GroupResult{
		Network: cfg.CAIP2, Facilitator: account, Status: StatusSuccess,
		Fees: fees, TotalClaimed: total, Transaction: hash.Hex(),
	}
}
