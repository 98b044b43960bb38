// Command facilitator runs the x402x settlement facilitator: it loads
// configuration, wires every mechanism package together, and serves the
// HTTP surface until it receives an interrupt or terminate signal.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/x402x/facilitator/internal/accountpool"
	"github.com/x402x/facilitator/internal/balance"
	"github.com/x402x/facilitator/internal/config"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/feeclaim"
	"github.com/x402x/facilitator/internal/gas"
	"github.com/x402x/facilitator/internal/health"
	"github.com/x402x/facilitator/internal/hooks"
	"github.com/x402x/facilitator/internal/legacyv1"
	"github.com/x402x/facilitator/internal/logging"
	"github.com/x402x/facilitator/internal/network"
	"github.com/x402x/facilitator/internal/orchestrator"
	"github.com/x402x/facilitator/internal/pricing"
	"github.com/x402x/facilitator/internal/ratelimit"
	"github.com/x402x/facilitator/internal/rediscache"
	"github.com/x402x/facilitator/internal/server"
	"github.com/x402x/facilitator/internal/settlement"
	"github.com/x402x/facilitator/internal/verify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "facilitator: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Environment)
	logger.Info().Str("environment", cfg.Environment).Int("port", cfg.Port).Msg("starting x402x facilitator")

	if len(cfg.EVMPrivateKeys) == 0 {
		logger.Fatal().Msg("no signing accounts configured: set EVM_PRIVATE_KEYS")
	}

	networks, err := network.BuildRegistry(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build network registry")
	}

	clients, signers, pools, err := setupChains(cfg, networks, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up chains")
	}

	chainReader := func(n string) (evmchain.Signer, error) {
		netCfg, err := networks.Resolve(n)
		if err != nil {
			return nil, err
		}
		account, ok := signers[netCfg.CAIP2]
		if !ok || len(account) == 0 {
			return nil, fmt.Errorf("facilitator: no signer configured for network %q", n)
		}
		return account[0], nil
	}

	hookRegistry := hooks.New()
	for _, netCfg := range networks.Supported() {
		if len(netCfg.BuiltinHookAddresses) > 0 {
			hookRegistry.RegisterBuiltins(netCfg.CAIP2, netCfg.BuiltinHookAddresses)
		}
	}

	gasEstimator := gas.New(hookRegistry, cfg.GasCost, cfg.VerifyTimeout)

	gasPrices := pricing.NewGasPriceCache(gasPriceSource(clients, networks), staticGasPriceFallback(networks))
	tokenPrices := pricing.NewTokenPriceCache(unavailableTokenPriceSource, staticTokenPriceFallback())

	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	defer cancelRefresh()
	go gasPrices.RunBackgroundRefresh(refreshCtx, networkIDs(networks))
	go tokenPrices.RunBackgroundRefresh(refreshCtx, nativeTokenSymbols(networks))

	balances := balance.New()

	v2Deps := verify.Deps{
		Networks:             networks,
		Hooks:                hookRegistry,
		Balances:              balances,
		TokenPrices:           tokenPrices,
		AllowedHooks:          addressListMap(cfg.AllowedHooks),
		AllowedRouters:        addressListMap(cfg.AllowedRouters),
		HookWhitelistMode:     cfg.HookWhitelistMode,
		MinFacilitatorFeeUSD:  cfg.MinFacilitatorFeeUSD,
		ChainReader:           chainReader,
	}
	v2Verify := verify.New(v2Deps)

	var v2Settle *settlement.Engine
	if cfg.EnableV2 {
		v2Settle = settlement.New(networks, v2Verify, gasEstimator, gasPrices, tokenPrices, balances, pools, cfg.SettleTimeout, logger)
	}
	v1Engine := legacyv1.New(networks, balances, pools, legacyv1.ChainReaderFunc(chainReader), cfg.SettleTimeout)

	facilitator := orchestrator.New(networks, v1Engine, v2Verify, v2Settle)
	facilitator.
		OnAfterVerify(func(ctx orchestrator.VerifyContext, result verify.Result) error {
			logger.Debug().Str("network", ctx.Network).Bool("isValid", result.IsValid).Msg("verify completed")
			return nil
		}).
		OnAfterSettle(func(ctx orchestrator.SettleContext, resp settlement.Response) error {
			logger.Info().Str("network", ctx.Network).Bool("success", resp.Success).Str("tx", resp.Transaction).Msg("settle completed")
			return nil
		}).
		OnVerifyFailure(func(ctx orchestrator.VerifyContext, err error) (*orchestrator.VerifyFailureHookResult, error) {
			logger.Warn().Str("network", ctx.Network).Err(err).Msg("verify failed")
			return nil, nil
		}).
		OnSettleFailure(func(ctx orchestrator.SettleContext, err error) (*orchestrator.SettleFailureHookResult, error) {
			logger.Warn().Str("network", ctx.Network).Err(err).Msg("settle failed")
			return nil, nil
		})

	feeClaimer := feeclaim.New(networks, pools, chainReader, big.NewInt(cfg.MinClaimAmountUSDC), logger)

	redisClient, err := rediscache.NewClient(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, falling back to in-memory rate limiting")
		redisClient = nil
	}

	var verifyLimiter, settleLimiter ratelimit.Limiter
	if redisClient != nil {
		verifyLimiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.VerifyMax, cfg.RateLimit.Window)
		settleLimiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.SettleMax, cfg.RateLimit.Window)
	} else {
		verifyLimiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.VerifyMax, cfg.RateLimit.Window)
		settleLimiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.SettleMax, cfg.RateLimit.Window)
	}

	healthChecker := health.NewChecker(redisClient, version, health.ConfigSummary{
		Environment: cfg.Environment,
		Networks:    networkIDs(networks),
		V2Enabled:   cfg.EnableV2,
	})

	srv := server.New(server.Deps{
		Facilitator:  facilitator,
		FeeClaimer:   feeClaimer,
		Networks:     networks,
		GasEstimator: gasEstimator,
		GasPrices:    gasPrices,
		TokenPrices:  tokenPrices,
		ChainReader:  chainReader,
		Config:        cfg,
		VerifyLimiter: verifyLimiter,
		SettleLimiter: settleLimiter,
		Health:        healthChecker,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
	}

	logger.Info().Msg("draining account pools")
	pools.Shutdown(cfg.ShutdownTimeout)
	for _, c := range clients {
		c.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info().Msg("facilitator stopped")
}

// version is the facilitator's reported build version; it has no release
// pipeline wired up yet, so it stays a fixed placeholder.
const version = "dev"

// setupChains dials every registered network's RPC endpoint and builds one
// EthSigner per configured private key, grouped into one account pool per
// network. Every network shares the same configured set of signing keys,
// matching the account-pool-per-network model §4.7 describes.
func setupChains(cfg *config.Config, networks *network.Registry, logger zerolog.Logger) ([]*ethclient.Client, map[string][]evmchain.Signer, *accountpool.Registry, error) {
	var clients []*ethclient.Client
	signers := make(map[string][]evmchain.Signer)
	pools := make(map[string]*accountpool.Pool)

	for _, netCfg := range networks.Supported() {
		client, err := ethclient.Dial(netCfg.RPCURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("facilitator: failed to dial %s: %w", netCfg.CAIP2, err)
		}
		clients = append(clients, client)

		accountSigners := make([]evmchain.Signer, 0, len(cfg.EVMPrivateKeys))
		for _, pk := range cfg.EVMPrivateKeys {
			signer, err := evmchain.NewEthSigner(client, pk)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("facilitator: failed to build signer for %s: %w", netCfg.CAIP2, err)
			}
			accountSigners = append(accountSigners, signer)
			logger.Info().Str("network", netCfg.CAIP2).Str("account", signer.Address().Hex()).Msg("signing account ready")
		}
		signers[netCfg.CAIP2] = accountSigners
		pools[netCfg.CAIP2] = accountpool.New(netCfg.CAIP2, accountSigners, cfg.AccountPool.MaxQueueDepth)
	}

	return clients, signers, accountpool.NewRegistry(pools), nil
}

// gasPriceSource resolves network CAIP-2 identifiers to a dialed client and
// asks the node directly, per §4.5's "hybrid" gas price strategy.
func gasPriceSource(clients []*ethclient.Client, networks *network.Registry) pricing.GasPriceSource {
	byNetwork := make(map[string]*ethclient.Client)
	supported := networks.Supported()
	for i, netCfg := range supported {
		if i < len(clients) {
			byNetwork[netCfg.CAIP2] = clients[i]
		}
	}
	return func(ctx context.Context, networkID string) (*big.Int, error) {
		client, ok := byNetwork[networkID]
		if !ok {
			return nil, fmt.Errorf("pricing: no RPC client for network %q", networkID)
		}
		return client.SuggestGasPrice(ctx)
	}
}

// staticGasPriceFallback seeds a conservative default gas price per network
// so the cache still answers even if the RPC fetch fails before the first
// successful refresh.
func staticGasPriceFallback(networks *network.Registry) map[string]*big.Int {
	out := make(map[string]*big.Int)
	for _, netCfg := range networks.Supported() {
		out[netCfg.CAIP2] = big.NewInt(1_000_000_000) // 1 gwei
	}
	return out
}

// unavailableTokenPriceSource always fails: no token-price API client is
// wired up, so every lookup falls back to staticTokenPriceFallback instead.
func unavailableTokenPriceSource(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("pricing: no token price source configured for %q", symbol)
}

// staticTokenPriceFallback is a conservative placeholder USD price per
// native token; operators running with a real price feed would replace
// unavailableTokenPriceSource with one instead of relying on this table.
func staticTokenPriceFallback() map[string]float64 {
	return map[string]float64{
		"ETH": 3000.0,
	}
}

func networkIDs(networks *network.Registry) []string {
	supported := networks.Supported()
	out := make([]string, 0, len(supported))
	for _, netCfg := range supported {
		out = append(out, netCfg.CAIP2)
	}
	return out
}

func nativeTokenSymbols(networks *network.Registry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, netCfg := range networks.Supported() {
		symbol := netCfg.Metadata.NativeToken
		if symbol != "" && !seen[symbol] {
			seen[symbol] = true
			out = append(out, symbol)
		}
	}
	return out
}

// addressListMap converts the config layer's network -> hex address list
// into the common.Address form the verify pipeline expects.
func addressListMap(in map[string][]string) map[string][]common.Address {
	out := make(map[string][]common.Address, len(in))
	for network, addrs := range in {
		list := make([]common.Address, 0, len(addrs))
		for _, a := range addrs {
			if a == "" {
				continue
			}
			list = append(list, common.HexToAddress(a))
		}
		out[network] = list
	}
	return out
}
