package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, "development", cfg.Environment)
	require.True(t, cfg.EnableV2)
	require.Equal(t, "strict", cfg.HookWhitelistMode)
	require.Equal(t, uint64(150_000), cfg.GasCost.MinGasLimit)
	require.Equal(t, uint64(5_000_000), cfg.GasCost.MaxGasLimit)
	require.Equal(t, 1.5, cfg.GasCost.SafetyMultiplier)
	require.Equal(t, "smart", cfg.GasCost.GasEstimationStrategy)
	require.Equal(t, 100, cfg.RateLimit.VerifyMax)
	require.Equal(t, 20, cfg.RateLimit.SettleMax)
	require.Equal(t, 10, cfg.AccountPool.MaxQueueDepth)
	require.Equal(t, 0.01, cfg.MinFacilitatorFeeUSD)
	require.Equal(t, int64(1_000_000), cfg.MinClaimAmountUSDC)
	require.Equal(t, 3600*time.Second, cfg.CacheTTLTokenVersion)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadParsesLists(t *testing.T) {
	t.Setenv("EVM_PRIVATE_KEYS", "0xaa, 0xbb ,")
	t.Setenv("EVM_NETWORKS", "base,base-sepolia")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"0xaa", "0xbb"}, cfg.EVMPrivateKeys)
	require.Equal(t, []string{"base", "base-sepolia"}, cfg.EVMNetworks)
}

func TestLoadParsesRouterWhitelist(t *testing.T) {
	t.Setenv("ALLOWED_ROUTERS", "base:0x01|0x02, base-sepolia:0x03")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"0x01", "0x02"}, cfg.AllowedRouters["base"])
	require.Equal(t, []string{"0x03"}, cfg.AllowedRouters["base-sepolia"])
}

func TestLoadParsesBuiltinHookAddresses(t *testing.T) {
	t.Setenv("BUILTIN_HOOK_ADDRESSES", "base-sepolia:transfer=0x04|reward=0x05")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0x04", cfg.HookAddresses["base-sepolia"]["transfer"])
	require.Equal(t, "0x05", cfg.HookAddresses["base-sepolia"]["reward"])
}

func TestLoadCollectsRPCOverrides(t *testing.T) {
	t.Setenv("RPC_URL_BASE", "https://rpc.example.org")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://rpc.example.org", cfg.RPCOverrides["base"])
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("FACILITATOR_ENABLE_V2", "definitely")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Port)
	require.True(t, cfg.EnableV2)
}
