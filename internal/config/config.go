// Package config loads facilitator configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RateLimitConfig holds the per-endpoint token bucket defaults from §6.
type RateLimitConfig struct {
	VerifyMax int
	SettleMax int
	Window    time.Duration
}

// AccountPoolConfig holds §4.7 / §6 account pool defaults.
type AccountPoolConfig struct {
	Strategy      string
	MaxQueueDepth int
}

// GasCostConfig holds §4.4's gasCostConfig inputs.
type GasCostConfig struct {
	MinGasLimit            uint64
	MaxGasLimit            uint64
	SafetyMultiplier       float64
	DynamicGasLimitMargin  float64
	ValidationTolerance    float64
	GasEstimationStrategy  string // code | simulation | smart
	CodeValidationEnabled  bool
}

// Config is the facilitator's fully-parsed runtime configuration.
type Config struct {
	Environment string
	Port        int

	RedisURL string

	RateLimit   RateLimitConfig
	AccountPool AccountPoolConfig
	GasCost     GasCostConfig

	EVMPrivateKeys []string // hex-encoded, comma-separated; parsed into signers by the caller
	EVMNetworks    []string
	RPCOverrides   map[string]string // network -> RPC URL
	AllowedRouters map[string][]string
	AllowedHooks   map[string][]string          // network -> custom hook addresses allow-listed outside the built-ins
	HookAddresses  map[string]map[string]string // network -> hook kind -> address, for the built-in validators
	HookWhitelistMode string // strict | deferred

	EnableV2 bool

	MinFacilitatorFeeUSD float64
	MinClaimAmountUSDC   int64

	CacheTTLTokenVersion time.Duration
	CacheMaxKeys         int

	ShutdownTimeout  time.Duration
	RequestBodyLimit int64

	VerifyTimeout time.Duration
	SettleTimeout time.Duration
}

// Load populates Config from the process environment, falling back to a
// local .env file when present. Missing .env is not fatal.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnvInt("SERVER_PORT", 3000),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		RateLimit: RateLimitConfig{
			VerifyMax: getEnvInt("RATE_LIMIT_VERIFY_MAX", 100),
			SettleMax: getEnvInt("RATE_LIMIT_SETTLE_MAX", 20),
			Window:    time.Minute,
		},
		AccountPool: AccountPoolConfig{
			Strategy:      getEnv("ACCOUNT_POOL_STRATEGY", "round_robin"),
			MaxQueueDepth: getEnvInt("ACCOUNT_POOL_MAX_QUEUE_DEPTH", 10),
		},
		GasCost: GasCostConfig{
			MinGasLimit:           uint64(getEnvInt("MIN_GAS_LIMIT", 150_000)),
			MaxGasLimit:           uint64(getEnvInt("MAX_GAS_LIMIT", 5_000_000)),
			SafetyMultiplier:      getEnvFloat("SAFETY_MULTIPLIER", 1.5),
			DynamicGasLimitMargin: getEnvFloat("DYNAMIC_GAS_LIMIT_MARGIN", 0.2),
			ValidationTolerance:   getEnvFloat("VALIDATION_TOLERANCE", 0.1),
			GasEstimationStrategy: getEnv("GAS_ESTIMATION_STRATEGY", "smart"),
			CodeValidationEnabled: getEnvBool("CODE_VALIDATION_ENABLED", true),
		},

		EVMPrivateKeys: getEnvList("EVM_PRIVATE_KEYS"),
		EVMNetworks:    getEnvList("EVM_NETWORKS"),
		RPCOverrides:   getEnvMap("RPC_URL_"),
		AllowedRouters: getEnvListMap("ALLOWED_ROUTERS"),
		AllowedHooks:   getEnvListMap("ALLOWED_HOOKS"),
		HookAddresses:  getEnvNestedMap("BUILTIN_HOOK_ADDRESSES"),
		HookWhitelistMode: getEnv("HOOK_WHITELIST_MODE", "strict"),

		EnableV2: getEnvBool("FACILITATOR_ENABLE_V2", true),

		MinFacilitatorFeeUSD: getEnvFloat("MIN_FACILITATOR_FEE_USD", 0.01),
		MinClaimAmountUSDC:   int64(getEnvInt("MIN_CLAIM_AMOUNT_USDC", 1_000_000)),

		CacheTTLTokenVersion: getEnvDuration("CACHE_TTL_TOKEN_VERSION", 3600*time.Second),
		CacheMaxKeys:         getEnvInt("CACHE_MAX_KEYS", 1000),

		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT_MS_DURATION", 30*time.Second),
		RequestBodyLimit: int64(getEnvInt("REQUEST_BODY_LIMIT_BYTES", 1<<20)),

		VerifyTimeout: getEnvDuration("VERIFY_TIMEOUT", 5*time.Second),
		SettleTimeout: getEnvDuration("SETTLE_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func (c *Config) IsDevelopment() bool { return c.Environment == "development" }
func (c *Config) IsProduction() bool  { return c.Environment == "production" }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvMap collects RPC_URL_<network>=<url> style variables into a map
// keyed by the lowercased network suffix.
func getEnvMap(prefix string) map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		network := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		out[network] = parts[1]
	}
	return out
}

// getEnvNestedMap parses BUILTIN_HOOK_ADDRESSES as
// "network1:kind1=addr1|kind2=addr2,network2:kind1=addr3".
func getEnvNestedMap(key string) map[string]map[string]string {
	out := map[string]map[string]string{}
	v := os.Getenv(key)
	if v == "" {
		return out
	}
	for _, group := range strings.Split(v, ",") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		nv := strings.SplitN(group, ":", 2)
		if len(nv) != 2 {
			continue
		}
		network := strings.TrimSpace(nv[0])
		kinds := map[string]string{}
		for _, pair := range strings.Split(nv[1], "|") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				continue
			}
			kinds[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
		out[network] = kinds
	}
	return out
}

// getEnvListMap parses ALLOWED_ROUTERS as "network1:addr1|addr2,network2:addr3".
func getEnvListMap(key string) map[string][]string {
	out := map[string][]string{}
	v := os.Getenv(key)
	if v == "" {
		return out
	}
	for _, group := range strings.Split(v, ",") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		nv := strings.SplitN(group, ":", 2)
		if len(nv) != 2 {
			continue
		}
		network := strings.TrimSpace(nv[0])
		addrs := strings.Split(nv[1], "|")
		for i := range addrs {
			addrs[i] = strings.TrimSpace(addrs[i])
		}
		out[network] = addrs
	}
	return out
}
