package config

// Package config loads the process-wide configuration the same way for every
// entry point: defaults, then config.yaml, then .env, then environment
// variables, then command-line flags. Validation failures here are fatal by
// design: a bad mint or missing RPC endpoint must stop the process before the
// monitor starts.

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Scheduler modes. Proximity is the default: the scheduler keys on the
// absolute SOL distance remaining to the target market cap.
const (
	ModeProximity  = "proximity"
	ModePercentage = "percentage"
)

// Config holds everything the snapshot monitor needs for one run.
type Config struct {
	RPC      RPCConfig      `mapstructure:"rpc"`
	Market   MarketConfig   `mapstructure:"market"`
	Token    TokenConfig    `mapstructure:"token"`
	Target   TargetConfig   `mapstructure:"target"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// RPCConfig tunes the resilient account-data client.
type RPCConfig struct {
	Endpoints        []string `mapstructure:"endpoints"`         // primary first, fallbacks after
	RequestTimeout   int      `mapstructure:"request_timeout"`   // seconds, per network call
	MaxRetries       int      `mapstructure:"max_retries"`       // per endpoint per logical request
	BaseRetryDelayMs int      `mapstructure:"base_retry_delay_ms"`
	MaxRetryDelayMs  int      `mapstructure:"max_retry_delay_ms"` // backoff ceiling
	FailureThreshold int      `mapstructure:"failure_threshold"`  // consecutive failures before the circuit opens
	CircuitCooldown  int      `mapstructure:"circuit_cooldown"`   // seconds the circuit stays open
	RateLimit        float64  `mapstructure:"rate_limit"`         // requests per second
	PageLimit        int      `mapstructure:"page_limit"`         // token accounts per page
}

// MarketConfig points at the bonding/market aggregator used for progress reads.
type MarketConfig struct {
	APIBaseURL     string `mapstructure:"api_base_url"`
	RequestTimeout int    `mapstructure:"request_timeout"` // seconds
}

type TokenConfig struct {
	Mint string `mapstructure:"mint"`
}

// TargetConfig selects the scheduler band table and the finish line.
type TargetConfig struct {
	Mode    string  `mapstructure:"mode"`     // proximity or percentage
	McapSOL float64 `mapstructure:"mcap_sol"` // target market cap in SOL
}

type SnapshotConfig struct {
	Dir              string `mapstructure:"dir"`
	MinTokenAmount   uint64 `mapstructure:"min_token_amount"`  // holders below this are excluded
	BurnedAdjustment uint64 `mapstructure:"burned_adjustment"` // known burned/locked supply added to the observed total
}

// LoadConfig reads configuration in layers:
// 1. defaults
// 2. config.yaml (optional)
// 3. .env file (optional)
// 4. environment variables
// 5. command-line flags
func LoadConfig() (*Config, error) {
	godotenv.Load(".env")

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.ReadInConfig() // optional file, ignore the error

	v.SetConfigType("env")
	v.SetConfigFile(".env")
	v.ReadInConfig() // optional file, ignore the error

	v.AutomaticEnv()

	setupEnvAliases(v)
	setupFlags(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Endpoints can arrive as a YAML list or as comma-separated env values
	// (SOLANA_RPC_URL plus SOLANA_RPC_FALLBACK_URLS).
	cfg.RPC.Endpoints = resolveEndpoints(v)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func resolveEndpoints(v *viper.Viper) []string {
	var endpoints []string

	appendURL := func(raw string) {
		for _, part := range strings.Split(raw, ",") {
			if url := strings.TrimSpace(part); url != "" {
				endpoints = append(endpoints, url)
			}
		}
	}

	switch raw := v.Get("rpc.endpoints").(type) {
	case string:
		appendURL(raw)
	case []string:
		for _, url := range raw {
			appendURL(url)
		}
	case []interface{}:
		for _, item := range raw {
			if url, ok := item.(string); ok {
				appendURL(url)
			}
		}
	}

	if fallbacks := v.GetString("rpc.fallback_urls"); fallbacks != "" {
		appendURL(fallbacks)
	}

	return endpoints
}

func setupEnvAliases(v *viper.Viper) {
	// The .env names match the ones the tool has always used.
	v.BindEnv("rpc.endpoints", "SOLANA_RPC_URL")
	v.BindEnv("rpc.fallback_urls", "SOLANA_RPC_FALLBACK_URLS")
	v.BindEnv("rpc.request_timeout", "RPC_REQUEST_TIMEOUT")
	v.BindEnv("rpc.max_retries", "RPC_MAX_RETRIES")
	v.BindEnv("rpc.rate_limit", "RPC_RATE_LIMIT")

	v.BindEnv("market.api_base_url", "MARKET_API_BASE_URL")

	v.BindEnv("token.mint", "TOKEN_MINT_ADDRESS")

	v.BindEnv("target.mode", "TARGET_MODE")
	v.BindEnv("target.mcap_sol", "TARGET_MCAP_SOL")

	v.BindEnv("snapshot.dir", "SNAPSHOT_DIR")
	v.BindEnv("snapshot.min_token_amount", "MIN_TOKEN_AMOUNT")
	v.BindEnv("snapshot.burned_adjustment", "BURNED_ADJUSTMENT")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc.endpoints", []string{})
	v.SetDefault("rpc.fallback_urls", "")
	v.SetDefault("rpc.request_timeout", 30)
	v.SetDefault("rpc.max_retries", 3)
	v.SetDefault("rpc.base_retry_delay_ms", 2000)
	v.SetDefault("rpc.max_retry_delay_ms", 60000)
	v.SetDefault("rpc.failure_threshold", 3)
	v.SetDefault("rpc.circuit_cooldown", 60)
	v.SetDefault("rpc.rate_limit", 10.0)
	v.SetDefault("rpc.page_limit", 1000)

	v.SetDefault("market.api_base_url", "https://frontend-api.pump.fun")
	v.SetDefault("market.request_timeout", 30)

	v.SetDefault("token.mint", "")

	v.SetDefault("target.mode", ModeProximity)
	v.SetDefault("target.mcap_sol", 500.0)

	v.SetDefault("snapshot.dir", "snapshots")
	v.SetDefault("snapshot.min_token_amount", 0)
	v.SetDefault("snapshot.burned_adjustment", 0)
}

func setupFlags(v *viper.Viper) {
	if pflag.Lookup("token.mint") == nil {
		pflag.String("rpc.endpoints", "", "Comma-separated RPC endpoint URLs, primary first (env: SOLANA_RPC_URL)")
		pflag.Int("rpc.request_timeout", 30, "Per-call RPC timeout in seconds (env: RPC_REQUEST_TIMEOUT)")
		pflag.Int("rpc.max_retries", 3, "Max retries per endpoint per logical request (env: RPC_MAX_RETRIES)")
		pflag.Float64("rpc.rate_limit", 10.0, "RPC requests per second (env: RPC_RATE_LIMIT)")

		pflag.String("market.api_base_url", "https://frontend-api.pump.fun", "Market/bonding aggregator base URL (env: MARKET_API_BASE_URL)")

		pflag.String("token.mint", "", "Token mint address to snapshot (env: TOKEN_MINT_ADDRESS)")

		pflag.String("target.mode", ModeProximity, "Scheduler mode: proximity or percentage (env: TARGET_MODE)")
		pflag.Float64("target.mcap_sol", 500.0, "Target market cap in SOL (env: TARGET_MCAP_SOL)")

		pflag.String("snapshot.dir", "snapshots", "Directory for snapshot artifacts (env: SNAPSHOT_DIR)")
		pflag.Uint64("snapshot.min_token_amount", 0, "Exclude holders below this raw balance (env: MIN_TOKEN_AMOUNT)")
		pflag.Uint64("snapshot.burned_adjustment", 0, "Known burned/locked supply added to the observed total (env: BURNED_ADJUSTMENT)")
	}

	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPC.Endpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required: rpc.endpoints or SOLANA_RPC_URL")
	}

	if err := ValidateAddress(cfg.Token.Mint); err != nil {
		return fmt.Errorf("invalid token.mint: %w", err)
	}

	if cfg.Target.McapSOL <= 0 {
		return fmt.Errorf("target.mcap_sol must be positive, got %f", cfg.Target.McapSOL)
	}

	if cfg.Target.Mode != ModeProximity && cfg.Target.Mode != ModePercentage {
		return fmt.Errorf("target.mode must be %q or %q, got %q", ModeProximity, ModePercentage, cfg.Target.Mode)
	}

	if cfg.Snapshot.Dir == "" {
		return fmt.Errorf("snapshot.dir must not be empty")
	}

	if cfg.RPC.MaxRetries < 1 {
		return fmt.Errorf("rpc.max_retries must be at least 1, got %d", cfg.RPC.MaxRetries)
	}

	return nil
}

// ValidateAddress checks that an address is a well-formed base58 rendering of
// a 32-byte public key.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is empty")
	}

	decoded, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("address is not valid base58: %w", err)
	}

	if len(decoded) != 32 {
		return fmt.Errorf("address must decode to 32 bytes, got %d", len(decoded))
	}

	return nil
}
