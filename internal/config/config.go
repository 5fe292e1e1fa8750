// Package config defines all configuration for the copy-trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"copytrader/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun  bool          `mapstructure:"dry_run"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	API     APIConfig     `mapstructure:"api"`
	Global  GlobalConfig  `mapstructure:"global"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	Control ControlConfig `mapstructure:"control"`
}

// WalletConfig holds the Ethereum wallet used for signing replicated orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys. FunderAddress
// is the proxy/funder wallet that actually holds funds, if different.
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds venue API endpoints and optional pre-derived L2 credentials,
// plus optional builder HMAC credentials attached to every order request.
type APIConfig struct {
	DataBaseURL  string `mapstructure:"data_base_url"`
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSURL        string `mapstructure:"ws_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`

	BuilderKey    string `mapstructure:"builder_key"`
	BuilderSecret string `mapstructure:"builder_secret"`
}

// GlobalConfig mirrors types.GlobalConfig with durations parsed from YAML.
type GlobalConfig struct {
	DefaultTradeSizeUsd float64           `mapstructure:"default_trade_size_usd"`
	PollInterval        time.Duration     `mapstructure:"poll_interval"`
	StopLoss            StopLossConfig    `mapstructure:"stop_loss"`
}

// StopLossConfig caps book commitment before replication is refused.
type StopLossConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	MaxCommitmentPercent float64 `mapstructure:"max_commitment_percent"`
}

// AsTypes converts the YAML-shaped GlobalConfig to the domain type used by
// the policy engine and storage layer.
func (g GlobalConfig) AsTypes() types.GlobalConfig {
	return types.GlobalConfig{
		DefaultTradeSizeUsd: g.DefaultTradeSizeUsd,
		PollIntervalMs:      int(g.PollInterval / time.Millisecond),
		StopLoss: types.StopLossRule{
			Enabled:              g.StopLoss.Enabled,
			MaxCommitmentPercent: g.StopLoss.MaxCommitmentPercent,
		},
	}
}

// StoreConfig sets where tracked wallets, config, and the ledger are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ControlConfig controls the operator-facing HTTP control surface.
type ControlConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY,
// POLY_API_SECRET, POLY_PASSPHRASE, POLY_BUILDER_KEY, POLY_BUILDER_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if key := os.Getenv("POLY_BUILDER_KEY"); key != "" {
		cfg.API.BuilderKey = key
	}
	if secret := os.Getenv("POLY_BUILDER_SECRET"); secret != "" {
		cfg.API.BuilderSecret = secret
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.DataBaseURL == "" {
		return fmt.Errorf("api.data_base_url is required")
	}
	if c.Global.DefaultTradeSizeUsd <= 0 {
		return fmt.Errorf("global.default_trade_size_usd must be > 0")
	}
	if c.Global.PollInterval < time.Second || c.Global.PollInterval > 5*time.Minute {
		return fmt.Errorf("global.poll_interval must be between 1s and 300s")
	}
	if c.Global.StopLoss.Enabled {
		if c.Global.StopLoss.MaxCommitmentPercent <= 0 || c.Global.StopLoss.MaxCommitmentPercent > 100 {
			return fmt.Errorf("global.stop_loss.max_commitment_percent must be in (0, 100]")
		}
	}
	return nil
}
