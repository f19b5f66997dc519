package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/matrixise/hotwallet-tracker/internal/explorer"
	"github.com/matrixise/hotwallet-tracker/internal/market"
)

// EnvPrefix namespaces the environment variables read by Load
const EnvPrefix = "HOTWALLET"

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("interval", "") // one-shot
	v.SetDefault("http_port", 8080)
	v.SetDefault("run_immediately", true)
	v.SetDefault("timezone", "UTC")

	v.SetDefault("network", "ETH")
	v.SetDefault("token", "")
	v.SetDefault("sort", "balance")
	v.SetDefault("workers", 5)
	v.SetDefault("include_pools", false)
	v.SetDefault("pool_limit", 5)
	v.SetDefault("registry_file", "")

	v.SetDefault("timeouts.probe", "5s")
	v.SetDefault("timeouts.balance", "30s")
	v.SetDefault("timeouts.task", "10s")
	v.SetDefault("timeouts.refresh", "60s")
	v.SetDefault("timeouts.http", "10s")

	v.SetDefault("history.base_url", explorer.DefaultBaseURL)
	v.SetDefault("history.api_key", "")
	v.SetDefault("history.api_keys", map[string]string{})
	v.SetDefault("history.delay", explorer.DefaultDelay.String())
	v.SetDefault("history.window", explorer.DefaultWindow)

	v.SetDefault("coingecko.base_url", market.DefaultCoinGeckoURL)
	v.SetDefault("coingecko.api_key", "")
	v.SetDefault("oneinch.base_url", market.DefaultOneInchURL)
	v.SetDefault("oneinch.api_key", "")
	v.SetDefault("dexscreener.base_url", market.DefaultDEXScreenerURL)
}

// Load reads configuration from defaults, the config file and environment
// variables, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 1. Defaults
	setDefaults(v)

	// 2. Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	// 3. Environment: HOTWALLET_WORKERS -> workers, HOTWALLET_TIMEOUTS_TASK -> timeouts.task
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys also answer to their conventional names
	_ = v.BindEnv("history.api_key", EnvPrefix+"_HISTORY_API_KEY", "ETHERSCAN_API_KEY")
	_ = v.BindEnv("coingecko.api_key", EnvPrefix+"_COINGECKO_API_KEY", "COINGECKO_API_KEY")
	_ = v.BindEnv("oneinch.api_key", EnvPrefix+"_ONEINCH_API_KEY", "ONEINCH_API_KEY")

	// 4. Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 5. Unmarshal
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 6. Normalize
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("config normalization failed: %w", err)
	}

	// 7. Validate
	if err := NewValidator().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithEnv loads .env first, then the configuration
func LoadWithEnv(configPath string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	return Load(configPath)
}
