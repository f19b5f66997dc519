package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults from empty file", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, ""))
		require.NoError(t, err)

		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "ETH", cfg.Network)
		assert.Equal(t, "balance", cfg.Sort)
		assert.Equal(t, 5, cfg.Workers)
		assert.Equal(t, 5, cfg.PoolLimit)
		assert.False(t, cfg.IncludePools)
		assert.Equal(t, 8080, cfg.HTTPPort)
		assert.True(t, cfg.ShouldRunImmediately())
		assert.Equal(t, 5*time.Second, cfg.Timeouts.Probe)
		assert.Equal(t, 30*time.Second, cfg.Timeouts.Balance)
		assert.Equal(t, 10*time.Second, cfg.Timeouts.Task)
		assert.Equal(t, 60*time.Second, cfg.Timeouts.Refresh)
		assert.Equal(t, 150*time.Millisecond, cfg.History.Delay)
		assert.Equal(t, 30, cfg.History.Window)
		assert.Equal(t, "https://api.etherscan.io/v2/api", cfg.History.BaseURL)
		assert.Equal(t, "https://api.coingecko.com/api/v3", cfg.CoinGecko.BaseURL)
	})

	t.Run("loads valid TOML config", func(t *testing.T) {
		path := writeConfig(t, `
log_level = "debug"
network = "bsc"
token = "0x55d398326f99059fF775485246999027B3197955"
sort = "usd"
workers = 8
include_pools = true
interval = "5m"

[timeouts]
task = "5s"

[history]
delay = "250ms"

[history.api_keys]
bsc = "bsc-key"
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "BSC", cfg.Network)
		assert.Equal(t, "0x55d398326f99059ff775485246999027b3197955", cfg.Token)
		assert.Equal(t, "usd", cfg.Sort)
		assert.Equal(t, 8, cfg.Workers)
		assert.True(t, cfg.IncludePools)
		assert.Equal(t, "5m", cfg.Interval)
		assert.Equal(t, 5*time.Second, cfg.Timeouts.Task)
		assert.Equal(t, 60*time.Second, cfg.Timeouts.Refresh)
		assert.Equal(t, 250*time.Millisecond, cfg.History.Delay)
		assert.Equal(t, "bsc-key", cfg.History.APIKeys["BSC"])
	})

	t.Run("environment variables override config file", func(t *testing.T) {
		path := writeConfig(t, `
log_level = "info"
workers = 3
`)
		t.Setenv("HOTWALLET_LOG_LEVEL", "debug")
		t.Setenv("HOTWALLET_WORKERS", "7")
		t.Setenv("HOTWALLET_TIMEOUTS_REFRESH", "90s")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 7, cfg.Workers)
		assert.Equal(t, 90*time.Second, cfg.Timeouts.Refresh)
	})

	t.Run("conventional api key variables", func(t *testing.T) {
		t.Setenv("ETHERSCAN_API_KEY", "scan")
		t.Setenv("COINGECKO_API_KEY", "gecko")
		t.Setenv("ONEINCH_API_KEY", "inch")

		cfg, err := Load(writeConfig(t, ""))
		require.NoError(t, err)

		assert.Equal(t, "scan", cfg.History.APIKey)
		assert.Equal(t, "gecko", cfg.CoinGecko.APIKey)
		assert.Equal(t, "inch", cfg.OneInch.APIKey)
	})

	t.Run("prefixed key wins over conventional name", func(t *testing.T) {
		t.Setenv("HOTWALLET_HISTORY_API_KEY", "prefixed")
		t.Setenv("ETHERSCAN_API_KEY", "plain")

		cfg, err := Load(writeConfig(t, ""))
		require.NoError(t, err)
		assert.Equal(t, "prefixed", cfg.History.APIKey)
	})

	t.Run("too many workers are clamped", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "workers = 50\n"))
		require.NoError(t, err)
		assert.Equal(t, MaxWorkers, cfg.Workers)
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		_, err := Load(writeConfig(t, `sort = "alphabetical"`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation")

		_, err = Load(writeConfig(t, `interval = "7m"`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation")

		_, err = Load(writeConfig(t, `token = "0x1234"`))
		require.Error(t, err)
	})

	t.Run("task timeout above refresh timeout", func(t *testing.T) {
		_, err := Load(writeConfig(t, "[timeouts]\ntask = \"2m\"\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "normalization")
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		_, err := Load(writeConfig(t, "workers = [\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config")
	})
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
	})

	t.Run("values reach the loader", func(t *testing.T) {
		envFile := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("HOTWALLET_DOTENV_PROBE=from-dotenv\n"), 0o644))
		t.Setenv("HOTWALLET_DOTENV_PROBE", "")
		require.NoError(t, os.Unsetenv("HOTWALLET_DOTENV_PROBE"))

		require.NoError(t, LoadDotEnv(envFile))
		assert.Equal(t, "from-dotenv", os.Getenv("HOTWALLET_DOTENV_PROBE"))
	})

	t.Run("existing variables are not overridden", func(t *testing.T) {
		envFile := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("HOTWALLET_DOTENV_KEEP=file\n"), 0o644))
		t.Setenv("HOTWALLET_DOTENV_KEEP", "shell")

		require.NoError(t, LoadDotEnv(envFile))
		assert.Equal(t, "shell", os.Getenv("HOTWALLET_DOTENV_KEEP"))
	})
}
