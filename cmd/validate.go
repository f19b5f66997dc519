package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matrixise/hotwallet-tracker/internal/config"
	"github.com/matrixise/hotwallet-tracker/internal/dashboard"
	"github.com/matrixise/hotwallet-tracker/internal/logger"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file syntax and values, and the network registry it points to, without running the application.`,
	RunE:  validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	// Setup logger
	logger.Setup(logLevel)

	cfg, err := config.LoadWithEnv(cfgFile)
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return err
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		slog.Error("Registry validation failed", "error", err)
		return err
	}
	net, ok := registry.Get(cfg.Network)
	if !ok {
		slog.Error("Configured network not in registry", "network", cfg.Network, "known", registry.IDs())
		return fmt.Errorf("%w: %q", dashboard.ErrUnknownNetwork, cfg.Network)
	}

	slog.Info("✓ Configuration valid",
		"network", net.ID,
		"wallets", len(net.Wallets),
		"rpc_endpoints", len(net.RPCURLs),
		"token", cfg.Token,
		"sort", cfg.SortKey(),
		"interval", cfg.Interval,
		"log_level", cfg.LogLevel,
		"history_api_key_set", cfg.History.APIKey != "" || len(cfg.History.APIKeys) > 0,
		"coingecko_api_key_set", cfg.CoinGecko.APIKey != "",
		"oneinch_api_key_set", cfg.OneInch.APIKey != "",
	)

	return nil
}
