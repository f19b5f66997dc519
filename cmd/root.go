package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hotwallet-tracker",
	Short: "Exchange hot wallet token balance dashboard",
	Long: `hotwallet-tracker shows how much of an ERC-20 token the known exchange hot
wallets of a network hold, what it is worth in USD and when each wallet last
sent it out. Optionally the token's main DEX liquidity pools are listed too.
Everything is read-only: public RPC endpoints, an Etherscan-compatible history
API and public price services.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
