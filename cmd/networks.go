package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matrixise/hotwallet-tracker/internal/config"
)

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List supported networks",
	Long:  `List the networks of the registry with their wallet count and a few well-known tokens to try.`,
	RunE:  listNetworks,
}

func init() {
	rootCmd.AddCommand(networksCmd)
}

func listNetworks(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnv(cfgFile)
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("ID", "Name", "Chain", "Wallets", "RPC endpoints", "Examples")
	for _, n := range registry.All() {
		examples := make([]string, 0, len(n.Examples))
		for _, e := range n.Examples {
			examples = append(examples, fmt.Sprintf("%s %s", e.Symbol, e.Address))
		}
		t.Row(n.ID, n.Name, fmt.Sprint(n.ChainID), fmt.Sprint(len(n.Wallets)), fmt.Sprint(len(n.RPCURLs)),
			strings.Join(examples, "\n"))
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), t.String())
	return err
}
