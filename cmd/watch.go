package cmd

import (
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matrixise/hotwallet-tracker/internal/config"
	"github.com/matrixise/hotwallet-tracker/internal/logger"
	"github.com/matrixise/hotwallet-tracker/internal/tui"
)

var (
	watchLookup lookupFlags
	watchLogDir string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive dashboard",
	Long: `Open a terminal dashboard for one token. Press b, u or w to sort by balance,
USD value or last withdrawal, r to refresh and q to quit. Logs go to a file
since the terminal is taken by the dashboard.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchLookup.register(watchCmd)
	watchCmd.Flags().StringVar(&watchLogDir, "log-dir", "logs", "directory for the log file")
}

func runWatch(cmd *cobra.Command, args []string) error {
	path, err := logger.SetupFile(logLevel, watchLogDir)
	if err != nil {
		return err
	}
	defer logger.Close()

	cfg, err := config.LoadWithEnv(cfgFile)
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return err
	}
	if err := watchLookup.apply(cmd, cfg); err != nil {
		return err
	}

	a, err := newApp(cfg, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("Starting watch", "network", cfg.Network, "token", cfg.Token, "log_file", path)

	model := tui.NewModel(cmd.Context(), a.service, request(cfg))
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}
