package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/matrixise/hotwallet-tracker/internal/config"
	"github.com/matrixise/hotwallet-tracker/internal/dashboard"
	"github.com/matrixise/hotwallet-tracker/internal/health"
	"github.com/matrixise/hotwallet-tracker/internal/logger"
	"github.com/matrixise/hotwallet-tracker/internal/scheduler"
	"github.com/matrixise/hotwallet-tracker/internal/server"
)

var (
	runLookup  lookupFlags
	interval   string
	once       bool
	jsonOutput bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Show hot wallet balances for a token",
	Long: `Refresh the dashboard for one token and print it.

Without an interval the dashboard is printed once. With an interval (duration
such as 5m or a cron expression) the tracker runs as a daemon, refreshing on
schedule and serving /health, /metrics and the JSON API over HTTP.`,
	RunE: runTracker,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runLookup.register(runCmd)
	runCmd.Flags().StringVar(&interval, "interval", "", "run interval - duration (5m, 1h) or cron (\"*/5 * * * *\") - empty for one-time run")
	runCmd.Flags().BoolVar(&once, "once", false, "run once and exit (default)")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the snapshot as JSON")
}

func runTracker(cmd *cobra.Command, args []string) error {
	// Setup logger (log-level from global flag)
	logger.Setup(logLevel)

	// Context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithEnv(cfgFile)
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return err
	}
	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		logger.Setup(cfg.LogLevel)
	}
	if err := runLookup.apply(cmd, cfg); err != nil {
		return err
	}

	runInterval := interval
	if runInterval == "" && cfg.Interval != "" {
		runInterval = cfg.Interval
	}

	a, err := newApp(cfg, slog.Default())
	if err != nil {
		slog.Error("Setup failed", "error", err)
		return err
	}

	slog.Info("Configuration loaded",
		"config_path", cfgFile,
		"network", cfg.Network,
		"token", cfg.Token,
		"sort", cfg.SortKey(),
		"pools", cfg.IncludePools,
		"workers", cfg.Workers,
		"interval", runInterval,
	)

	if runInterval == "" || once {
		return runOnce(ctx, cfg, a)
	}
	return runDaemon(ctx, cfg, a, runInterval)
}

func runOnce(ctx context.Context, cfg *config.Config, a *app) error {
	snap, err := a.service.Refresh(ctx, request(cfg))
	if err != nil {
		slog.Error("Refresh failed", "error", err)
		return err
	}
	if jsonOutput {
		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		_, err = fmt.Fprintln(os.Stdout, string(out))
		return err
	}
	return dashboard.Render(os.Stdout, snap)
}

func runDaemon(ctx context.Context, cfg *config.Config, a *app, runInterval string) error {
	slog.Info("Starting daemon mode with scheduler",
		"interval", runInterval,
		"schedule", scheduler.DescribeSchedule(runInterval, cfg.GetTimezone()),
		"timezone", cfg.GetTimezone().String(),
		"run_immediately", cfg.ShouldRunImmediately())

	net, _ := a.registry.Get(cfg.Network)
	latest := &server.Latest{}
	req := request(cfg)

	var healthChecker *health.Checker
	jobFunc := func(jobCtx context.Context) error {
		snap, err := a.service.Refresh(jobCtx, req)
		if err == nil {
			latest.Store(snap)
			slog.Info("Dashboard refreshed",
				"network", snap.Network,
				"symbol", snap.Descriptor.Symbol,
				"rows", len(snap.Rows),
				"degraded", snap.Totals.Degraded,
				"total", snap.Totals.Balance.String(),
				"value_usd", snap.Totals.Value.String(),
				"duration", snap.Duration)
		}
		if healthChecker != nil {
			rows, degraded := 0, 0
			if snap != nil {
				rows, degraded = len(snap.Rows), snap.Totals.Degraded
			}
			healthChecker.UpdateLastRun(err == nil, rows, degraded)
		}
		return err
	}

	sched, err := scheduler.NewScheduler(ctx, scheduler.Config{
		Interval:       runInterval,
		Timezone:       cfg.GetTimezone(),
		RunImmediately: cfg.ShouldRunImmediately(),
		Logger:         slog.Default(),
	}, jobFunc)
	if err != nil {
		slog.Error("Failed to create scheduler", "error", err)
		return fmt.Errorf("scheduler creation failed: %w", err)
	}
	defer sched.Stop()

	expectedInterval, err := sched.GetExpectedInterval()
	if err != nil {
		expectedInterval = 5 * time.Minute
		slog.Warn("Could not determine exact interval, using conservative estimate",
			"interval", expectedInterval)
	}
	healthChecker = health.NewChecker(a.pool, net, expectedInterval)

	httpPort := cfg.HTTPPort
	if httpPort == 0 {
		httpPort = 8080
	}
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", httpPort),
		Handler: server.NewRouter(server.Options{
			Registry:       a.registry,
			Refresher:      a.service,
			Latest:         latest,
			Health:         healthChecker.Handler(),
			Metrics:        a.metrics.Handler(),
			DefaultNetwork: cfg.Network,
			DefaultSort:    cfg.SortKey(),
			Logger:         slog.Default().With("component", "http"),
		}),
		// no write timeout: an on-demand refresh runs the sequential
		// withdrawal phase after the bounded balance phase
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting", "port", httpPort, "endpoints", []string{"/health", "/metrics", "/api/v1"})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	slog.Info("Daemon mode started with clock-aligned scheduling")

	<-ctx.Done()
	slog.Info("Shutdown requested, stopping daemon")
	return nil
}
