package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matrixise/hotwallet-tracker/internal/blockchain"
	"github.com/matrixise/hotwallet-tracker/internal/config"
	"github.com/matrixise/hotwallet-tracker/internal/dashboard"
	"github.com/matrixise/hotwallet-tracker/internal/explorer"
	"github.com/matrixise/hotwallet-tracker/internal/market"
	"github.com/matrixise/hotwallet-tracker/internal/metrics"
	"github.com/matrixise/hotwallet-tracker/internal/network"
	"github.com/matrixise/hotwallet-tracker/internal/transport"
)

// lookupFlags are shared by the commands that perform a refresh
type lookupFlags struct {
	network string
	token   string
	sort    string
	pools   bool
}

func (f *lookupFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.network, "network", "n", "", "network id (ETH, BSC, ...)")
	cmd.Flags().StringVarP(&f.token, "token", "t", "", "ERC-20 token contract address")
	cmd.Flags().StringVarP(&f.sort, "sort", "s", "", "sort key: balance, usd or withdrawal")
	cmd.Flags().BoolVar(&f.pools, "pools", false, "include DEX liquidity pools")
}

// apply overrides cfg with the flags set on cmd
func (f *lookupFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("network") {
		cfg.Network = strings.ToUpper(strings.TrimSpace(f.network))
	}
	if cmd.Flags().Changed("token") {
		cfg.Token = strings.ToLower(strings.TrimSpace(f.token))
	}
	if cmd.Flags().Changed("sort") {
		key, err := dashboard.ParseSortKey(f.sort)
		if err != nil {
			return err
		}
		cfg.Sort = string(key)
	}
	if cmd.Flags().Changed("pools") {
		cfg.IncludePools = f.pools
	}
	if cfg.Token == "" {
		return errors.New("no token given: pass --token or set token in config")
	}
	return nil
}

func request(cfg *config.Config) dashboard.Request {
	return dashboard.Request{
		Network:      cfg.Network,
		Token:        cfg.Token,
		Sort:         cfg.SortKey(),
		IncludePools: cfg.IncludePools,
	}
}

// app holds the wired components of a refresh
type app struct {
	registry *network.Registry
	pool     *blockchain.Pool
	metrics  *metrics.Recorder
	service  *dashboard.Service
}

func loadRegistry(cfg *config.Config) (*network.Registry, error) {
	if cfg.RegistryFile == "" {
		return network.Default(), nil
	}
	reg, err := network.Load(cfg.RegistryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return reg, nil
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}
	if _, ok := registry.Get(cfg.Network); !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", dashboard.ErrUnknownNetwork, cfg.Network, strings.Join(registry.IDs(), ", "))
	}

	pool := blockchain.NewPool(
		blockchain.WithProbeTimeout(cfg.Timeouts.Probe),
		blockchain.WithPoolLogger(logger.With("component", "rpc")),
	)
	resolver := blockchain.NewResolver(blockchain.NewDescriptorCache(), pool, logger.With("component", "descriptor"))
	balances := blockchain.NewBalanceFetcher(pool, resolver, logger.With("component", "balance"),
		blockchain.WithCallTimeout(cfg.Timeouts.Balance))

	httpClient := transport.NewClient(cfg.Timeouts.HTTP, logger.With("component", "http"))
	history := explorer.NewClient(httpClient, explorer.Options{
		BaseURL: cfg.History.BaseURL,
		APIKey:  cfg.History.APIKey,
		APIKeys: cfg.History.APIKeys,
		Window:  cfg.History.Window,
		Delay:   cfg.History.Delay,
	}, logger.With("component", "history"))
	prices := market.NewClient(httpClient, market.Options{
		CoinGeckoURL:   cfg.CoinGecko.BaseURL,
		CoinGeckoKey:   cfg.CoinGecko.APIKey,
		OneInchURL:     cfg.OneInch.BaseURL,
		OneInchKey:     cfg.OneInch.APIKey,
		DEXScreenerURL: cfg.DEXScreener.BaseURL,
	}, logger.With("component", "market"))

	recorder := metrics.New()
	service := dashboard.NewService(dashboard.Deps{
		Networks:    registry,
		Descriptors: resolver,
		Balances:    balances,
		History:     history,
		Market:      prices,
		Metrics:     recorder,
	}, dashboard.Config{
		Workers:        cfg.Workers,
		PoolLimit:      cfg.PoolLimit,
		TaskTimeout:    cfg.Timeouts.Task,
		RefreshTimeout: cfg.Timeouts.Refresh,
	}, logger)

	return &app{registry: registry, pool: pool, metrics: recorder, service: service}, nil
}
