// Package dashboard runs one refresh of the hot-wallet view: it resolves the
// token, prices it, fans balance reads out over the registry, looks up
// withdrawals and assembles sorted rows with totals.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/matrixise/hotwallet-tracker/internal/blockchain"
	"github.com/matrixise/hotwallet-tracker/internal/explorer"
	"github.com/matrixise/hotwallet-tracker/internal/market"
	"github.com/matrixise/hotwallet-tracker/internal/metrics"
	"github.com/matrixise/hotwallet-tracker/internal/network"
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	ErrInvalidToken   = errors.New("invalid token address")
)

const (
	DefaultWorkers        = 5
	DefaultPoolLimit      = 5
	DefaultTaskTimeout    = 10 * time.Second
	DefaultRefreshTimeout = 60 * time.Second

	valuePlaces = 2
)

// Networks looks up network definitions
type Networks interface {
	Get(id string) (network.Network, bool)
}

// Descriptors resolves token descriptors and owns the descriptor cache
type Descriptors interface {
	ClearCache()
	ResolveAcross(ctx context.Context, urls []string, token string) blockchain.Descriptor
}

// Balances reads one wallet balance
type Balances interface {
	FetchBalance(ctx context.Context, urls []string, wallet network.Wallet, token string) blockchain.BalanceResult
}

// History finds a wallet's last withdrawal
type History interface {
	LastWithdrawal(ctx context.Context, net network.Network, wallet, token string, decimals uint8) explorer.Withdrawal
}

// Market prices the token and lists its pools
type Market interface {
	Pools(ctx context.Context, net network.Network, token string, limit int) ([]market.Pool, error)
	Snapshot(ctx context.Context, net network.Network, token string, decimals uint8, pools []market.Pool) market.Snapshot
}

// Config tunes a Service. Zero values fall back to the defaults.
type Config struct {
	Workers        int
	PoolLimit      int
	TaskTimeout    time.Duration
	RefreshTimeout time.Duration
}

// Service performs refreshes. Refreshes are serialized because each one
// starts by clearing the shared descriptor cache.
type Service struct {
	networks    Networks
	descriptors Descriptors
	balances    Balances
	history     History
	market      Market
	metrics     *metrics.Recorder
	cfg         Config
	logger      *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// Deps groups the collaborators of a Service
type Deps struct {
	Networks    Networks
	Descriptors Descriptors
	Balances    Balances
	History     History
	Market      Market
	Metrics     *metrics.Recorder
}

// NewService creates a refresh service
func NewService(deps Deps, cfg Config, logger *slog.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.PoolLimit <= 0 {
		cfg.PoolLimit = DefaultPoolLimit
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		networks:    deps.Networks,
		descriptors: deps.Descriptors,
		balances:    deps.Balances,
		history:     deps.History,
		market:      deps.Market,
		metrics:     deps.Metrics,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Request selects what a refresh looks up
type Request struct {
	Network      string
	Token        string
	Sort         SortKey
	IncludePools bool
}

// Kind tells exchange wallets from DEX pools
type Kind string

const (
	KindCEX Kind = "CEX"
	KindDEX Kind = "DEX"
)

// Row is one line of the dashboard
type Row struct {
	Kind          Kind                     `json:"kind"`
	Label         string                   `json:"label"`
	Address       string                   `json:"address"`
	Balance       decimal.Decimal          `json:"balance"`
	ValueUSD      decimal.Decimal          `json:"value_usd"`
	BalanceStatus blockchain.BalanceStatus `json:"balance_status"`
	Reason        string                   `json:"reason,omitempty"`
	Withdrawal    *explorer.Withdrawal     `json:"withdrawal,omitempty"`
	Volume24h     float64                  `json:"volume_24h,omitempty"`
	Link          string                   `json:"link"`
	PriceSource   string                   `json:"price_source"`
}

// Totals aggregates the rows of a snapshot
type Totals struct {
	CEXBalance    decimal.Decimal `json:"cex_balance"`
	CEXValue      decimal.Decimal `json:"cex_value_usd"`
	DEXBalance    decimal.Decimal `json:"dex_balance"`
	DEXValue      decimal.Decimal `json:"dex_value_usd"`
	Balance       decimal.Decimal `json:"balance"`
	Value         decimal.Decimal `json:"value_usd"`
	PoolVolume24h float64         `json:"pool_volume_24h"`
	Degraded      int             `json:"degraded"`
}

// Snapshot is the result of one refresh
type Snapshot struct {
	Network     string                `json:"network"`
	NetworkName string                `json:"network_name"`
	Token       string                `json:"token"`
	TokenLink   string                `json:"token_link"`
	Descriptor  blockchain.Descriptor `json:"descriptor"`
	Market      market.Snapshot       `json:"market"`
	Sort        SortKey               `json:"sort"`
	Rows        []Row                 `json:"rows"`
	Totals      Totals                `json:"totals"`
	StartedAt   time.Time             `json:"started_at"`
	Duration    time.Duration         `json:"duration"`
}

// Refresh runs the full pipeline. It only fails on invalid input; every
// per-wallet failure degrades the affected row instead.
func (s *Service) Refresh(ctx context.Context, req Request) (*Snapshot, error) {
	net, ok := s.networks.Get(req.Network)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, req.Network)
	}
	if !common.IsHexAddress(req.Token) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, req.Token)
	}
	token := strings.ToLower(req.Token)
	if req.Sort == "" {
		req.Sort = SortBalance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.now()
	s.logger.Info("Refresh started", "network", net.ID, "token", token, "wallets", len(net.Wallets))

	s.descriptors.ClearCache()
	desc := s.descriptors.ResolveAcross(ctx, net.RPCURLs, token)
	s.logger.Info("Token resolved", "name", desc.Name, "symbol", desc.Symbol, "decimals", desc.Decimals)

	var pools []market.Pool
	if req.IncludePools {
		got, err := s.market.Pools(ctx, net, token, s.cfg.PoolLimit)
		if err != nil {
			s.logger.Warn("DEX pools unavailable", "network", net.ID, "error", err)
		}
		pools = got
	}

	snap := s.market.Snapshot(ctx, net, token, desc.Decimals, pools)
	s.metrics.PriceSource(snap.Source)
	s.logger.Info("Price resolved", "price", snap.Price.String(), "source", snap.Source)

	balances := s.fetchBalances(ctx, net, token)
	withdrawals := s.fetchWithdrawals(ctx, net, token, desc.Decimals)

	rows := make([]Row, 0, len(balances)+len(pools))
	for i, b := range balances {
		w := withdrawals[i]
		rows = append(rows, Row{
			Kind:          KindCEX,
			Label:         b.Wallet.Label,
			Address:       b.Wallet.Address,
			Balance:       b.Balance,
			ValueUSD:      valueOf(b.Balance, snap),
			BalanceStatus: b.Status,
			Reason:        b.Reason,
			Withdrawal:    &w,
			Link:          net.TokenURL(token, b.Wallet.Address),
			PriceSource:   snap.Source,
		})
	}
	rows = append(rows, poolRows(net, pools, snap)...)

	SortRows(rows, req.Sort)

	out := &Snapshot{
		Network:     net.ID,
		NetworkName: net.Name,
		Token:       token,
		TokenLink:   net.AddressURL(token),
		Descriptor:  desc,
		Market:      snap,
		Sort:        req.Sort,
		Rows:        rows,
		Totals:      ComputeTotals(rows),
		StartedAt:   started,
		Duration:    s.now().Sub(started),
	}
	s.metrics.Refresh(net.ID, out.Duration)
	s.logger.Info("Refresh completed",
		"network", net.ID,
		"rows", len(rows),
		"degraded", out.Totals.Degraded,
		"duration", out.Duration)
	return out, nil
}

// fetchBalances returns one result per registry wallet, in registry order.
// Slots that do not finish in time keep a degraded placeholder.
func (s *Service) fetchBalances(ctx context.Context, net network.Network, token string) []blockchain.BalanceResult {
	results := make([]blockchain.BalanceResult, len(net.Wallets))
	for i, w := range net.Wallets {
		results[i] = blockchain.DegradedBalance(w, "refresh timed out")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i, w := range net.Wallets {
		g.Go(func() error {
			results[i] = s.runWithTimeout(gctx, net, w, token)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		s.metrics.Balance(net.ID, string(r.Status))
	}
	return results
}

// runWithTimeout bounds one balance task. The fetch keeps running in the
// background past the deadline but its result is discarded.
func (s *Service) runWithTimeout(ctx context.Context, net network.Network, w network.Wallet, token string) blockchain.BalanceResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	done := make(chan blockchain.BalanceResult, 1)
	go func() {
		done <- s.balances.FetchBalance(ctx, net.RPCURLs, w, token)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		s.logger.Warn("Balance task timed out", "wallet", w.Label, "timeout", s.cfg.TaskTimeout)
		return blockchain.DegradedBalance(w, "timed out: "+ctx.Err().Error())
	}
}

// fetchWithdrawals queries history one wallet at a time
func (s *Service) fetchWithdrawals(ctx context.Context, net network.Network, token string, decimals uint8) []explorer.Withdrawal {
	out := make([]explorer.Withdrawal, len(net.Wallets))
	for i, w := range net.Wallets {
		out[i] = s.history.LastWithdrawal(ctx, net, w.Address, token, decimals)
		s.metrics.Withdrawal(net.ID, string(out[i].Status))
	}
	return out
}

func poolRows(net network.Network, pools []market.Pool, snap market.Snapshot) []Row {
	rows := make([]Row, 0, len(pools))
	for _, p := range pools {
		amount := decimal.NewFromFloat(p.TokenAmount()).Round(4)
		rows = append(rows, Row{
			Kind:          KindDEX,
			Label:         p.Label(),
			Address:       p.PairAddress,
			Balance:       amount,
			ValueUSD:      decimal.NewFromFloat(p.TokenSideUSD).Round(valuePlaces),
			BalanceStatus: blockchain.BalanceOK,
			Volume24h:     p.Volume24h,
			Link:          net.AddressURL(p.PairAddress),
			PriceSource:   market.SourceDEXScreener,
		})
	}
	return rows
}

// valueOf is balance * price rounded to cents, zero when the price is unknown
func valueOf(balance decimal.Decimal, snap market.Snapshot) decimal.Decimal {
	if !snap.HasPrice() {
		return decimal.Zero
	}
	return balance.Mul(snap.Price).Round(valuePlaces)
}

// ComputeTotals sums balances and values per row kind
func ComputeTotals(rows []Row) Totals {
	t := Totals{
		CEXBalance: decimal.Zero,
		CEXValue:   decimal.Zero,
		DEXBalance: decimal.Zero,
		DEXValue:   decimal.Zero,
	}
	for _, r := range rows {
		switch r.Kind {
		case KindDEX:
			t.DEXBalance = t.DEXBalance.Add(r.Balance)
			t.DEXValue = t.DEXValue.Add(r.ValueUSD)
			t.PoolVolume24h += r.Volume24h
		default:
			t.CEXBalance = t.CEXBalance.Add(r.Balance)
			t.CEXValue = t.CEXValue.Add(r.ValueUSD)
			if r.BalanceStatus == blockchain.BalanceDegraded {
				t.Degraded++
			}
		}
	}
	t.Balance = t.CEXBalance.Add(t.DEXBalance)
	t.Value = t.CEXValue.Add(t.DEXValue)
	return t
}
