// Package blockchain reads ERC-20 state from public RPC endpoints with
// endpoint rotation and failover.
package blockchain

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/hotwallet-tracker/internal/network"
	"github.com/matrixise/hotwallet-tracker/internal/retry"
)

const (
	defaultBalanceTimeout = 30 * time.Second
	rateLimitBackoff      = 1 * time.Second
	errorBackoff          = 300 * time.Millisecond
	balancePlaces         = 4
)

// BalanceStatus tells a real balance from a placeholder
type BalanceStatus string

const (
	BalanceOK       BalanceStatus = "ok"
	BalanceDegraded BalanceStatus = "degraded"
)

// BalanceResult is the balance of one registry wallet. A degraded result
// carries a zero balance and the reason the fetch failed.
type BalanceResult struct {
	Wallet   network.Wallet  `json:"wallet"`
	Balance  decimal.Decimal `json:"balance"`
	Status   BalanceStatus   `json:"status"`
	Reason   string          `json:"reason,omitempty"`
	Endpoint string          `json:"endpoint,omitempty"`
}

// Degraded reports whether the balance is a placeholder
func (r BalanceResult) Degraded() bool {
	return r.Status == BalanceDegraded
}

// DegradedBalance builds a zero placeholder for wallet
func DegradedBalance(wallet network.Wallet, reason string) BalanceResult {
	return BalanceResult{
		Wallet:  wallet,
		Balance: decimal.Zero,
		Status:  BalanceDegraded,
		Reason:  reason,
	}
}

// BalanceFetcher reads wallet balances, rotating through a network's endpoints
type BalanceFetcher struct {
	pool     *Pool
	resolver *Resolver
	timeout  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// BalanceOption configures a BalanceFetcher
type BalanceOption func(*BalanceFetcher)

// WithCallTimeout bounds each per-endpoint attempt
func WithCallTimeout(d time.Duration) BalanceOption {
	return func(f *BalanceFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithBackoffSleep replaces the sleep between endpoint attempts
func WithBackoffSleep(sleep func(ctx context.Context, d time.Duration) error) BalanceOption {
	return func(f *BalanceFetcher) { f.sleep = sleep }
}

// NewBalanceFetcher creates a fetcher sharing resolver's descriptor cache
func NewBalanceFetcher(pool *Pool, resolver *Resolver, logger *slog.Logger, opts ...BalanceOption) *BalanceFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &BalanceFetcher{
		pool:     pool,
		resolver: resolver,
		timeout:  defaultBalanceTimeout,
		sleep:    retry.Sleep,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchBalance tries each endpoint of a shuffled copy of urls once. It never
// fails: when every endpoint fails the result is a degraded zero.
func (f *BalanceFetcher) FetchBalance(ctx context.Context, urls []string, wallet network.Wallet, token string) BalanceResult {
	candidates := f.pool.Shuffle(urls)
	if len(candidates) == 0 {
		return DegradedBalance(wallet, "no RPC endpoints configured")
	}

	var (
		raw      *big.Int
		desc     Descriptor
		endpoint string
	)

	policy := retry.Policy{
		MaxAttempts: len(candidates),
		Backoff:     retry.ByClass(rateLimitBackoff, errorBackoff),
		Retryable:   func(retry.Class) bool { return true },
		Sleep:       f.sleep,
	}

	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		url := candidates[attempt]

		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		client, err := f.pool.Dial(callCtx, url)
		if err != nil {
			return retry.New(retry.Transient, "dial "+url, err)
		}
		defer client.Close()

		desc = f.resolver.Resolve(callCtx, client, token)

		balance, err := BalanceOf(callCtx, client, token, wallet.Address)
		if err != nil {
			f.logger.Debug("Balance query failed", "wallet", wallet.Label, "url", url, "class", retry.ClassOf(err), "error", err)
			return err
		}

		raw = balance
		endpoint = url
		return nil
	})
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			reason = "timed out: " + reason
		}
		f.logger.Warn("All RPC endpoints failed for wallet, using zero balance",
			"wallet", wallet.Label,
			"address", wallet.Address,
			"endpoints", len(candidates),
			"error", err)
		return DegradedBalance(wallet, reason)
	}

	return BalanceResult{
		Wallet:   wallet,
		Balance:  ScaleBalance(raw, desc.Decimals),
		Status:   BalanceOK,
		Endpoint: endpoint,
	}
}

// ScaleBalance converts a raw integer balance to token units rounded to 4 places
func ScaleBalance(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).Round(balancePlaces)
}
