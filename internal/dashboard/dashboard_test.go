package dashboard

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/hotwallet-tracker/internal/blockchain"
	"github.com/matrixise/hotwallet-tracker/internal/explorer"
	"github.com/matrixise/hotwallet-tracker/internal/market"
	"github.com/matrixise/hotwallet-tracker/internal/metrics"
	"github.com/matrixise/hotwallet-tracker/internal/network"
)

const token = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

var testNet = network.Network{
	ID:       "ETH",
	Name:     "Ethereum",
	ChainID:  1,
	RPCURLs:  []string{"https://a", "https://b"},
	Explorer: "https://etherscan.io",
	Wallets: []network.Wallet{
		{Label: "Alpha Hot", Address: "0x1000000000000000000000000000000000000001"},
		{Label: "Beta Hot", Address: "0x2000000000000000000000000000000000000002"},
		{Label: "Gamma Hot", Address: "0x3000000000000000000000000000000000000003"},
	},
}

type fakeNetworks map[string]network.Network

func (f fakeNetworks) Get(id string) (network.Network, bool) {
	n, ok := f[id]
	return n, ok
}

type fakeDescriptors struct {
	desc    blockchain.Descriptor
	cleared atomic.Int32
}

func (f *fakeDescriptors) ClearCache() { f.cleared.Add(1) }

func (f *fakeDescriptors) ResolveAcross(context.Context, []string, string) blockchain.Descriptor {
	return f.desc
}

// fakeBalances returns canned balances by wallet address. hang makes the
// fetch block until its context ends.
type fakeBalances struct {
	balances map[string]string
	hang     map[string]bool
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeBalances) FetchBalance(ctx context.Context, _ []string, w network.Wallet, _ string) blockchain.BalanceResult {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.hang[w.Address] {
		<-ctx.Done()
		return blockchain.DegradedBalance(w, "timed out: "+ctx.Err().Error())
	}
	v, ok := f.balances[w.Address]
	if !ok {
		return blockchain.DegradedBalance(w, "all endpoints failed")
	}
	time.Sleep(5 * time.Millisecond)
	return blockchain.BalanceResult{Wallet: w, Balance: decimal.RequireFromString(v), Status: blockchain.BalanceOK}
}

type fakeHistory struct {
	mu       sync.Mutex
	byWallet map[string]explorer.Withdrawal
	order    []string
	active   int
	overlap  bool
}

func (f *fakeHistory) LastWithdrawal(_ context.Context, _ network.Network, wallet, _ string, _ uint8) explorer.Withdrawal {
	f.mu.Lock()
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	f.order = append(f.order, wallet)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if w, ok := f.byWallet[wallet]; ok {
		return w
	}
	return explorer.Withdrawal{Status: explorer.StatusError, Error: "boom"}
}

type fakeMarket struct {
	snap       market.Snapshot
	pools      []market.Pool
	poolsErr   error
	poolsCalls int
	gotPools   []market.Pool
}

func (f *fakeMarket) Pools(context.Context, network.Network, string, int) ([]market.Pool, error) {
	f.poolsCalls++
	return f.pools, f.poolsErr
}

func (f *fakeMarket) Snapshot(_ context.Context, _ network.Network, _ string, _ uint8, pools []market.Pool) market.Snapshot {
	f.gotPools = pools
	return f.snap
}

type fixture struct {
	svc      *Service
	desc     *fakeDescriptors
	balances *fakeBalances
	history  *fakeHistory
	market   *fakeMarket
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		desc: &fakeDescriptors{desc: blockchain.Descriptor{Name: "Tether USD", Symbol: "USDT", Decimals: 6}},
		balances: &fakeBalances{balances: map[string]string{
			testNet.Wallets[0].Address: "10",
			testNet.Wallets[1].Address: "0",
			testNet.Wallets[2].Address: "5",
		}},
		history: &fakeHistory{byWallet: map[string]explorer.Withdrawal{}},
		market:  &fakeMarket{snap: market.Snapshot{Price: decimal.RequireFromString("2"), Source: market.SourceCoinGecko}},
	}
	f.svc = NewService(Deps{
		Networks:    fakeNetworks{"ETH": testNet},
		Descriptors: f.desc,
		Balances:    f.balances,
		History:     f.history,
		Market:      f.market,
		Metrics:     metrics.New(),
	}, cfg, nil)
	return f
}

func labels(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Label
	}
	return out
}

func TestRefreshInvalidInput(t *testing.T) {
	f := newFixture(Config{})

	_, err := f.svc.Refresh(context.Background(), Request{Network: "XYZ", Token: token})
	assert.ErrorIs(t, err, ErrUnknownNetwork)

	_, err = f.svc.Refresh(context.Background(), Request{Network: "ETH", Token: "0x1234"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.Zero(t, f.desc.cleared.Load())
}

func TestRefreshOneRowPerWallet(t *testing.T) {
	f := newFixture(Config{Workers: 2})
	delete(f.balances.balances, testNet.Wallets[1].Address)

	snap, err := f.svc.Refresh(context.Background(), Request{Network: "ETH", Token: token})
	require.NoError(t, err)

	require.Len(t, snap.Rows, len(testNet.Wallets))
	seen := map[string]bool{}
	for _, r := range snap.Rows {
		seen[r.Address] = true
		assert.Equal(t, KindCEX, r.Kind)
		require.NotNil(t, r.Withdrawal)
		assert.Equal(t, explorer.StatusError, r.Withdrawal.Status)
	}
	assert.Len(t, seen, len(testNet.Wallets))

	assert.Equal(t, int32(1), f.desc.cleared.Load())
	assert.Equal(t, 1, snap.Totals.Degraded)
	assert.Equal(t, "15", snap.Totals.CEXBalance.String())
	assert.Equal(t, "30", snap.Totals.CEXValue.String())
	assert.Equal(t, "0xdac17f958d2ee523a2206206994597c13d831ec7", snap.Token)
	assert.Equal(t, "https://etherscan.io/token/0xdac17f958d2ee523a2206206994597c13d831ec7?a="+snap.Rows[0].Address, snap.Rows[0].Link)
	assert.LessOrEqual(t, f.balances.peak.Load(), int32(2))
}

func TestRefreshAllEndpointsDown(t *testing.T) {
	f := newFixture(Config{TaskTimeout: 50 * time.Millisecond, RefreshTimeout: 200 * time.Millisecond})
	f.balances.hang = map[string]bool{}
	for _, w := range testNet.Wallets {
		f.balances.hang[w.Address] = true
	}

	start := time.Now()
	snap, err := f.svc.Refresh(context.Background(), Request{Network: "ETH", Token: token})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, snap.Rows, len(testNet.Wallets))
	for _, r := range snap.Rows {
		assert.True(t, r.Balance.IsZero())
		assert.Equal(t, blockchain.BalanceDegraded, r.BalanceStatus)
		assert.Contains(t, r.Reason, "timed out")
	}
	assert.Equal(t, len(testNet.Wallets), snap.Totals.Degraded)
}

func TestRefreshWithdrawalsSequential(t *testing.T) {
	f := newFixture(Config{})
	f.history.byWallet = map[string]explorer.Withdrawal{
		testNet.Wallets[0].Address: {Status: explorer.StatusNoTransactions},
		testNet.Wallets[1].Address: {Status: explorer.StatusNoOutbound, Scanned: 30, Inbound: 30},
	}

	snap, err := f.svc.Refresh(context.Background(), Request{Network: "ETH", Token: token})
	require.NoError(t, err)

	assert.False(t, f.history.overlap)
	assert.Equal(t, []string{testNet.Wallets[0].Address, testNet.Wallets[1].Address, testNet.Wallets[2].Address}, f.history.order)

	byLabel := map[string]Row{}
	for _, r := range snap.Rows {
		byLabel[r.Label] = r
	}
	assert.Equal(t, "no transactions", FormatWithdrawal(byLabel["Alpha Hot"].Withdrawal, "USDT"))
	assert.Equal(t, "no outbound in last 30 (30 inbound)", FormatWithdrawal(byLabel["Beta Hot"].Withdrawal, "USDT"))
	assert.Equal(t, "error: boom", FormatWithdrawal(byLabel["Gamma Hot"].Withdrawal, "USDT"))
}

func TestRefreshUnknownPrice(t *testing.T) {
	f := newFixture(Config{})
	f.market.snap = market.Snapshot{Price: decimal.Zero, Source: market.SourceNone}

	snap, err := f.svc.Refresh(context.Background(), Request{Network: "ETH", Token: token})
	require.NoError(t, err)

	for _, r := range snap.Rows {
		assert.True(t, r.ValueUSD.IsZero())
		assert.Equal(t, market.SourceNone, r.PriceSource)
	}
	assert.Equal(t, "15", snap.Totals.Balance.String())
}

func TestRefreshPools(t *testing.T) {
	t.Run("pool rows appended and totals split", func(t *testing.T) {
		f := newFixture(Config{})
		f.market.pools = []market.Pool{
			{DEX: "UNISWAP", QuoteSymbol: "WETH", PairAddress: "0xpair", LiquidityUSD: 200, TokenSideUSD: 100, PriceUSD: 2, Volume24h: 40},
		}

		snap, err := f.svc.Refresh(context.Background(), Request{Network: "ETH", Token: token, IncludePools: true})
		require.NoError(t, err)

		require.Len(t, snap.Rows, 4)
		assert.Equal(t, f.market.pools, f.market.gotPools)

		var dex Row
		for _, r := range snap.Rows {
			if r.Kind == KindDEX {
				dex = r
			}
		}
		assert.Equal(t, "UNISWAP (WETH pair)", dex.Label)
		assert.Equal(t, "50", dex.Balance.String())
		assert.Equal(t, "100", dex.ValueUSD.String())
		assert.Equal(t, "https://etherscan.io/address/0xpair", dex.Link)
		assert.Equal(t, "50", snap.Totals.DEXBalance.String())
		assert.Equal(t, "65", snap.Totals.Balance.String())
		assert.Equal(t, "130", snap.Totals.Value.String())
		assert.Equal(t, 40.0, snap.Totals.PoolVolume24h)
		assert.Equal(t, []string{"UNISWAP (WETH pair)", "Alpha Hot", "Gamma Hot", "Beta Hot"}, labels(snap.Rows))
	})

	t.Run("pools disabled", func(t *testing.T) {
		f := newFixture(Config{})

		snap, err := f.svc.Refresh(context.Background(), Request{Network: "ETH", Token: token})
		require.NoError(t, err)

		assert.Zero(t, f.market.poolsCalls)
		assert.Len(t, snap.Rows, 3)
	})

	t.Run("pool failure does not fail refresh", func(t *testing.T) {
		f := newFixture(Config{})
		f.market.poolsErr = errors.New("dexscreener down")

		snap, err := f.svc.Refresh(context.Background(), Request{Network: "ETH", Token: token, IncludePools: true})
		require.NoError(t, err)
		assert.Len(t, snap.Rows, 3)
	})
}

func TestComputeTotals(t *testing.T) {
	rows := []Row{
		{Kind: KindCEX, Balance: decimal.NewFromInt(3), ValueUSD: decimal.NewFromInt(6), BalanceStatus: blockchain.BalanceOK},
		{Kind: KindCEX, Balance: decimal.Zero, ValueUSD: decimal.Zero, BalanceStatus: blockchain.BalanceDegraded},
		{Kind: KindDEX, Balance: decimal.NewFromInt(2), ValueUSD: decimal.NewFromInt(4), Volume24h: 1.5},
	}

	tot := ComputeTotals(rows)

	assert.Equal(t, "3", tot.CEXBalance.String())
	assert.Equal(t, "6", tot.CEXValue.String())
	assert.Equal(t, "2", tot.DEXBalance.String())
	assert.Equal(t, "4", tot.DEXValue.String())
	assert.Equal(t, "5", tot.Balance.String())
	assert.Equal(t, "10", tot.Value.String())
	assert.Equal(t, 1.5, tot.PoolVolume24h)
	assert.Equal(t, 1, tot.Degraded)
}

func TestRender(t *testing.T) {
	f := newFixture(Config{})
	snap, err := f.svc.Refresh(context.Background(), Request{Network: "ETH", Token: token, Sort: SortUSD})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, snap))

	out := buf.String()
	assert.Contains(t, out, "Tether USD (USDT) on Ethereum")
	assert.Contains(t, out, "source: CoinGecko")
	assert.Contains(t, out, "Alpha Hot")
	assert.Contains(t, out, "$20.00")
	assert.Contains(t, out, "sorted by usd")
}
