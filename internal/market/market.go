// Package market resolves USD prices and market figures for a token, falling
// back from CoinGecko to DEX quotes.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/matrixise/hotwallet-tracker/internal/network"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	DefaultOneInchURL   = "https://api.1inch.dev/swap/v6.0"
)

// Provenance labels
const (
	SourceCoinGecko       = "CoinGecko"
	SourceCoinGeckoSimple = "CoinGecko (simple)"
	SourceOneInch         = "1inch (DEX)"
	SourceDEXScreener     = "DexScreener"
	SourceNone            = "none"
)

// Snapshot holds the market figures of a token. A zero Price means unknown.
type Snapshot struct {
	Price             decimal.Decimal `json:"price"`
	MarketCap         float64         `json:"market_cap"`
	FDV               float64         `json:"fdv"`
	Volume24h         float64         `json:"volume_24h"`
	Change24h         float64         `json:"change_24h"`
	CirculatingSupply float64         `json:"circulating_supply"`
	TotalSupply       float64         `json:"total_supply"`
	Source            string          `json:"source"`
}

// HasPrice reports whether any tier produced a positive price
func (s Snapshot) HasPrice() bool {
	return s.Price.IsPositive()
}

// JSONGetter is the transport used to reach the price services
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, query url.Values, headers map[string]string, out any) error
}

// Options configures a Client
type Options struct {
	CoinGeckoURL   string
	CoinGeckoKey   string
	OneInchURL     string
	OneInchKey     string
	DEXScreenerURL string
}

// Client queries the price services
type Client struct {
	http           JSONGetter
	coinGeckoURL   string
	coinGeckoKey   string
	oneInchURL     string
	oneInchKey     string
	dexScreenerURL string
	logger         *slog.Logger
}

// NewClient creates a market client
func NewClient(getter JSONGetter, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:           getter,
		coinGeckoURL:   strings.TrimRight(orDefault(opts.CoinGeckoURL, DefaultCoinGeckoURL), "/"),
		coinGeckoKey:   opts.CoinGeckoKey,
		oneInchURL:     strings.TrimRight(orDefault(opts.OneInchURL, DefaultOneInchURL), "/"),
		oneInchKey:     opts.OneInchKey,
		dexScreenerURL: strings.TrimRight(orDefault(opts.DEXScreenerURL, DefaultDEXScreenerURL), "/"),
		logger:         logger,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Snapshot resolves market data for token. Tiers are tried in order:
//  1. CoinGecko contract endpoint
//  2. CoinGecko simple price, when tier 1 failed or had no price
//  3. 1inch quote against the network stablecoin
//  4. the deepest of pools, if any were supplied
//
// When nothing yields a price the snapshot has Price 0 and Source "none".
func (c *Client) Snapshot(ctx context.Context, net network.Network, token string, decimals uint8, pools []Pool) Snapshot {
	snap := Snapshot{Source: SourceNone}
	addr := strings.ToLower(token)

	detailed, err := c.coinGeckoContract(ctx, net.CoinGeckoPlatform, addr)
	if err != nil {
		c.logger.Debug("CoinGecko market data unavailable", "network", net.ID, "token", addr, "error", err)
	} else {
		snap = detailed
		if snap.HasPrice() {
			snap.Source = SourceCoinGecko
			return snap
		}
	}

	simple, err := c.coinGeckoSimple(ctx, net.CoinGeckoPlatform, addr)
	if err != nil {
		c.logger.Debug("CoinGecko simple price unavailable", "network", net.ID, "token", addr, "error", err)
	} else {
		mergeMissing(&snap, simple)
		if simple.HasPrice() {
			snap.Price = simple.Price
			snap.Source = SourceCoinGeckoSimple
			return snap
		}
	}

	if price, err := c.oneInchQuote(ctx, net, addr, decimals); err != nil {
		c.logger.Debug("1inch quote unavailable", "network", net.ID, "token", addr, "error", err)
	} else if price.IsPositive() {
		snap.Price = price
		snap.Source = SourceOneInch
		return snap
	}

	if len(pools) > 0 && pools[0].PriceUSD > 0 {
		snap.Price = decimal.NewFromFloat(pools[0].PriceUSD)
		snap.Source = SourceDEXScreener
		return snap
	}

	snap.Price = decimal.Zero
	snap.Source = SourceNone
	c.logger.Warn("No price source available for token", "network", net.ID, "token", addr)
	return snap
}

func mergeMissing(dst *Snapshot, src Snapshot) {
	if dst.MarketCap == 0 {
		dst.MarketCap = src.MarketCap
	}
	if dst.Volume24h == 0 {
		dst.Volume24h = src.Volume24h
	}
	if dst.Change24h == 0 {
		dst.Change24h = src.Change24h
	}
}

func (c *Client) coinGeckoHeaders() map[string]string {
	if c.coinGeckoKey == "" {
		return nil
	}
	return map[string]string{"x-cg-demo-api-key": c.coinGeckoKey}
}

type usdValue struct {
	USD float64 `json:"usd"`
}

type contractResponse struct {
	MarketData struct {
		CurrentPrice             usdValue `json:"current_price"`
		MarketCap                usdValue `json:"market_cap"`
		FullyDilutedValuation    usdValue `json:"fully_diluted_valuation"`
		TotalVolume              usdValue `json:"total_volume"`
		PriceChangePercentage24h float64  `json:"price_change_percentage_24h"`
		CirculatingSupply        float64  `json:"circulating_supply"`
		TotalSupply              float64  `json:"total_supply"`
	} `json:"market_data"`
}

func (c *Client) coinGeckoContract(ctx context.Context, platform, addr string) (Snapshot, error) {
	endpoint := fmt.Sprintf("%s/coins/%s/contract/%s", c.coinGeckoURL, url.PathEscape(platform), url.PathEscape(addr))

	var resp contractResponse
	if err := c.http.GetJSON(ctx, endpoint, nil, c.coinGeckoHeaders(), &resp); err != nil {
		return Snapshot{}, err
	}

	md := resp.MarketData
	return Snapshot{
		Price:             decimal.NewFromFloat(md.CurrentPrice.USD),
		MarketCap:         md.MarketCap.USD,
		FDV:               md.FullyDilutedValuation.USD,
		Volume24h:         md.TotalVolume.USD,
		Change24h:         md.PriceChangePercentage24h,
		CirculatingSupply: md.CirculatingSupply,
		TotalSupply:       md.TotalSupply,
	}, nil
}

type simplePrice struct {
	USD       float64 `json:"usd"`
	MarketCap float64 `json:"usd_market_cap"`
	Volume24h float64 `json:"usd_24h_vol"`
	Change24h float64 `json:"usd_24h_change"`
}

func (c *Client) coinGeckoSimple(ctx context.Context, platform, addr string) (Snapshot, error) {
	endpoint := fmt.Sprintf("%s/simple/token_price/%s", c.coinGeckoURL, url.PathEscape(platform))
	query := url.Values{}
	query.Set("contract_addresses", addr)
	query.Set("vs_currencies", "usd")
	query.Set("include_market_cap", "true")
	query.Set("include_24hr_vol", "true")
	query.Set("include_24hr_change", "true")

	var resp map[string]simplePrice
	if err := c.http.GetJSON(ctx, endpoint, query, c.coinGeckoHeaders(), &resp); err != nil {
		return Snapshot{}, err
	}

	p, ok := resp[addr]
	if !ok {
		return Snapshot{}, fmt.Errorf("token %s missing from simple price response", addr)
	}
	return Snapshot{
		Price:     decimal.NewFromFloat(p.USD),
		MarketCap: p.MarketCap,
		Volume24h: p.Volume24h,
		Change24h: p.Change24h,
	}, nil
}

type quoteResponse struct {
	DstAmount     string `json:"dstAmount"`
	ToAmount      string `json:"toAmount"`
	ToTokenAmount string `json:"toTokenAmount"`
}

func (q quoteResponse) amount() string {
	for _, v := range []string{q.DstAmount, q.ToAmount, q.ToTokenAmount} {
		if v != "" {
			return v
		}
	}
	return ""
}

// oneInchQuote prices one whole token in the network stablecoin
func (c *Client) oneInchQuote(ctx context.Context, net network.Network, addr string, decimals uint8) (decimal.Decimal, error) {
	if net.Stablecoin.Address == "" {
		return decimal.Zero, fmt.Errorf("network %s has no stablecoin reference", net.ID)
	}

	endpoint := fmt.Sprintf("%s/%d/quote", c.oneInchURL, net.ChainID)
	oneToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	query := url.Values{}
	query.Set("src", addr)
	query.Set("dst", strings.ToLower(net.Stablecoin.Address))
	query.Set("amount", oneToken.String())

	var headers map[string]string
	if c.oneInchKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + c.oneInchKey}
	}

	var resp quoteResponse
	if err := c.http.GetJSON(ctx, endpoint, query, headers, &resp); err != nil {
		return decimal.Zero, err
	}

	raw, ok := new(big.Int).SetString(resp.amount(), 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid quote amount %s", strconv.Quote(resp.amount()))
	}
	return decimal.NewFromBigInt(raw, -int32(net.Stablecoin.Decimals)), nil
}
