package market

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/matrixise/hotwallet-tracker/internal/network"
)

const DefaultDEXScreenerURL = "https://api.dexscreener.com"

// tokenPairsResponse is the /latest/dex/tokens payload
type tokenPairsResponse struct {
	SchemaVersion string     `json:"schemaVersion"`
	Pairs         []PairData `json:"pairs"`
}

// PairData is one trading pair as reported by DEX Screener
type PairData struct {
	ChainID     string        `json:"chainId"`
	DexID       string        `json:"dexId"`
	URL         string        `json:"url"`
	PairAddress string        `json:"pairAddress"`
	BaseToken   DEXToken      `json:"baseToken"`
	QuoteToken  DEXToken      `json:"quoteToken"`
	PriceNative string        `json:"priceNative"`
	PriceUsd    string        `json:"priceUsd"`
	Volume      PairVolume    `json:"volume"`
	Liquidity   *DEXLiquidity `json:"liquidity"`
	Fdv         float64       `json:"fdv"`
	MarketCap   float64       `json:"marketCap"`
}

// DEXToken is one side of a pair
type DEXToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// DEXLiquidity is the pair's pooled value
type DEXLiquidity struct {
	Usd   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// PairVolume is traded volume per period
type PairVolume struct {
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

func (p PairData) liquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.Usd
}

// Pool is a liquidity pool holding the looked-up token
type Pool struct {
	DEX          string  `json:"dex"`
	QuoteSymbol  string  `json:"quote_symbol"`
	PairAddress  string  `json:"pair_address"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	// TokenSideUSD is half the pair liquidity, the share held in the looked-up token
	TokenSideUSD float64 `json:"token_side_usd"`
	PriceUSD     float64 `json:"price_usd"`
	Volume24h    float64 `json:"volume_24h"`
}

// TokenAmount estimates the token units held by the pool
func (p Pool) TokenAmount() float64 {
	if p.PriceUSD <= 0 {
		return 0
	}
	return p.TokenSideUSD / p.PriceUSD
}

// Label is the display name of the pool row
func (p Pool) Label() string {
	quote := p.QuoteSymbol
	if quote == "" {
		quote = "UNKNOWN"
	}
	return fmt.Sprintf("%s (%s pair)", p.DEX, quote)
}

// Pools returns up to limit pairs of token on net, deepest first
func (c *Client) Pools(ctx context.Context, net network.Network, token string, limit int) ([]Pool, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", c.dexScreenerURL, url.PathEscape(token))

	var resp tokenPairsResponse
	if err := c.http.GetJSON(ctx, endpoint, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("dexscreener pairs: %w", err)
	}

	pairs := make([]PairData, 0, len(resp.Pairs))
	for _, p := range resp.Pairs {
		if strings.EqualFold(p.ChainID, net.DEXScreenerChain) {
			pairs = append(pairs, p)
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].liquidityUSD() > pairs[j].liquidityUSD()
	})
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}

	pools := make([]Pool, 0, len(pairs))
	for _, p := range pairs {
		dex := strings.ToUpper(p.DexID)
		if dex == "" {
			dex = "UNKNOWN"
		}
		price, _ := strconv.ParseFloat(p.PriceUsd, 64)
		liq := p.liquidityUSD()
		pools = append(pools, Pool{
			DEX:          dex,
			QuoteSymbol:  p.QuoteToken.Symbol,
			PairAddress:  p.PairAddress,
			LiquidityUSD: liq,
			TokenSideUSD: liq / 2,
			PriceUSD:     price,
			Volume24h:    p.Volume.H24,
		})
	}

	c.logger.Debug("DEX pools retrieved", "network", net.ID, "token", token, "pairs", len(resp.Pairs), "kept", len(pools))
	return pools, nil
}
