// Package explorer reads token-transfer history from Etherscan-compatible
// APIs and extracts each wallet's most recent outbound transfer.
package explorer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/matrixise/hotwallet-tracker/internal/network"
	"github.com/matrixise/hotwallet-tracker/internal/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultBaseURL = "https://api.etherscan.io/v2/api"
	DefaultWindow  = 30
	DefaultDelay   = 150 * time.Millisecond

	maxAttempts = 4
)

// backoffSchedule is the wait after the 1st, 2nd and 3rd failed attempt
var backoffSchedule = []time.Duration{1500 * time.Millisecond, 2500 * time.Millisecond, 3500 * time.Millisecond}

// Status is the outcome of a history lookup
type Status string

const (
	StatusFound          Status = "found"
	StatusNoTransactions Status = "no_transactions"
	StatusNoOutbound     Status = "no_outbound"
	StatusError          Status = "error"
)

// Withdrawal is the most recent outbound transfer inside the observed window,
// or a marker explaining why there is none.
type Withdrawal struct {
	Status    Status          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	To        string          `json:"to,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	TxHash    string          `json:"tx_hash,omitempty"`
	// Scanned is the number of transfers in the window, Inbound how many of
	// them were received by the wallet. Diagnostic only.
	Scanned int    `json:"scanned"`
	Inbound int    `json:"inbound"`
	Error   string `json:"error,omitempty"`
}

// Found reports whether a withdrawal was located
func (w Withdrawal) Found() bool { return w.Status == StatusFound }

// JSONGetter is the transport used to reach the history API
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, query url.Values, headers map[string]string, out any) error
}

// Options configures a Client
type Options struct {
	BaseURL string
	// APIKey is used for networks without an entry in APIKeys. Empty means anonymous.
	APIKey  string
	APIKeys map[string]string
	Window  int
	// Delay is the minimum spacing between requests
	Delay time.Duration
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client fetches withdrawal history. Calls are expected to be sequential.
type Client struct {
	http    JSONGetter
	baseURL string
	apiKey  string
	apiKeys map[string]string
	window  int
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *slog.Logger
}

// NewClient creates a history client
func NewClient(getter JSONGetter, opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}

	keys := make(map[string]string, len(opts.APIKeys))
	for id, key := range opts.APIKeys {
		keys[strings.ToUpper(id)] = key
	}

	return &Client{
		http:    getter,
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		apiKeys: keys,
		window:  opts.Window,
		limiter: rate.NewLimiter(limit, 1),
		policy: retry.Policy{
			MaxAttempts: maxAttempts,
			Backoff:     retry.Schedule(backoffSchedule...),
			Retryable:   retry.Only(retry.RateLimited, retry.Transient),
			Sleep:       opts.Sleep,
		},
		logger: logger,
	}
}

type apiResponse struct {
	Status  string             `json:"status"`
	Message string             `json:"message"`
	Result  jsoniter.RawMessage `json:"result"`
}

type transfer struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	TokenDecimal string `json:"tokenDecimal"`
	TimeStamp    string `json:"timeStamp"`
	Hash         string `json:"hash"`
}

func (c *Client) keyFor(networkID string) string {
	if key, ok := c.apiKeys[strings.ToUpper(networkID)]; ok && key != "" {
		return key
	}
	return c.apiKey
}

// LastWithdrawal returns the newest transfer of token sent by wallet among the
// most recent window transfers. It never returns an error; failures are
// reported with StatusError.
func (c *Client) LastWithdrawal(ctx context.Context, net network.Network, wallet, token string, decimals uint8) Withdrawal {
	endpoint := c.baseURL
	if net.HistoryAPI != "" {
		endpoint = net.HistoryAPI
	}

	query := url.Values{}
	query.Set("chainid", strconv.FormatUint(net.ChainID, 10))
	query.Set("module", "account")
	query.Set("action", "tokentx")
	query.Set("contractaddress", token)
	query.Set("address", wallet)
	query.Set("page", "1")
	query.Set("offset", strconv.Itoa(c.window))
	query.Set("sort", "desc")
	if key := c.keyFor(net.ID); key != "" {
		query.Set("apikey", key)
	}

	var transfers []transfer
	err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.New(retry.Fatal, "tokentx", err)
		}

		var resp apiResponse
		if err := c.http.GetJSON(ctx, endpoint, query, nil, &resp); err != nil {
			c.logger.Debug("History request failed", "network", net.ID, "wallet", wallet, "attempt", attempt+1, "error", err)
			return err
		}

		got, err := decodeTransfers(resp)
		if err != nil {
			c.logger.Debug("History response rejected", "network", net.ID, "wallet", wallet, "attempt", attempt+1, "error", err)
			return err
		}
		transfers = got
		return nil
	})
	if err != nil {
		c.logger.Warn("Withdrawal history unavailable", "network", net.ID, "wallet", wallet, "error", err)
		return Withdrawal{Status: StatusError, Error: err.Error()}
	}

	return latestOutbound(transfers, wallet, decimals)
}

func decodeTransfers(resp apiResponse) ([]transfer, error) {
	result := bytes.TrimSpace(resp.Result)
	if bytes.Equal(result, []byte("null")) {
		result = nil
	}

	// a 200 without status, message or result is a truncated or proxy-mangled reply
	if resp.Status == "" && resp.Message == "" && len(result) == 0 {
		return nil, retry.New(retry.Transient, "tokentx", errors.New("history API returned an empty response"))
	}

	if len(result) > 0 && result[0] == '[' {
		var transfers []transfer
		if err := json.Unmarshal(result, &transfers); err != nil {
			return nil, retry.New(retry.Fatal, "tokentx", fmt.Errorf("decode transfers: %w", err))
		}
		if resp.Status == "0" && len(transfers) == 0 && !isNoTransactions(resp.Message) {
			return nil, classifyMessage(resp.Message)
		}
		return transfers, nil
	}

	var text string
	if len(result) > 0 {
		_ = json.Unmarshal(result, &text)
	}
	if isNoTransactions(resp.Message) || isNoTransactions(text) {
		return nil, nil
	}
	return nil, classifyMessage(strings.TrimSpace(resp.Message + " " + text))
}

func isNoTransactions(s string) bool {
	return strings.Contains(strings.ToLower(s), "no transactions found")
}

// classifyMessage turns an API-level error text into a retry class
func classifyMessage(msg string) error {
	if msg == "" {
		msg = "no message"
	}
	lower := strings.ToLower(msg)
	err := fmt.Errorf("history API error: %s", msg)
	switch {
	case strings.Contains(lower, "rate limit"):
		return retry.New(retry.RateLimited, "tokentx", err)
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "busy"):
		return retry.New(retry.Transient, "tokentx", err)
	default:
		return retry.New(retry.Fatal, "tokentx", err)
	}
}

func latestOutbound(transfers []transfer, wallet string, fallbackDecimals uint8) Withdrawal {
	if len(transfers) == 0 {
		return Withdrawal{Status: StatusNoTransactions}
	}

	inbound := 0
	for _, tx := range transfers {
		if !strings.EqualFold(tx.From, wallet) {
			if strings.EqualFold(tx.To, wallet) {
				inbound++
			}
			continue
		}

		amount, err := scaleValue(tx.Value, tx.TokenDecimal, fallbackDecimals)
		if err != nil {
			return Withdrawal{Status: StatusError, Error: err.Error(), Scanned: len(transfers)}
		}

		w := Withdrawal{
			Status:  StatusFound,
			Amount:  amount,
			To:      tx.To,
			TxHash:  tx.Hash,
			Scanned: len(transfers),
			Inbound: inbound,
		}
		if sec, err := strconv.ParseInt(tx.TimeStamp, 10, 64); err == nil {
			ts := time.Unix(sec, 0).UTC()
			w.Timestamp = &ts
		}
		return w
	}

	return Withdrawal{Status: StatusNoOutbound, Scanned: len(transfers), Inbound: inbound}
}

func scaleValue(value, tokenDecimal string, fallback uint8) (decimal.Decimal, error) {
	raw, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return decimal.Zero, errors.New("invalid transfer value " + strconv.Quote(value))
	}

	decimals := int64(fallback)
	if d, err := strconv.ParseInt(tokenDecimal, 10, 32); err == nil && d >= 0 {
		decimals = d
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)), nil
}
