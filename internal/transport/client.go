// Package transport issues JSON GET requests to third-party HTTP APIs and
// classifies their failures for the retry layer.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/matrixise/hotwallet-tracker/internal/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultTimeout = 10 * time.Second
	maxBodyLog     = 256
)

// Client wraps a fasthttp client
type Client struct {
	http    *fasthttp.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a client using timeout when the caller's context has no deadline
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http: &fasthttp.Client{
			Name:                "hotwallet-tracker",
			MaxIdleConnDuration: 30 * time.Second,
		},
		timeout: timeout,
		logger:  logger,
	}
}

// GetJSON fetches rawURL with query appended and decodes a 200 response into out.
// Errors are *retry.Error values:
//   - 429 -> RateLimited
//   - 404 -> NotFound
//   - 5xx and network failures -> Transient
//   - any other status or undecodable body -> Fatal
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, headers map[string]string, out any) error {
	body, status, err := c.get(ctx, rawURL, query, headers)
	if err != nil {
		return retry.New(retry.Transient, "GET "+rawURL, err)
	}

	if class, err := classifyStatus(status, body); err != nil {
		return retry.New(class, "GET "+rawURL, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return retry.New(retry.Fatal, "GET "+rawURL, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string, query url.Values, headers map[string]string) ([]byte, int, error) {
	requestURL := rawURL
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		requestURL = rawURL + sep + query.Encode()
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	c.logger.Debug("HTTP request", "url", rawURL)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else {
		err = c.http.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		return nil, 0, err
	}

	// resp is released on return, so the body must be copied
	body := append([]byte(nil), resp.Body()...)
	return body, resp.StatusCode(), nil
}

func classifyStatus(status int, body []byte) (retry.Class, error) {
	if status == fasthttp.StatusOK {
		return retry.Transient, nil
	}

	snippet := string(body)
	if len(snippet) > maxBodyLog {
		snippet = snippet[:maxBodyLog]
	}
	err := fmt.Errorf("unexpected status %d: %s", status, snippet)

	switch {
	case status == fasthttp.StatusTooManyRequests:
		return retry.RateLimited, err
	case status == fasthttp.StatusNotFound:
		return retry.NotFound, err
	case status >= 500:
		return retry.Transient, err
	default:
		return retry.Fatal, err
	}
}
