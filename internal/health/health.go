package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/patrickmn/go-cache"

	"github.com/matrixise/hotwallet-tracker/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	rpcCheckKey     = "rpc_endpoints"
	rpcCheckTTL     = 30 * time.Second
	rpcCheckTimeout = 8 * time.Second
)

// Surveyor counts live endpoints
type Surveyor interface {
	Survey(ctx context.Context, urls []string) int
}

// Checker reports on the endpoint pool of the watched network and on the
// scheduled refresh loop
type Checker struct {
	surveyor Surveyor
	network  network.Network
	interval time.Duration
	results  *cache.Cache
	now      func() time.Time

	mu             sync.RWMutex
	lastRunTime    time.Time
	lastRunSuccess bool
	lastDegraded   int
	lastRows       int
}

// NewChecker creates a health checker. interval is zero outside daemon mode.
func NewChecker(surveyor Surveyor, net network.Network, interval time.Duration) *Checker {
	return &Checker{
		surveyor: surveyor,
		network:  net,
		interval: interval,
		results:  cache.New(rpcCheckTTL, 0),
		now:      time.Now,
	}
}

// UpdateLastRun records the outcome of a scheduled refresh
func (c *Checker) UpdateLastRun(success bool, rows, degraded int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRunTime = c.now()
	c.lastRunSuccess = success
	c.lastRows = rows
	c.lastDegraded = degraded
}

// CheckStatus represents the health status of a component
type CheckStatus string

const (
	StatusOK       CheckStatus = "ok"
	StatusDegraded CheckStatus = "degraded"
	StatusError    CheckStatus = "error"
)

// HealthResponse is the JSON response structure
type HealthResponse struct {
	Status    CheckStatus            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckDetail `json:"checks"`
	Uptime    string                 `json:"uptime,omitempty"`
}

// CheckDetail contains details about a specific health check
type CheckDetail struct {
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

var startTime = time.Now()

// worse returns the more severe of two statuses
func worse(a, b CheckStatus) CheckStatus {
	rank := map[CheckStatus]int{StatusOK: 0, StatusDegraded: 1, StatusError: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Check performs all health checks and returns the aggregated status
func (c *Checker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]CheckDetail)
	overall := StatusOK

	rpc := c.checkRPC(ctx)
	checks[rpcCheckKey] = rpc
	overall = worse(overall, rpc.Status)

	if c.interval > 0 {
		daemon := c.checkDaemon()
		checks["daemon"] = daemon
		overall = worse(overall, daemon.Status)
	}

	return HealthResponse{
		Status:    overall,
		Timestamp: c.now(),
		Checks:    checks,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
}

// checkRPC surveys the network's endpoints. Results are cached briefly since
// a survey probes every endpoint.
func (c *Checker) checkRPC(ctx context.Context) CheckDetail {
	if v, ok := c.results.Get(rpcCheckKey); ok {
		return v.(CheckDetail)
	}

	ctx, cancel := context.WithTimeout(ctx, rpcCheckTimeout)
	defer cancel()

	total := len(c.network.RPCURLs)
	live := c.surveyor.Survey(ctx, c.network.RPCURLs)

	var d CheckDetail
	switch {
	case live == 0:
		slog.Error("Health check: no live RPC endpoints", "network", c.network.ID, "endpoints", total)
		d = CheckDetail{Status: StatusError, Message: fmt.Sprintf("no live RPC endpoints for %s", c.network.ID)}
	case live < total:
		d = CheckDetail{Status: StatusDegraded, Message: fmt.Sprintf("%d/%d RPC endpoints live for %s", live, total, c.network.ID)}
	default:
		d = CheckDetail{Status: StatusOK, Message: fmt.Sprintf("all %d RPC endpoints live for %s", total, c.network.ID)}
	}

	c.results.SetDefault(rpcCheckKey, d)
	return d
}

// checkDaemon verifies the refresh loop runs on schedule (2x interval grace)
func (c *Checker) checkDaemon() CheckDetail {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastRunTime.IsZero() {
		return CheckDetail{Status: StatusOK, Message: "daemon not yet executed (startup)"}
	}

	if !c.lastRunSuccess {
		return CheckDetail{Status: StatusDegraded, Message: "last refresh failed"}
	}

	since := c.now().Sub(c.lastRunTime)
	if since > c.interval*2 {
		return CheckDetail{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("no refresh in %s (expected every %s)", since.Round(time.Second), c.interval),
		}
	}

	msg := fmt.Sprintf("last refreshed %s ago", since.Round(time.Second))
	if c.lastDegraded > 0 {
		msg += fmt.Sprintf(", %d/%d wallets unreadable", c.lastDegraded, c.lastRows)
	}
	return CheckDetail{Status: StatusOK, Message: msg}
}

// Handler returns an http.HandlerFunc for the health endpoint
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		status := c.Check(r.Context())

		statusCode := http.StatusOK
		if status.Status == StatusError {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Error("Failed to encode health response", "error", err)
		}
	}
}
