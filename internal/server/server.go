// Package server exposes health, metrics and dashboard snapshots over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"github.com/matrixise/hotwallet-tracker/internal/dashboard"
	"github.com/matrixise/hotwallet-tracker/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Refresher runs an on-demand refresh
type Refresher interface {
	Refresh(ctx context.Context, req dashboard.Request) (*dashboard.Snapshot, error)
}

// Latest holds the most recent scheduled snapshot
type Latest struct {
	mu   sync.RWMutex
	snap *dashboard.Snapshot
}

// Store replaces the held snapshot
func (l *Latest) Store(s *dashboard.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = s
}

// Load returns the held snapshot, nil before the first refresh
func (l *Latest) Load() *dashboard.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// Options wires the router
type Options struct {
	Registry  *network.Registry
	Refresher Refresher
	Latest    *Latest
	Health    http.Handler
	Metrics   http.Handler
	// Defaults apply to /api/v1/balances parameters left empty
	DefaultNetwork string
	DefaultSort    dashboard.SortKey
	Logger         *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type networkSummary struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	ChainID  uint64            `json:"chain_id"`
	Wallets  int               `json:"wallets"`
	Explorer string            `json:"explorer"`
	Examples []network.Example `json:"examples,omitempty"`
}

// NewRouter builds the chi router
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Latest == nil {
		opts.Latest = &Latest{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	if opts.Health != nil {
		r.Method(http.MethodGet, "/health", opts.Health)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	h := &handlers{opts: opts}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/networks", h.networks)
		r.Get("/snapshot", h.snapshot)
		r.Get("/balances", h.balances)
	})

	return r
}

type handlers struct {
	opts Options
}

func (h *handlers) networks(w http.ResponseWriter, _ *http.Request) {
	all := h.opts.Registry.All()
	out := make([]networkSummary, 0, len(all))
	for _, n := range all {
		out = append(out, networkSummary{
			ID:       n.ID,
			Name:     n.Name,
			ChainID:  n.ChainID,
			Wallets:  len(n.Wallets),
			Explorer: n.Explorer,
			Examples: n.Examples,
		})
	}
	writeJSON(w, http.StatusOK, out, h.opts.Logger)
}

func (h *handlers) snapshot(w http.ResponseWriter, _ *http.Request) {
	snap := h.opts.Latest.Load()
	if snap == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no snapshot yet"}, h.opts.Logger)
		return
	}
	writeJSON(w, http.StatusOK, snap, h.opts.Logger)
}

func (h *handlers) balances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := dashboard.Request{
		Network: q.Get("network"),
		Token:   q.Get("token"),
		Sort:    h.opts.DefaultSort,
	}
	if req.Network == "" {
		req.Network = h.opts.DefaultNetwork
	}
	if s := q.Get("sort"); s != "" {
		key, err := dashboard.ParseSortKey(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()}, h.opts.Logger)
			return
		}
		req.Sort = key
	}
	if p := q.Get("pools"); p != "" {
		include, err := strconv.ParseBool(p)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid pools flag " + strconv.Quote(p)}, h.opts.Logger)
			return
		}
		req.IncludePools = include
	}

	snap, err := h.opts.Refresher.Refresh(r.Context(), req)
	switch {
	case errors.Is(err, dashboard.ErrUnknownNetwork), errors.Is(err, dashboard.ErrInvalidToken):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()}, h.opts.Logger)
		return
	case err != nil:
		h.opts.Logger.Error("On-demand refresh failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "refresh failed"}, h.opts.Logger)
		return
	}
	writeJSON(w, http.StatusOK, snap, h.opts.Logger)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// requestLogger logs one line per request
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
