// Package metrics exposes refresh pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hotwallet"

// Recorder holds the collectors on a private registry. A nil *Recorder
// records nothing.
type Recorder struct {
	registry    *prometheus.Registry
	balances    *prometheus.CounterVec
	withdrawals *prometheus.CounterVec
	prices      *prometheus.CounterVec
	refreshes   *prometheus.HistogramVec
}

// New creates a Recorder with all collectors registered
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		balances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_fetches_total",
			Help:      "Wallet balance fetches by network and outcome.",
		}, []string{"network", "status"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawal_lookups_total",
			Help:      "Withdrawal history lookups by network and outcome.",
		}, []string{"network", "status"}),
		prices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_resolutions_total",
			Help:      "Token price resolutions by provenance.",
		}, []string{"source"}),
		refreshes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a full dashboard refresh.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
		}, []string{"network"}),
	}

	r.registry.MustRegister(
		r.balances,
		r.withdrawals,
		r.prices,
		r.refreshes,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Balance(network, status string) {
	if r == nil {
		return
	}
	r.balances.WithLabelValues(network, status).Inc()
}

func (r *Recorder) Withdrawal(network, status string) {
	if r == nil {
		return
	}
	r.withdrawals.WithLabelValues(network, status).Inc()
}

func (r *Recorder) PriceSource(source string) {
	if r == nil {
		return
	}
	r.prices.WithLabelValues(source).Inc()
}

func (r *Recorder) Refresh(network string, d time.Duration) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(network).Observe(d.Seconds())
}

// Handler serves the registry. A nil Recorder serves an empty registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
