package blockchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeTimeout = 5 * time.Second
	maxSurveyWorkers    = 8
)

// ErrNoLiveEndpoint is returned when every candidate endpoint failed its probe
var ErrNoLiveEndpoint = errors.New("no live RPC endpoint")

// ContractCaller executes read-only contract calls
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainReader is a connected endpoint
type ChainReader interface {
	ContractCaller
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// DialFunc opens a connection to an endpoint
type DialFunc func(ctx context.Context, url string) (ChainReader, error)

func dialEthclient(ctx context.Context, url string) (ChainReader, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Pool picks working endpoints out of a network's candidate list
type Pool struct {
	dial         DialFunc
	shuffle      func([]string)
	probeTimeout time.Duration
	logger       *slog.Logger
}

// PoolOption configures a Pool
type PoolOption func(*Pool)

// WithDialer replaces the ethclient dialer
func WithDialer(dial DialFunc) PoolOption {
	return func(p *Pool) { p.dial = dial }
}

// WithShuffle replaces the random permutation applied to candidate lists
func WithShuffle(shuffle func([]string)) PoolOption {
	return func(p *Pool) { p.shuffle = shuffle }
}

// WithProbeTimeout bounds each liveness probe
func WithProbeTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.probeTimeout = d
		}
	}
}

// WithPoolLogger sets the logger
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// NewPool creates an endpoint pool
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		dial: dialEthclient,
		shuffle: func(urls []string) {
			rand.Shuffle(len(urls), func(i, j int) { urls[i], urls[j] = urls[j], urls[i] })
		},
		probeTimeout: defaultProbeTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Shuffle returns a randomly permuted copy of urls
func (p *Pool) Shuffle(urls []string) []string {
	out := make([]string, len(urls))
	copy(out, urls)
	p.shuffle(out)
	return out
}

// Dial opens a connection without probing it
func (p *Pool) Dial(ctx context.Context, url string) (ChainReader, error) {
	return p.dial(ctx, url)
}

// Probe dials url and checks that it reports a positive block height within timeout
func (p *Pool) Probe(ctx context.Context, url string, timeout time.Duration) (ChainReader, error) {
	if timeout <= 0 {
		timeout = p.probeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := p.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	height, err := client.BlockNumber(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("block number: %w", err)
	}
	if height == 0 {
		client.Close()
		return nil, errors.New("endpoint reports block height 0")
	}
	return client, nil
}

// Resolve makes one pass over a shuffled copy of urls and returns the first
// live endpoint. It does not retry; callers wanting more resilience call it again.
func (p *Pool) Resolve(ctx context.Context, urls []string) (ChainReader, string, error) {
	for _, url := range p.Shuffle(urls) {
		client, err := p.Probe(ctx, url, p.probeTimeout)
		if err != nil {
			p.logger.Debug("RPC endpoint failed probe", "url", url, "error", err)
			continue
		}
		p.logger.Debug("Connected to RPC endpoint", "url", url)
		return client, url, nil
	}
	return nil, "", ErrNoLiveEndpoint
}

// Survey probes every endpoint concurrently and reports how many are live
func (p *Pool) Survey(ctx context.Context, urls []string) int {
	var live atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSurveyWorkers)
	for _, url := range urls {
		g.Go(func() error {
			client, err := p.Probe(gctx, url, p.probeTimeout)
			if err != nil {
				p.logger.Debug("RPC endpoint unhealthy", "url", url, "error", err)
				return nil
			}
			client.Close()
			live.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(live.Load())
}
