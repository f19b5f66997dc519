package blockchain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/require"
)

// fakeChain answers contract calls by method selector
type fakeChain struct {
	height    uint64
	heightErr error

	mu        sync.Mutex
	responses map[string][]byte
	errs      map[string]error
	calls     map[string]int
	closed    atomic.Int32
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		height:    19_000_000,
		responses: map[string][]byte{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func selector(method string) string {
	return hex.EncodeToString(stringABI.Methods[method].ID)
}

func (f *fakeChain) respond(t *testing.T, parsed abi.ABI, method string, values ...any) *fakeChain {
	t.Helper()
	out, err := parsed.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	f.responses[selector(method)] = out
	return f
}

func (f *fakeChain) fail(method string, err error) *fakeChain {
	f.errs[selector(method)] = err
	return f
}

func (f *fakeChain) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[selector(method)]
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	sel := hex.EncodeToString(msg.Data[:4])

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[sel]++

	if err, ok := f.errs[sel]; ok {
		return nil, err
	}
	if out, ok := f.responses[sel]; ok {
		return out, nil
	}
	return nil, errors.New("execution reverted")
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	if f.heightErr != nil {
		return 0, f.heightErr
	}
	return f.height, nil
}

func (f *fakeChain) Close() { f.closed.Add(1) }

// tokenChain returns a chain serving a well-formed ERC-20
func tokenChain(t *testing.T, name, symbol string, decimals uint8, balance *big.Int) *fakeChain {
	t.Helper()
	f := newFakeChain()
	f.respond(t, stringABI, "name", name)
	f.respond(t, stringABI, "symbol", symbol)
	f.respond(t, stringABI, "decimals", decimals)
	if balance != nil {
		f.respond(t, stringABI, "balanceOf", balance)
	}
	return f
}

func dialerFor(chains map[string]*fakeChain) DialFunc {
	return func(_ context.Context, url string) (ChainReader, error) {
		c, ok := chains[url]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return c, nil
	}
}

func noShuffle([]string) {}

func reverse(urls []string) {
	for i, j := 0, len(urls)-1; i < j; i, j = i+1, j-1 {
		urls[i], urls[j] = urls[j], urls[i]
	}
}

// limitExceeded is a JSON-RPC error with the throttling code
type limitExceeded struct{}

func (limitExceeded) Error() string  { return "limit exceeded" }
func (limitExceeded) ErrorCode() int { return rpcLimitExceeded }
