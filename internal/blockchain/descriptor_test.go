package blockchain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdt = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

func bytes32(s string) [32]byte {
	var out [32]byte
	copy(out[:], s)
	return out
}

func TestResolverResolve(t *testing.T) {
	tests := []struct {
		name  string
		chain func(t *testing.T) *fakeChain
		want  Descriptor
	}{
		{
			name: "string variant",
			chain: func(t *testing.T) *fakeChain {
				return tokenChain(t, "Tether USD", "USDT", 6, nil)
			},
			want: Descriptor{Name: "Tether USD", Symbol: "USDT", Decimals: 6},
		},
		{
			name: "bytes32 fallback",
			chain: func(t *testing.T) *fakeChain {
				f := newFakeChain()
				f.respond(t, bytes32ABI, "name", bytes32("Maker"))
				f.respond(t, bytes32ABI, "symbol", bytes32("MKR"))
				f.respond(t, stringABI, "decimals", uint8(18))
				return f
			},
			want: Descriptor{Name: "Maker", Symbol: "MKR", Decimals: 18},
		},
		{
			name: "empty name string is unknown",
			chain: func(t *testing.T) *fakeChain {
				return tokenChain(t, "", "TKN", 18, nil)
			},
			want: Descriptor{Name: Unknown, Symbol: "TKN", Decimals: 18},
		},
		{
			name: "padding trimmed on both ends",
			chain: func(t *testing.T) *fakeChain {
				f := newFakeChain()
				f.respond(t, bytes32ABI, "name", bytes32("  Maker "))
				f.respond(t, stringABI, "symbol", " MKR\x00")
				f.respond(t, stringABI, "decimals", uint8(18))
				return f
			},
			want: Descriptor{Name: "Maker", Symbol: "MKR", Decimals: 18},
		},
		{
			name: "control characters rejected",
			chain: func(t *testing.T) *fakeChain {
				f := newFakeChain()
				f.respond(t, bytes32ABI, "name", bytes32("\x01\x02ab"))
				f.respond(t, stringABI, "symbol", "AB")
				f.respond(t, stringABI, "decimals", uint8(18))
				return f
			},
			want: Descriptor{Name: Unknown, Symbol: "AB", Decimals: 18},
		},
		{
			name: "decimals failure keeps default",
			chain: func(t *testing.T) *fakeChain {
				f := newFakeChain()
				f.respond(t, stringABI, "name", "Odd Token")
				f.respond(t, stringABI, "symbol", "ODD")
				return f
			},
			want: Descriptor{Name: "Odd Token", Symbol: "ODD", Decimals: DefaultDecimals},
		},
		{
			name: "symbol only unresolved",
			chain: func(t *testing.T) *fakeChain {
				f := newFakeChain()
				f.respond(t, stringABI, "name", "Half Token")
				f.respond(t, stringABI, "decimals", uint8(8))
				return f
			},
			want: Descriptor{Name: "Half Token", Symbol: Unknown, Decimals: 8},
		},
		{
			name: "everything fails",
			chain: func(t *testing.T) *fakeChain {
				return newFakeChain()
			},
			want: UnknownDescriptor(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(nil, NewPool(), nil)
			got := r.Resolve(context.Background(), tt.chain(t), usdt)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolverCaching(t *testing.T) {
	chain := tokenChain(t, "Tether USD", "USDT", 6, nil)
	r := NewResolver(nil, NewPool(), nil)
	ctx := context.Background()

	first := r.Resolve(ctx, chain, usdt)
	second := r.Resolve(ctx, chain, "0xdac17f958d2ee523a2206206994597c13d831ec7")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, chain.callCount("decimals"))
	assert.Equal(t, 1, r.Cache().Len())

	r.ClearCache()
	assert.Zero(t, r.Cache().Len())

	r.Resolve(ctx, chain, usdt)
	assert.Equal(t, 2, chain.callCount("decimals"))
}

func TestResolverConcurrentMisses(t *testing.T) {
	chain := tokenChain(t, "Tether USD", "USDT", 6, nil)
	r := NewResolver(nil, NewPool(), nil)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := r.Resolve(context.Background(), chain, usdt)
			assert.Equal(t, "USDT", d.Symbol)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, chain.callCount("decimals"))
}

func TestResolveAcross(t *testing.T) {
	t.Run("first endpoint good", func(t *testing.T) {
		good := tokenChain(t, "Tether USD", "USDT", 6, nil)
		pool := NewPool(WithDialer(dialerFor(map[string]*fakeChain{"a": good})), WithShuffle(noShuffle))
		r := NewResolver(nil, pool, nil)

		d := r.ResolveAcross(context.Background(), []string{"a"}, usdt)
		assert.Equal(t, "Tether USD", d.Name)
	})

	t.Run("retries other endpoints on unknown", func(t *testing.T) {
		empty := newFakeChain()
		good := tokenChain(t, "Tether USD", "USDT", 6, nil)
		pool := NewPool(WithDialer(dialerFor(map[string]*fakeChain{"a": empty, "b": good})), WithShuffle(noShuffle))
		r := NewResolver(nil, pool, nil)

		d := r.ResolveAcross(context.Background(), []string{"a", "b"}, usdt)
		assert.Equal(t, Descriptor{Name: "Tether USD", Symbol: "USDT", Decimals: 6}, d)

		cached, ok := r.Cache().Get(usdt)
		require.True(t, ok)
		assert.Equal(t, d, cached)
		assert.Equal(t, 1, good.callCount("decimals"))
		assert.Equal(t, 1, empty.callCount("decimals"), "first endpoint is not asked twice")
	})

	t.Run("empty name on first endpoint", func(t *testing.T) {
		blank := tokenChain(t, "", "TKN", 18, nil)
		good := tokenChain(t, "Token", "TKN", 18, nil)
		pool := NewPool(WithDialer(dialerFor(map[string]*fakeChain{"a": blank, "b": good})), WithShuffle(noShuffle))
		r := NewResolver(nil, pool, nil)

		d := r.ResolveAcross(context.Background(), []string{"a", "b"}, usdt)
		assert.Equal(t, Descriptor{Name: "Token", Symbol: "TKN", Decimals: 18}, d)
		assert.Equal(t, 1, blank.callCount("name"))
	})

	t.Run("exhausted stays unknown and cached", func(t *testing.T) {
		pool := NewPool(WithDialer(dialerFor(map[string]*fakeChain{"a": newFakeChain(), "b": newFakeChain()})), WithShuffle(noShuffle))
		r := NewResolver(nil, pool, nil)

		d := r.ResolveAcross(context.Background(), []string{"a", "b"}, usdt)
		assert.True(t, d.IsUnknown())

		cached, ok := r.Cache().Get(usdt)
		require.True(t, ok)
		assert.Equal(t, UnknownDescriptor(), cached)
	})

	t.Run("no live endpoint", func(t *testing.T) {
		pool := NewPool(WithDialer(func(context.Context, string) (ChainReader, error) {
			return nil, errors.New("refused")
		}))
		r := NewResolver(nil, pool, nil)

		d := r.ResolveAcross(context.Background(), []string{"a", "b"}, usdt)
		assert.Equal(t, UnknownDescriptor(), d)
	})
}

func TestDescriptorIsUnknown(t *testing.T) {
	assert.True(t, UnknownDescriptor().IsUnknown())
	assert.True(t, Descriptor{Name: "X", Symbol: Unknown}.IsUnknown())
	assert.False(t, Descriptor{Name: "X", Symbol: "Y"}.IsUnknown())
}
